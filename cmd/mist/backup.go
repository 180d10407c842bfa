// Copyright 2024 The Mist Authors
// This file is part of Mist.

package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vaniiiii/mist/backup"
)

var keepBackupsFlag = &cli.IntFlag{
	Name:  "keep",
	Usage: "Number of archives to keep (0 keeps all)",
	Value: 5,
}

// backupCommand archives and restores the client database
var backupCommand = &cli.Command{
	Name:  "backup",
	Usage: "Archive or restore the key material and scan state",
	Subcommands: []*cli.Command{
		{
			Name:      "create",
			Usage:     "Archive the database",
			ArgsUsage: "[name]",
			Flags:     []cli.Flag{keepBackupsFlag},
			Action:    backupCreate,
		},
		{
			Name:   "list",
			Usage:  "List the archives",
			Action: backupList,
		},
		{
			Name:      "restore",
			Usage:     "Restore the database from an archive",
			ArgsUsage: "<archive>",
			Action:    backupRestore,
		},
	},
}

func backupManager(ctx *cli.Context) (*backup.Manager, error) {
	dir, err := getConfig(ctx).GetDataDir()
	if err != nil {
		return nil, err
	}
	return backup.New(dir, ctx.Int(keepBackupsFlag.Name)), nil
}

func backupCreate(ctx *cli.Context) error {
	m, err := backupManager(ctx)
	if err != nil {
		return err
	}
	path, err := m.Create(ctx.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "Backup written to", path)
	return nil
}

func backupList(ctx *cli.Context) error {
	m, err := backupManager(ctx)
	if err != nil {
		return err
	}
	files, err := m.List()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(ctx.App.Writer, "No backups in", m.Dir())
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(ctx.App.Writer, "%s  %8d  %s\n", f.ModTime().Format("2006-01-02 15:04:05"), f.Size(), f.Name())
	}
	return nil
}

func backupRestore(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return fmt.Errorf("must provide an archive")
	}
	m, err := backupManager(ctx)
	if err != nil {
		return err
	}
	if err := m.Restore(path); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "Database restored from", path)
	return nil
}
