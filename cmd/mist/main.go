// Copyright 2024 The Mist Authors
// This file is part of Mist.

// mist is the command-line client for Mist stealth payments.
package main

import (
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/vaniiiii/mist/accounts/keystore"
	"github.com/vaniiiii/mist/backup"
	"github.com/vaniiiii/mist/config"
	"github.com/vaniiiii/mist/core/rawdb"
	"github.com/vaniiiii/mist/params"
)

var (
	// Git SHA1 commit hash of the release (set via linker flags)
	gitCommit = ""
	gitDate   = ""
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "JSON configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the key store and scan state",
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "Named deployment (sepolia, dev)",
	}
	ledgerFlag = &cli.StringFlag{
		Name:  "ledger",
		Usage: "Ledger node endpoint",
	}
	registryFlag = &cli.StringFlag{
		Name:  "registry",
		Usage: "Meta-address registry contract address",
	}
	paymentFlag = &cli.StringFlag{
		Name:  "payment",
		Usage: "Stealth payment contract address",
	}
	passwordFlag = &cli.StringFlag{
		Name:    "password",
		Usage:   "Passphrase protecting the stored private keys",
		EnvVars: []string{"MIST_PASSWORD"},
	}
	lightKDFFlag = &cli.BoolFlag{
		Name:  "lightkdf",
		Usage: "Reduce key-derivation RAM & CPU usage at some expense of KDF strength",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "Log level (trace, debug, info, warn, error, crit)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log.format",
		Usage: "Log format (text, json)",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a file instead of stderr",
	}

	// Ledger account flags
	keyFlag = &cli.StringFlag{
		Name:    "key",
		Usage:   "Hex private key of the ledger account",
		EnvVars: []string{"MIST_KEY"},
	}
	keyFileFlag = &cli.StringFlag{
		Name:  "keyfile",
		Usage: "File holding the hex private key of the ledger account",
	}
)

const (
	configKey    = "config"
	logCloserKey = "logCloser"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "mist",
		Usage:                "the Mist stealth payment client",
		Version:              params.VersionWithMeta,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			networkFlag,
			ledgerFlag,
			registryFlag,
			paymentFlag,
			passwordFlag,
			lightKDFFlag,
			logLevelFlag,
			logFormatFlag,
			logFileFlag,
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			versionCommand,
			keysCommand,
			metaCommand,
			addressCommand,
			registerCommand,
			sendCommand,
			scanCommand,
			recoverCommand,
			serveCommand,
			backupCommand,
		},
	}
}

// setup loads the configuration and installs the logger
func setup(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	closer, err := cfg.SetupLogging()
	if err != nil {
		return fmt.Errorf("failed to set up logging: %v", err)
	}
	if ctx.App.Metadata == nil {
		ctx.App.Metadata = make(map[string]interface{})
	}
	ctx.App.Metadata[configKey] = cfg
	ctx.App.Metadata[logCloserKey] = closer
	return nil
}

// teardown closes the log file opened by setup
func teardown(ctx *cli.Context) error {
	if closer, ok := ctx.App.Metadata[logCloserKey].(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// makeConfig merges defaults, the config file and command line flags
func makeConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if ctx.IsSet(networkFlag.Name) {
		if err := cfg.ApplyPreset(ctx.String(networkFlag.Name)); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(ledgerFlag.Name) {
		cfg.Network.URL = ctx.String(ledgerFlag.Name)
	}
	for _, f := range []struct {
		flag *cli.StringFlag
		dst  *common.Address
	}{
		{registryFlag, &cfg.Network.Registry},
		{paymentFlag, &cfg.Network.Payment},
	} {
		if !ctx.IsSet(f.flag.Name) {
			continue
		}
		value := ctx.String(f.flag.Name)
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("invalid --%s address %q", f.flag.Name, value)
		}
		*f.dst = common.HexToAddress(value)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Database.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(lightKDFFlag.Name) {
		cfg.Database.LightKDF = ctx.Bool(lightKDFFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.Logging.Level = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(logFormatFlag.Name) {
		cfg.Logging.Format = ctx.String(logFormatFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Logging.File = ctx.String(logFileFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.App.Metadata[configKey].(*config.Config)
}

// openDatabase opens the client database inside the data directory
func openDatabase(cfg *config.Config) (*rawdb.Database, error) {
	dir, err := cfg.GetDataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	db, err := rawdb.NewDatabase(filepath.Join(dir, backup.DatabaseDir), cfg.Database.Cache, cfg.Database.Handles)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	return db, nil
}

// openStore returns the key material store of the database
func openStore(ctx *cli.Context, cfg *config.Config, db *rawdb.Database) *keystore.Store {
	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if cfg.Database.LightKDF {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	return keystore.NewStore(db, ctx.String(passwordFlag.Name), scryptN, scryptP)
}

// accountKey loads the ledger account key from --key or --keyfile
func accountKey(ctx *cli.Context) (*ecdsa.PrivateKey, error) {
	var raw string
	switch {
	case ctx.IsSet(keyFlag.Name):
		raw = ctx.String(keyFlag.Name)
	case ctx.IsSet(keyFileFlag.Name):
		content, err := os.ReadFile(ctx.String(keyFileFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %v", err)
		}
		raw = string(content)
	default:
		return nil, fmt.Errorf("a ledger account key is required (--%s or --%s)", keyFlag.Name, keyFileFlag.Name)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid account key: %v", err)
	}
	return key, nil
}

// versionCommand prints version information
var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version numbers",
	Action: func(ctx *cli.Context) error {
		printVersion(ctx.App.Writer)
		return nil
	},
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "Mist")
	fmt.Fprintln(w, "Version:", params.VersionWithMeta)
	if gitCommit != "" {
		fmt.Fprintln(w, "Git Commit:", gitCommit)
	}
	if gitDate != "" {
		fmt.Fprintln(w, "Git Commit Date:", gitDate)
	}
	fmt.Fprintln(w, "Scheme ID:", params.SchemeID)
	fmt.Fprintln(w, "Architecture:", runtime.GOARCH)
	fmt.Fprintln(w, "Go Version:", runtime.Version())
	fmt.Fprintln(w, "Operating System:", runtime.GOOS)
}
