// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package backup archives the client data directory: the encrypted key
// material and the scan state of every identity.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// DatabaseDir is the directory name of the client database inside
	// the data directory
	DatabaseDir = "mistdata"

	archiveExt = ".tar.gz"
)

var (
	// ErrDatabaseExists is returned when a restore would overwrite an
	// existing database
	ErrDatabaseExists = errors.New("database already exists")

	// ErrInvalidEntry is returned for archive entries escaping the
	// data directory
	ErrInvalidEntry = errors.New("invalid archive entry")
)

// Manager creates and restores archives of the data directory. The
// database must not be open while an archive is created or restored.
type Manager struct {
	dataDir    string
	backupDir  string
	maxBackups int
}

// New creates a backup manager keeping at most maxBackups archives
// under dataDir/backups. A non-positive maxBackups keeps all of them.
func New(dataDir string, maxBackups int) *Manager {
	return &Manager{
		dataDir:    dataDir,
		backupDir:  filepath.Join(dataDir, "backups"),
		maxBackups: maxBackups,
	}
}

// Dir returns the directory holding the archives
func (m *Manager) Dir() string {
	return m.backupDir
}

// Create archives the database and returns the archive path
func (m *Manager) Create(name string) (string, error) {
	src := filepath.Join(m.dataDir, DatabaseDir)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("nothing to back up: %w", err)
	}
	if err := os.MkdirAll(m.backupDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	if name == "" {
		name = fmt.Sprintf("mist-%s", time.Now().UTC().Format("2006-01-02-150405"))
	}
	name = strings.TrimSuffix(filepath.Base(name), archiveExt)
	path := filepath.Join(m.backupDir, name+archiveExt)

	log.Info("Creating backup", "path", path)
	if err := m.write(path, src); err != nil {
		os.Remove(path)
		return "", err
	}
	log.Info("Backup completed", "path", path)

	if err := m.prune(); err != nil {
		log.Warn("Failed to prune old backups", "err", err)
	}
	return path, nil
}

func (m *Manager) write(path, src string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	if err := archiveDirectory(tw, src, DatabaseDir); err != nil {
		return fmt.Errorf("failed to archive database: %w", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return file.Sync()
}

// Restore extracts an archive into the data directory. It refuses to
// replace an existing database.
func (m *Manager) Restore(path string) error {
	if _, err := os.Stat(filepath.Join(m.dataDir, DatabaseDir)); err == nil {
		return ErrDatabaseExists
	}
	log.Info("Restoring backup", "path", path)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		target, err := m.target(header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0700); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target); err != nil {
				return err
			}
		}
	}
	log.Info("Backup restored", "path", path)
	return nil
}

// target maps an archive entry to its path in the data directory
func (m *Manager) target(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean != DatabaseDir && !strings.HasPrefix(clean, DatabaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidEntry, name)
	}
	return filepath.Join(m.dataDir, clean), nil
}

func extractFile(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

// List returns the archives, oldest first
func (m *Manager) List() ([]os.FileInfo, error) {
	files, err := os.ReadDir(m.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result []os.FileInfo
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), archiveExt) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ModTime().Equal(result[j].ModTime()) {
			return result[i].Name() < result[j].Name()
		}
		return result[i].ModTime().Before(result[j].ModTime())
	})
	return result, nil
}

// Delete removes an archive by file name
func (m *Manager) Delete(filename string) error {
	if filename != filepath.Base(filename) {
		return fmt.Errorf("invalid backup name %q", filename)
	}
	if err := os.Remove(filepath.Join(m.backupDir, filename)); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	log.Info("Backup deleted", "file", filename)
	return nil
}

func archiveDirectory(tw *tar.Writer, srcDir, tarDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// LevelDB's lock file is recreated on open
		if info.Name() == "LOCK" {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(filepath.Join(tarDir, rel))
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tw, file)
		return err
	})
}

// prune removes the oldest archives beyond maxBackups
func (m *Manager) prune() error {
	if m.maxBackups <= 0 {
		return nil
	}
	files, err := m.List()
	if err != nil {
		return err
	}
	for i := 0; i < len(files)-m.maxBackups; i++ {
		if err := m.Delete(files[i].Name()); err != nil {
			log.Warn("Failed to delete old backup", "file", files[i].Name(), "err", err)
		}
	}
	return nil
}
