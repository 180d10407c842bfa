// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package backup

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaniiiii/mist/core/rawdb"
	"github.com/vaniiiii/mist/stealth"
)

func writeDatabase(t *testing.T, dataDir string, identity common.Address, cursor stealth.ScanCursor) {
	t.Helper()
	db, err := rawdb.NewDatabase(filepath.Join(dataDir, DatabaseDir), 16, 16)
	require.NoError(t, err)
	require.NoError(t, rawdb.WriteScanCursor(db, identity, cursor))
	require.NoError(t, db.Close())
}

func TestCreateRestore(t *testing.T) {
	dataDir := t.TempDir()
	identity := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	writeDatabase(t, dataDir, identity, stealth.ScanCursor{FromBlock: 10, ToBlock: 20})

	m := New(dataDir, 0)
	path, err := m.Create("snapshot")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), "snapshot.tar.gz"), path)

	// Restoring over a live database is refused
	assert.ErrorIs(t, m.Restore(path), ErrDatabaseExists)

	require.NoError(t, os.RemoveAll(filepath.Join(dataDir, DatabaseDir)))
	require.NoError(t, m.Restore(path))

	db, err := rawdb.NewDatabase(filepath.Join(dataDir, DatabaseDir), 16, 16)
	require.NoError(t, err)
	defer db.Close()

	cursor, err := rawdb.ReadScanCursor(db, identity)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, stealth.ScanCursor{FromBlock: 10, ToBlock: 20}, *cursor)
}

func TestCreateWithoutDatabase(t *testing.T) {
	_, err := New(t.TempDir(), 0).Create("")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	dataDir := t.TempDir()
	writeDatabase(t, dataDir, common.Address{1}, stealth.ScanCursor{})

	m := New(dataDir, 2)
	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Create(name)
		require.NoError(t, err)
	}
	files, err := m.List()
	require.NoError(t, err)
	require.Len(t, files, 2)

	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.NotContains(t, names, "a.tar.gz")
}

func TestListEmpty(t *testing.T) {
	files, err := New(t.TempDir(), 0).List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteRejectsPaths(t *testing.T) {
	m := New(t.TempDir(), 0)
	assert.Error(t, m.Delete("../mistdata"))
}

func TestRestoreRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.tar.gz")

	file, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	body := []byte("pwned")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../outside",
		Mode:     0600,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	dataDir := filepath.Join(dir, "data")
	err = New(dataDir, 0).Restore(path)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.NoFileExists(t, filepath.Join(dir, "outside"))
}
