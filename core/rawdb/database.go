// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rawdb

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to leveldb
	minCache = 16
	// minHandles is the minimum number of files handles to allocate to leveldb
	minHandles = 16
)

var (
	ErrNotFound = errors.New("not found")
)

// Database wraps access to LevelDB
type Database struct {
	db   *leveldb.DB
	path string
	mu   sync.RWMutex
}

// NewDatabase opens or creates a database at path. cache is the block
// cache size in megabytes and handles the number of open files.
func NewDatabase(path string, cache int, handles int) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	opts := &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	}

	db, err := leveldb.OpenFile(path, opts)
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		log.Warn("Recovering corrupted database", "path", path)
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Opened database", "path", path, "cache", cache, "handles", handles)
	return &Database{
		db:   db,
		path: path,
	}, nil
}

// NewMemoryDatabase creates an ephemeral database held in memory
func NewMemoryDatabase() *Database {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// Opening fresh in-memory storage does not fail
		panic(err)
	}
	return &Database{db: db}
}

// Path returns the directory the database lives in, empty for memory databases
func (d *Database) Path() string {
	return d.path
}

// Close closes the database
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Put writes a key-value pair to the database
func (d *Database) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

// Get retrieves a value by key
func (d *Database) Get(key []byte) ([]byte, error) {
	value, err := d.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

// Has checks if a key exists
func (d *Database) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

// Delete removes a key
func (d *Database) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

// NewIterator iterates over the keys with the given prefix, starting at
// prefix+start
func (d *Database) NewIterator(prefix []byte, start []byte) iterator.Iterator {
	r := util.BytesPrefix(prefix)
	r.Start = append(r.Start, start...)
	return d.db.NewIterator(r, nil)
}

// Stat returns a leveldb statistics property
func (d *Database) Stat(property string) (string, error) {
	if property == "" {
		property = "leveldb.stats"
	}
	return d.db.GetProperty(property)
}

// NewBatch creates a new write batch
func (d *Database) NewBatch() *Batch {
	return &Batch{
		db:    d.db,
		batch: new(leveldb.Batch),
	}
}

// Batch represents a batch of writes. A batch is applied atomically.
type Batch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	size  int
}

// Put adds a put operation to the batch
func (b *Batch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

// Delete adds a delete operation to the batch
func (b *Batch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

// ValueSize returns the size of data in the batch
func (b *Batch) ValueSize() int {
	return b.size
}

// Write commits the batch to the database
func (b *Batch) Write() error {
	return b.db.Write(b.batch, nil)
}

// Reset resets the batch
func (b *Batch) Reset() {
	b.batch.Reset()
	b.size = 0
}

// KeyValueWriter is implemented by both Database and Batch
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}
