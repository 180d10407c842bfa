// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rawdb

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/vaniiiii/mist/stealth"
)

// processedCacheSize is the number of processed markers kept in memory
const processedCacheSize = 4096

type processedEntry struct {
	identity common.Address
	id       stealth.AnnouncementID
}

// ScanStore persists scan cursors and the processed ledger of every
// identity. Recently seen markers are served from an LRU cache.
type ScanStore struct {
	db    *Database
	mu    sync.Mutex
	cache *lru.Cache
}

// NewScanStore creates a store on top of db
func NewScanStore(db *Database) *ScanStore {
	cache, _ := lru.New(processedCacheSize)
	return &ScanStore{db: db, cache: cache}
}

// ReadCursor implements stealth.CursorStore
func (s *ScanStore) ReadCursor(identity common.Address) (*stealth.ScanCursor, error) {
	return ReadScanCursor(s.db, identity)
}

// WriteCursor implements stealth.CursorStore
func (s *ScanStore) WriteCursor(identity common.Address, cursor stealth.ScanCursor) error {
	return WriteScanCursor(s.db, identity, cursor)
}

// IsProcessed implements stealth.ProcessedLedger
func (s *ScanStore) IsProcessed(identity common.Address, id stealth.AnnouncementID) (bool, error) {
	key := processedEntry{identity, id}
	if s.cache.Contains(key) {
		return true, nil
	}
	done, err := HasProcessed(s.db, identity, id)
	if err != nil {
		return false, err
	}
	if done {
		s.cache.Add(key, struct{}{})
	}
	return done, nil
}

// MarkProcessed implements stealth.ProcessedLedger. All markers are
// written in one batch.
func (s *ScanStore) MarkProcessed(identity common.Address, ids []stealth.AnnouncementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	for _, id := range ids {
		if err := WriteProcessed(batch, identity, id); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	for _, id := range ids {
		s.cache.Add(processedEntry{identity, id}, struct{}{})
	}
	return nil
}

// Forget drops the cursor and processed ledger of an identity
func (s *ScanStore) Forget(identity common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := DeleteProcessedRange(s.db, identity); err != nil {
		return err
	}
	if err := DeleteScanCursor(s.db, identity); err != nil {
		return err
	}
	s.cache.Purge()
	return nil
}

// Processed returns the number of announcements delivered to an identity
func (s *ScanStore) Processed(identity common.Address) (int, error) {
	return CountProcessed(s.db, identity)
}
