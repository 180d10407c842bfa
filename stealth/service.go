// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/metrics"
)

// CursorStore persists the scan cursor of each identity
type CursorStore interface {
	// ReadCursor returns the stored cursor, or nil if the identity was
	// never scanned
	ReadCursor(identity common.Address) (*ScanCursor, error)
	// WriteCursor stores the cursor of an identity
	WriteCursor(identity common.Address, cursor ScanCursor) error
}

// Notifier receives newly found payments. A failed notification aborts the
// cycle so the payments are delivered again on the next one.
type Notifier interface {
	Notify(ctx context.Context, identity common.Address, payments []*Payment) error
}

// NotifierFunc is an adapter to use ordinary functions as Notifiers
type NotifierFunc func(ctx context.Context, identity common.Address, payments []*Payment) error

// Notify calls f(ctx, identity, payments)
func (f NotifierFunc) Notify(ctx context.Context, identity common.Address, payments []*Payment) error {
	return f(ctx, identity, payments)
}

// memoryCursors is the CursorStore used when none is configured
type memoryCursors struct {
	mu      sync.Mutex
	cursors map[common.Address]ScanCursor
}

func (m *memoryCursors) ReadCursor(identity common.Address) (*ScanCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[identity]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memoryCursors) WriteCursor(identity common.Address, cursor ScanCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[identity] = cursor
	return nil
}

type watch struct {
	// mu serialises cycles of one identity from cursor read to write
	mu       sync.Mutex
	receiver *Receiver
	scanner  *Scanner
}

// Service runs scan and notify cycles for several identities. Each
// identity owns its own scanner and cursor.
type Service struct {
	mu      sync.RWMutex
	watches map[common.Address]*watch

	source   AnnouncementSource
	config   ScannerConfig
	cursors  CursorStore
	ledger   ProcessedLedger
	notifier Notifier

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates a new stealth service. cursors and ledger may be nil
// for a purely in-memory service.
func NewService(source AnnouncementSource, config ScannerConfig, cursors CursorStore, ledger ProcessedLedger, notifier Notifier) *Service {
	if cursors == nil {
		cursors = &memoryCursors{cursors: make(map[common.Address]ScanCursor)}
	}
	return &Service{
		watches:  make(map[common.Address]*watch),
		source:   source,
		config:   config,
		cursors:  cursors,
		ledger:   ledger,
		notifier: notifier,
	}
}

// Register starts watching for payments to the given keys
func (s *Service) Register(keys *StealthKeys) (common.Address, error) {
	receiver, err := NewReceiver(keys, s.ledger)
	if err != nil {
		return common.Address{}, err
	}
	receiver.schemeID = s.config.SchemeID
	if receiver.schemeID == nil {
		receiver.schemeID = DefaultScannerConfig().SchemeID
	}
	id := receiver.Identity()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.watches[id]; exists {
		return id, ErrIdentityExists
	}
	s.watches[id] = &watch{
		receiver: receiver,
		scanner:  NewScanner(s.source, s.config),
	}
	metrics.SetIdentities(len(s.watches))

	log.Info("Stealth identity registered", "id", id, "watchonly", receiver.WatchOnly())
	return id, nil
}

// Unregister stops watching an identity. Its stored cursor is kept.
func (s *Service) Unregister(id common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.watches[id]; !exists {
		return ErrIdentityNotFound
	}
	delete(s.watches, id)
	metrics.SetIdentities(len(s.watches))

	log.Info("Stealth identity unregistered", "id", id)
	return nil
}

// Identities returns all registered identities in ascending order
func (s *Service) Identities() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]common.Address, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Cmp(ids[j]) < 0
	})
	return ids
}

// Cursor returns the stored cursor of an identity, or nil before its
// first scan
func (s *Service) Cursor(id common.Address) (*ScanCursor, error) {
	return s.cursors.ReadCursor(id)
}

// ResetCursor rewinds the cursor of an identity to from. Announcements
// already delivered are not delivered again.
func (s *Service) ResetCursor(id common.Address, from uint64) error {
	w, err := s.watch(id)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var c ScanCursor
	return s.cursors.WriteCursor(id, c.Reset(from))
}

func (s *Service) watch(id common.Address) (*watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.watches[id]
	if !exists {
		return nil, ErrIdentityNotFound
	}
	return w, nil
}

// ScanIdentity runs one scan and notify cycle for an identity. The steps
// are scan, match, notify, mark processed and persist cursor; a failure at
// any step leaves the cursor where it was. Cycles of the same identity
// run one at a time and never move its cursor backward.
func (s *Service) ScanIdentity(ctx context.Context, id common.Address) ([]*Payment, error) {
	w, err := s.watch(id)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cursor, err := s.cursors.ReadCursor(id)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	res, next, err := w.scanner.Scan(ctx, cursor)
	if err != nil {
		return nil, err
	}
	payments, err := w.receiver.Match(res.Announcements)
	if err != nil {
		return nil, fmt.Errorf("match announcements: %w", err)
	}
	if len(payments) > 0 {
		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, id, payments); err != nil {
				metrics.RecordNotifyFailure()
				return nil, fmt.Errorf("notify: %w", err)
			}
		}
		if s.ledger != nil {
			ids := make([]AnnouncementID, len(payments))
			for i, p := range payments {
				ids[i] = p.ID()
			}
			if err := s.ledger.MarkProcessed(id, ids); err != nil {
				return nil, fmt.Errorf("mark processed: %w", err)
			}
		}
	}
	if cursor != nil && next.FromBlock < cursor.FromBlock {
		log.Warn("Refusing to rewind scan cursor", "id", id, "stored", cursor.FromBlock, "next", next.FromBlock)
		return payments, nil
	}
	if cursor == nil || next != *cursor {
		if err := s.cursors.WriteCursor(id, next); err != nil {
			return nil, fmt.Errorf("write cursor: %w", err)
		}
	}
	return payments, nil
}

// ScanOnce runs a single cycle for every registered identity. A failing
// identity does not stop the others; the errors are joined.
func (s *Service) ScanOnce(ctx context.Context) (map[common.Address][]*Payment, error) {
	results := make(map[common.Address][]*Payment)

	var errs []error
	for _, id := range s.Identities() {
		payments, err := s.ScanIdentity(ctx, id)
		if err != nil {
			log.Warn("Stealth scan failed", "id", id, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", id.Hex(), err))
			continue
		}
		if len(payments) > 0 {
			results[id] = payments
		}
	}
	return results, errors.Join(errs...)
}

// Start runs ScanOnce every interval until ctx is cancelled or Stop is
// called. Cycles never overlap. Starting a running service fails with
// ErrServiceRunning.
func (s *Service) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return ErrServiceRunning
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx, interval, stopCh)
	log.Info("Stealth auto-scan started", "interval", interval)
	return nil
}

// Stop stops the scan loop and waits for a running cycle to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("Stealth service stopped")
}

func (s *Service) loop(ctx context.Context, interval time.Duration, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.ScanOnce(ctx); err != nil {
			log.Debug("Stealth scan cycle incomplete", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}
