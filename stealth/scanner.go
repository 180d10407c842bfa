// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/metrics"
	"github.com/vaniiiii/mist/params"
)

// AnnouncementSource is the interface for reading the announcement log
type AnnouncementSource interface {
	// ChainHead returns the current block number
	ChainHead(ctx context.Context) (uint64, error)
	// Announcements returns the announcements of a scheme in [from, to]
	Announcements(ctx context.Context, schemeID *big.Int, from, to uint64) ([]*Announcement, error)
}

// ScanCursor is the scan position of a single identity. It is owned by
// the caller and passed into and returned from every scan.
type ScanCursor struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

// Reset returns a cursor rewound to from. It is the only way a cursor
// moves backward.
func (c ScanCursor) Reset(from uint64) ScanCursor {
	return ScanCursor{FromBlock: from, ToBlock: from}
}

// ScannerState is the state of a Scanner
type ScannerState int32

const (
	StateIdle ScannerState = iota
	StateScanning
)

func (s ScannerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ScannerConfig holds the scan parameters
type ScannerConfig struct {
	SchemeID *big.Int
	// Lookback is the distance behind the head the first scan starts at
	Lookback uint64
	// MaxRange caps the block span of a single log query, 0 means unbounded
	MaxRange uint64
}

// DefaultScannerConfig returns the default scan parameters
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		SchemeID: new(big.Int).Set(params.SchemeIDBig),
		Lookback: params.DefaultLookbackBlocks,
	}
}

// ScanResult is the outcome of a successful scan
type ScanResult struct {
	FromBlock     uint64
	ToBlock       uint64
	Announcements []*Announcement
}

// Scanner reads the announcement log in cursor-delimited windows. Scans on
// the same Scanner are serialized.
type Scanner struct {
	mu    sync.Mutex
	state atomic.Int32

	source AnnouncementSource
	config ScannerConfig
}

// NewScanner creates a new announcement scanner
func NewScanner(source AnnouncementSource, config ScannerConfig) *Scanner {
	if config.SchemeID == nil {
		config.SchemeID = new(big.Int).Set(params.SchemeIDBig)
	}
	return &Scanner{source: source, config: config}
}

// State returns the current scanner state
func (s *Scanner) State() ScannerState {
	return ScannerState(s.state.Load())
}

// Scan queries all announcements in [cursor.FromBlock, head]. A nil cursor
// starts Lookback blocks behind the head. On success the returned cursor
// has FromBlock and ToBlock set to the head; on failure the input cursor
// is returned unchanged together with the error.
func (s *Scanner) Scan(ctx context.Context, cursor *ScanCursor) (*ScanResult, ScanCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(int32(StateScanning))
	defer s.state.Store(int32(StateIdle))

	var prev ScanCursor
	if cursor != nil {
		prev = *cursor
	}
	start := time.Now()

	head, err := s.source.ChainHead(ctx)
	if err != nil {
		metrics.RecordScanFailure()
		return nil, prev, fmt.Errorf("%w: chain head: %w", ErrTransportFailure, err)
	}
	from := s.startBlock(cursor, head)
	if from > head {
		// The source lags behind a previous scan; never rewind.
		log.Debug("Announcement source behind cursor", "from", from, "head", head)
		return &ScanResult{FromBlock: from, ToBlock: from}, prev, nil
	}

	anns, err := s.query(ctx, from, head)
	if err != nil {
		metrics.RecordScanFailure()
		return nil, prev, err
	}
	SortAnnouncements(anns)

	next := ScanCursor{FromBlock: head, ToBlock: head}
	metrics.RecordScan(time.Since(start), len(anns))
	metrics.SetScannedTip(head)
	log.Debug("Scanned announcements", "from", from, "to", head, "found", len(anns), "elapsed", time.Since(start))

	return &ScanResult{FromBlock: from, ToBlock: head, Announcements: anns}, next, nil
}

func (s *Scanner) startBlock(cursor *ScanCursor, head uint64) uint64 {
	if cursor != nil {
		return cursor.FromBlock
	}
	if head < s.config.Lookback {
		return 0
	}
	return head - s.config.Lookback
}

// query fetches [from, to] in chunks of at most MaxRange blocks. Any chunk
// failing fails the whole query.
func (s *Scanner) query(ctx context.Context, from, to uint64) ([]*Announcement, error) {
	var all []*Announcement
	for lo := from; ; {
		hi := to
		if s.config.MaxRange > 0 && hi-lo+1 > s.config.MaxRange {
			hi = lo + s.config.MaxRange - 1
		}
		anns, err := s.source.Announcements(ctx, s.config.SchemeID, lo, hi)
		if err != nil {
			return nil, fmt.Errorf("%w: blocks %d-%d: %w", ErrTransportFailure, lo, hi, err)
		}
		for _, ann := range anns {
			if ann == nil || ann.BlockNumber < lo || ann.BlockNumber > hi {
				return nil, fmt.Errorf("%w: record outside queried range %d-%d", ErrTransportFailure, lo, hi)
			}
		}
		all = append(all, anns...)
		if hi == to {
			return all, nil
		}
		lo = hi + 1
	}
}
