// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package health

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/metrics"
)

// Status represents the health status of the client
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// checkTimeout bounds a single check
const checkTimeout = 5 * time.Second

// Check represents a single health check
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Critical  bool          `json:"critical"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report is the outcome of a full run
type Report struct {
	Status Status         `json:"status"`
	Checks []*CheckResult `json:"checks"`
}

// Monitor runs registered checks and derives an overall status. A failing
// critical check makes the client unhealthy, any other failure degrades it.
type Monitor struct {
	mu sync.RWMutex

	checks      map[string]Check
	critical    map[string]bool
	lastResults map[string]*CheckResult

	status Status
}

// New creates a new health monitor
func New() *Monitor {
	return &Monitor{
		checks:      make(map[string]Check),
		critical:    make(map[string]bool),
		lastResults: make(map[string]*CheckResult),
		status:      StatusHealthy,
	}
}

// Register registers a health check, replacing any check of the same name
func (m *Monitor) Register(check Check, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := check.Name()
	m.checks[name] = check
	m.critical[name] = critical
}

// Run runs all health checks
func (m *Monitor) Run(ctx context.Context) *Report {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	critical := make(map[string]bool, len(m.critical))
	for name, check := range m.checks {
		checks[name] = check
		critical[name] = m.critical[name]
	}
	m.mu.RUnlock()

	var (
		results  = make(map[string]*CheckResult, len(checks))
		failed   int
		degraded int
	)
	for name, check := range checks {
		start := time.Now()

		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Check(checkCtx)
		cancel()

		result := &CheckResult{
			Name:      name,
			Healthy:   err == nil,
			Critical:  critical[name],
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			result.Error = err.Error()
			if critical[name] {
				failed++
			} else {
				degraded++
			}
			log.Debug("Health check failed", "check", name, "critical", critical[name], "err", err)
		}
		results[name] = result
	}

	m.mu.Lock()
	switch {
	case failed > 0:
		m.status = StatusUnhealthy
	case degraded > 0:
		m.status = StatusDegraded
	default:
		m.status = StatusHealthy
	}
	m.lastResults = results
	status := m.status
	m.mu.Unlock()

	return &Report{Status: status, Checks: sortResults(results)}
}

// GetStatus returns the status of the last run
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetResults returns the last check results
func (m *Monitor) GetResults() map[string]*CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]*CheckResult, len(m.lastResults))
	for k, v := range m.lastResults {
		results[k] = v
	}
	return results
}

func sortResults(results map[string]*CheckResult) []*CheckResult {
	list := make([]*CheckResult, 0, len(results))
	for _, r := range results {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// LedgerCheck checks the ledger node is reachable and serves the
// expected chain
type LedgerCheck struct {
	Head    func(ctx context.Context) (uint64, error)
	ChainID func(ctx context.Context) (*big.Int, error) // optional
	Want    uint64
}

// Name implements Check
func (c *LedgerCheck) Name() string {
	return "ledger"
}

// Check implements Check
func (c *LedgerCheck) Check(ctx context.Context) error {
	if _, err := c.Head(ctx); err != nil {
		return fmt.Errorf("chain head: %w", err)
	}
	if c.ChainID == nil || c.Want == 0 {
		return nil
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != c.Want {
		return NewHealthError(fmt.Sprintf("chain id %v, want %d", id, c.Want))
	}
	return nil
}

// ScanCheck checks scans keep up with the ledger
type ScanCheck struct {
	Metrics *metrics.MetricsRegistry
	Head    func(ctx context.Context) (uint64, error)

	MaxLag uint64        // blocks the last scanned tip may trail the head
	MaxAge time.Duration // time since the last completed scan
}

// Name implements Check
func (c *ScanCheck) Name() string {
	return "scanner"
}

// Check implements Check
func (c *ScanCheck) Check(ctx context.Context) error {
	snap := c.Metrics.GetMetrics()
	if snap.LastScanTime.IsZero() {
		return nil // No scan yet
	}
	if c.MaxAge > 0 && time.Since(snap.LastScanTime) > c.MaxAge {
		return NewHealthError(fmt.Sprintf("no completed scan for %v", time.Since(snap.LastScanTime).Round(time.Second)))
	}
	if c.Head == nil || c.MaxLag == 0 {
		return nil
	}
	head, err := c.Head(ctx)
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}
	if tip := uint64(snap.LastScannedTip); head > tip && head-tip > c.MaxLag {
		return NewHealthError(fmt.Sprintf("scanner %d blocks behind head", head-tip))
	}
	return nil
}

// Statter is a database able to report its statistics
type Statter interface {
	Stat(property string) (string, error)
}

// StoreCheck checks the local database is open and readable
type StoreCheck struct {
	DB Statter
}

// Name implements Check
func (c *StoreCheck) Name() string {
	return "store"
}

// Check implements Check
func (c *StoreCheck) Check(ctx context.Context) error {
	if _, err := c.DB.Stat(""); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// HealthError represents a health check error
type HealthError struct {
	message string
}

// NewHealthError creates a new health error
func NewHealthError(msg string) *HealthError {
	return &HealthError{message: msg}
}

// Error implements the error interface
func (e *HealthError) Error() string {
	return e.message
}
