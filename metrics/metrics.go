// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package metrics collects scanner and receiver counters.
package metrics

import (
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics is a point-in-time snapshot of all counters
type Metrics struct {
	// Scan metrics
	ScansTotal     int64         `json:"scansTotal"`
	ScanFailures   int64         `json:"scanFailures"`
	ScanTimeMean   time.Duration `json:"scanTimeMean"`
	LastScanTime   time.Time     `json:"lastScanTime"`
	LastScannedTip int64         `json:"lastScannedTip"`

	// Announcement metrics
	AnnouncementsSeen     int64 `json:"announcementsSeen"`
	AnnouncementsMatched  int64 `json:"announcementsMatched"`
	AnnouncementsSkipped  int64 `json:"announcementsSkipped"`
	AnnouncementsInvalid  int64 `json:"announcementsInvalid"`
	AnnouncementsRejected int64 `json:"announcementsRejected"`

	// Service metrics
	Identities    int64 `json:"identities"`
	NotifyFailure int64 `json:"notifyFailures"`
	RPCRequests   int64 `json:"rpcRequests"`
}

// MetricsRegistry holds all metrics
type MetricsRegistry struct {
	mu       sync.RWMutex
	registry gometrics.Registry

	ScansTotal            gometrics.Counter
	ScanFailures          gometrics.Counter
	ScanTime              gometrics.Timer
	ScannedTip            gometrics.Gauge
	AnnouncementsSeen     gometrics.Counter
	AnnouncementsMatched  gometrics.Counter
	AnnouncementsSkipped  gometrics.Counter
	AnnouncementsInvalid  gometrics.Counter
	AnnouncementsRejected gometrics.Counter
	Identities            gometrics.Gauge
	NotifyFailures        gometrics.Counter
	RPCRequests           gometrics.Counter

	lastScan time.Time
}

// NewMetricsRegistry creates a new metrics registry
func NewMetricsRegistry() *MetricsRegistry {
	r := gometrics.NewRegistry()
	return &MetricsRegistry{
		registry:              r,
		ScansTotal:            gometrics.NewRegisteredCounter("scanner/scans", r),
		ScanFailures:          gometrics.NewRegisteredCounter("scanner/failures", r),
		ScanTime:              gometrics.NewRegisteredTimer("scanner/duration", r),
		ScannedTip:            gometrics.NewRegisteredGauge("scanner/tip", r),
		AnnouncementsSeen:     gometrics.NewRegisteredCounter("announcements/seen", r),
		AnnouncementsMatched:  gometrics.NewRegisteredCounter("announcements/matched", r),
		AnnouncementsSkipped:  gometrics.NewRegisteredCounter("announcements/skipped", r),
		AnnouncementsInvalid:  gometrics.NewRegisteredCounter("announcements/invalid", r),
		AnnouncementsRejected: gometrics.NewRegisteredCounter("announcements/rejected", r),
		Identities:            gometrics.NewRegisteredGauge("service/identities", r),
		NotifyFailures:        gometrics.NewRegisteredCounter("service/notify/failures", r),
		RPCRequests:           gometrics.NewRegisteredCounter("rpc/requests", r),
	}
}

// Registry returns the underlying go-metrics registry
func (mr *MetricsRegistry) Registry() gometrics.Registry {
	return mr.registry
}

// GetMetrics returns a snapshot of current metrics
func (mr *MetricsRegistry) GetMetrics() *Metrics {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	return &Metrics{
		ScansTotal:            mr.ScansTotal.Count(),
		ScanFailures:          mr.ScanFailures.Count(),
		ScanTimeMean:          time.Duration(int64(mr.ScanTime.Mean())),
		LastScanTime:          mr.lastScan,
		LastScannedTip:        mr.ScannedTip.Value(),
		AnnouncementsSeen:     mr.AnnouncementsSeen.Count(),
		AnnouncementsMatched:  mr.AnnouncementsMatched.Count(),
		AnnouncementsSkipped:  mr.AnnouncementsSkipped.Count(),
		AnnouncementsInvalid:  mr.AnnouncementsInvalid.Count(),
		AnnouncementsRejected: mr.AnnouncementsRejected.Count(),
		Identities:            mr.Identities.Value(),
		NotifyFailure:         mr.NotifyFailures.Count(),
		RPCRequests:           mr.RPCRequests.Count(),
	}
}

// Reset resets all counters
func (mr *MetricsRegistry) Reset() {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	mr.registry.Each(func(_ string, m interface{}) {
		if c, ok := m.(gometrics.Counter); ok {
			c.Clear()
		}
	})
	mr.lastScan = time.Time{}
}

// RecordScan records a successful scan and the announcements it returned
func (mr *MetricsRegistry) RecordScan(duration time.Duration, announcements int) {
	mr.mu.Lock()
	mr.lastScan = time.Now()
	mr.mu.Unlock()

	mr.ScansTotal.Inc(1)
	mr.ScanTime.Update(duration)
	mr.AnnouncementsSeen.Inc(int64(announcements))
}

// Global metrics registry
var globalRegistry = NewMetricsRegistry()

// GetGlobalRegistry returns the global metrics registry
func GetGlobalRegistry() *MetricsRegistry {
	return globalRegistry
}

// Convenience functions using global registry

// RecordScan records a successful scan and the announcements it returned
func RecordScan(duration time.Duration, announcements int) {
	globalRegistry.RecordScan(duration, announcements)
}

// RecordScanFailure records a scan that failed at the source
func RecordScanFailure() {
	globalRegistry.ScanFailures.Inc(1)
}

// SetScannedTip sets the highest block covered by a scan
func SetScannedTip(block uint64) {
	globalRegistry.ScannedTip.Update(int64(block))
}

// RecordMatch records an announcement addressed to a watched identity
func RecordMatch() {
	globalRegistry.AnnouncementsMatched.Inc(1)
}

// RecordSkip records an announcement rejected by view tag or address
func RecordSkip() {
	globalRegistry.AnnouncementsSkipped.Inc(1)
}

// RecordInvalidAnnouncement records an announcement with malformed key data
func RecordInvalidAnnouncement() {
	globalRegistry.AnnouncementsInvalid.Inc(1)
}

// RecordRejectedAnnouncement records an announcement of a foreign scheme
func RecordRejectedAnnouncement() {
	globalRegistry.AnnouncementsRejected.Inc(1)
}

// SetIdentities sets the number of identities being watched
func SetIdentities(n int) {
	globalRegistry.Identities.Update(int64(n))
}

// RecordNotifyFailure records a payment notification that failed
func RecordNotifyFailure() {
	globalRegistry.NotifyFailures.Inc(1)
}

// RecordRPCRequest records an RPC request
func RecordRPCRequest() {
	globalRegistry.RPCRequests.Inc(1)
}
