// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rpc

import (
	"context"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaniiiii/mist/health"
	"github.com/vaniiiii/mist/metrics"
	"github.com/vaniiiii/mist/params"
	"github.com/vaniiiii/mist/stealth"
)

// Admin provides operator RPC methods under the admin namespace
type Admin struct {
	monitor *health.Monitor
	metrics *metrics.MetricsRegistry
	service *stealth.Service // may be nil
}

// NewAdmin creates a new admin RPC service
func NewAdmin(monitor *health.Monitor, reg *metrics.MetricsRegistry, service *stealth.Service) *Admin {
	return &Admin{monitor: monitor, metrics: reg, service: service}
}

// HealthStatus represents overall client health
type HealthStatus struct {
	*health.Report
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// Health runs all health checks and returns the results
func (a *Admin) Health(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{
		Report:  a.monitor.Run(ctx),
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Version: params.VersionWithMeta,
	}, nil
}

// Metrics returns current metrics
func (a *Admin) Metrics() *metrics.Metrics {
	return a.metrics.GetMetrics()
}

// IdentityStatus is the scan position of a watched identity
type IdentityStatus struct {
	Identity common.Address      `json:"identity"`
	Cursor   *stealth.ScanCursor `json:"cursor"`
}

// Identities lists the watched identities and their cursors
func (a *Admin) Identities() ([]*IdentityStatus, error) {
	if a.service == nil {
		return []*IdentityStatus{}, nil
	}
	ids := a.service.Identities()
	list := make([]*IdentityStatus, 0, len(ids))
	for _, id := range ids {
		cursor, err := a.service.Cursor(id)
		if err != nil {
			return nil, err
		}
		list = append(list, &IdentityStatus{Identity: id, Cursor: cursor})
	}
	return list, nil
}

// ResetCursor rewinds the cursor of a watched identity
func (a *Admin) ResetCursor(id common.Address, from uint64) error {
	if a.service == nil {
		return ErrNotWatching
	}
	return a.service.ResetCursor(id, from)
}

// VersionInfo represents version information
type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"goVersion"`
}

// Version returns version information
func (a *Admin) Version() *VersionInfo {
	return &VersionInfo{
		Name:      "Mist",
		Version:   params.VersionWithMeta,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
}

// Global start time for uptime calculation
var startTime = time.Now()
