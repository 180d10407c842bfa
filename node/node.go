// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package node hosts the long-running parts of the client: the scan
// loop and the wallet-host RPC endpoint.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/rpc"
	"github.com/vaniiiii/mist/stealth"
)

var (
	// ErrNodeStopped is returned when the node is stopped
	ErrNodeStopped = errors.New("node not started")
	// ErrNodeRunning is returned when trying to start an already running node
	ErrNodeRunning = errors.New("node already running")
	// ErrLifecycleExists is returned when a name is registered twice
	ErrLifecycleExists = errors.New("lifecycle already registered")
)

// Config holds the endpoint settings of the node
type Config struct {
	// HTTPHost is the listening interface. Empty disables the endpoint.
	HTTPHost    string
	HTTPPort    int
	HTTPCors    []string
	HTTPModules []string
	WSEnabled   bool

	// StopTimeout bounds the shutdown of the RPC endpoint
	StopTimeout time.Duration

	Logger log.Logger
}

// Lifecycle is a component started and stopped with the node
type Lifecycle interface {
	Start() error
	Stop() error
}

type namedLifecycle struct {
	name string
	Lifecycle
}

// Node runs registered lifecycles in registration order and stops them
// in reverse
type Node struct {
	config *Config
	log    log.Logger

	startStopLock sync.Mutex
	running       bool
	lifecycles    []namedLifecycle
	apis          []rpc.API
	http          *rpc.HTTPServer
	closeOnce     sync.Once
	closeCh       chan struct{}
}

// New creates a node. Lifecycles and APIs are registered before Start.
func New(config *Config) *Node {
	conf := *config
	if conf.StopTimeout <= 0 {
		conf.StopTimeout = 5 * time.Second
	}
	logger := conf.Logger
	if logger == nil {
		logger = log.Root()
	}
	return &Node{
		config:  &conf,
		log:     logger,
		closeCh: make(chan struct{}),
	}
}

// RegisterLifecycle adds a component under name
func (n *Node) RegisterLifecycle(name string, l Lifecycle) error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	if n.running {
		return ErrNodeRunning
	}
	for _, existing := range n.lifecycles {
		if existing.name == name {
			return fmt.Errorf("%w: %s", ErrLifecycleExists, name)
		}
	}
	n.lifecycles = append(n.lifecycles, namedLifecycle{name, l})
	return nil
}

// RegisterAPIs adds RPC services served once the node starts
func (n *Node) RegisterAPIs(apis []rpc.API) {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()
	n.apis = append(n.apis, apis...)
}

// Start starts the lifecycles, then the RPC endpoint. A failure stops
// whatever was started.
func (n *Node) Start() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	if n.running {
		return ErrNodeRunning
	}
	n.log.Info("Starting Mist node", "lifecycles", len(n.lifecycles), "apis", len(n.apis))

	for i, l := range n.lifecycles {
		if err := l.Start(); err != nil {
			n.log.Error("Lifecycle failed to start", "name", l.name, "err", err)
			n.stopLifecycles(n.lifecycles[:i])
			return fmt.Errorf("start %s: %w", l.name, err)
		}
		n.log.Debug("Lifecycle started", "name", l.name)
	}
	if err := n.startHTTP(); err != nil {
		n.stopLifecycles(n.lifecycles)
		return err
	}
	n.running = true
	return nil
}

func (n *Node) startHTTP() error {
	if n.config.HTTPHost == "" {
		return nil
	}
	apis := filterAPIs(n.apis, n.config.HTTPModules)
	srv, err := rpc.NewServer(apis)
	if err != nil {
		return err
	}
	endpoint := net.JoinHostPort(n.config.HTTPHost, strconv.Itoa(n.config.HTTPPort))
	h, err := rpc.StartHTTP(endpoint, srv, n.config.HTTPCors, n.config.WSEnabled)
	if err != nil {
		srv.Stop()
		return fmt.Errorf("start rpc endpoint: %w", err)
	}
	n.http = h
	return nil
}

// Stop stops the RPC endpoint, then the lifecycles in reverse order
func (n *Node) Stop() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	if !n.running {
		return ErrNodeStopped
	}
	n.log.Info("Stopping Mist node")

	var errs []error
	if n.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), n.config.StopTimeout)
		if err := n.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rpc: %w", err))
		}
		cancel()
		n.http = nil
	}
	errs = append(errs, n.stopLifecycles(n.lifecycles)...)
	n.running = false

	n.closeOnce.Do(func() { close(n.closeCh) })
	return errors.Join(errs...)
}

func (n *Node) stopLifecycles(started []namedLifecycle) []error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(); err != nil {
			n.log.Error("Lifecycle failed to stop", "name", started[i].name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", started[i].name, err))
		}
	}
	return errs
}

// HTTPEndpoint returns the address of the RPC endpoint, or nil when it
// is not running
func (n *Node) HTTPEndpoint() net.Addr {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()
	if n.http == nil {
		return nil
	}
	return n.http.Addr()
}

// Wait blocks until the node has been stopped once
func (n *Node) Wait() {
	<-n.closeCh
}

func filterAPIs(apis []rpc.API, modules []string) []rpc.API {
	if modules == nil {
		return apis
	}
	enabled := mapset.NewThreadUnsafeSet(modules...)
	var out []rpc.API
	for _, api := range apis {
		if enabled.Contains(api.Namespace) {
			out = append(out, api)
		}
	}
	return out
}

// ScanLoop runs the periodic scan of a stealth service as a lifecycle
type ScanLoop struct {
	service  *stealth.Service
	interval time.Duration
	cancel   context.CancelFunc
}

// NewScanLoop returns a lifecycle scanning every interval
func NewScanLoop(service *stealth.Service, interval time.Duration) *ScanLoop {
	return &ScanLoop{service: service, interval: interval}
}

// Start launches the scan loop
func (s *ScanLoop) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid scan interval %v", s.interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.service.Start(ctx, s.interval); err != nil {
		cancel()
		return err
	}
	s.cancel = cancel
	return nil
}

// Stop cancels a running cycle and waits for the loop to exit
func (s *ScanLoop) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.service.Stop()
	return nil
}
