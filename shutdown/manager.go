// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Handler releases one resource on shutdown
type Handler interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// Manager runs registered handlers in reverse registration order once a
// shutdown is requested, either by signal or by an explicit call.
type Manager struct {
	mu       sync.Mutex
	handlers []Handler
	timeout  time.Duration

	shutting atomic.Bool
	done     chan struct{}
	sigChan  chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a shutdown manager. Timeout bounds the whole shutdown.
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout: timeout,
		done:    make(chan struct{}),
		sigChan: make(chan os.Signal, 1),
		stop:    make(chan struct{}),
	}
}

// Register adds a handler. Handlers registered after shutdown started are
// ignored.
func (m *Manager) Register(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutting.Load() {
		log.Warn("Cannot register handler during shutdown", "handler", h.Name())
		return
	}
	m.handlers = append(m.handlers, h)
	log.Debug("Shutdown handler registered", "handler", h.Name())
}

// IsStopping returns true if shutdown has been initiated
func (m *Manager) IsStopping() bool {
	return m.shutting.Load()
}

// Done is closed once all handlers ran
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Notify injects a signal as if the process had received it
func (m *Manager) Notify(sig os.Signal) {
	select {
	case m.sigChan <- sig:
	default:
	}
}

// Start listens for SIGINT and SIGTERM
func (m *Manager) Start() {
	signal.Notify(m.sigChan, syscall.SIGINT, syscall.SIGTERM)
	go m.run()
}

func (m *Manager) run() {
	defer signal.Stop(m.sigChan)

	select {
	case sig := <-m.sigChan:
		log.Info("Shutdown signal received", "signal", sig)
		m.Shutdown(context.Background())
	case <-m.stop:
	}
}

// Shutdown runs every handler once. Later calls return immediately.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shutting.CompareAndSwap(false, true) {
		return nil
	}
	defer close(m.done)

	log.Info("Starting graceful shutdown", "timeout", m.timeout)
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	return m.executeHandlers(ctx)
}

func (m *Manager) executeHandlers(ctx context.Context) error {
	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if err := ctx.Err(); err != nil {
			log.Warn("Shutdown timeout, skipping remaining handlers", "handler", h.Name(), "remaining", i+1)
			return err
		}
		if err := h.Shutdown(ctx); err != nil {
			log.Error("Shutdown error", "handler", h.Name(), "err", err)
		} else {
			log.Debug("Shutdown complete", "handler", h.Name())
		}
	}
	return nil
}

// Stop stops listening for signals without shutting down
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Wait blocks until shutdown completed
func (m *Manager) Wait() {
	<-m.done
}

// FuncHandler adapts a function to a Handler
type FuncHandler struct {
	name string
	fn   func(context.Context) error
}

// NewFuncHandler creates a handler running fn
func NewFuncHandler(name string, fn func(context.Context) error) *FuncHandler {
	return &FuncHandler{name: name, fn: fn}
}

// Name returns the handler name
func (h *FuncHandler) Name() string {
	return h.name
}

// Shutdown executes the handler
func (h *FuncHandler) Shutdown(ctx context.Context) error {
	return h.fn(ctx)
}

// CloserHandler returns a handler closing c
func CloserHandler(name string, c io.Closer) *FuncHandler {
	return NewFuncHandler(name, func(context.Context) error { return c.Close() })
}
