// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/cors"

	"github.com/vaniiiii/mist/metrics"
)

// API is a service exposed under a namespace
type API struct {
	Namespace string
	Service   interface{}
}

// APIs returns the available services of the client, keeping those whose
// namespace is enabled. A nil enabled list keeps all.
func APIs(mist *MistAPI, admin *Admin, enabled []string) []API {
	var all []API
	if mist != nil {
		all = append(all, API{Namespace: "mist", Service: mist})
	}
	if admin != nil {
		all = append(all, API{Namespace: "admin", Service: admin})
	}
	if enabled == nil {
		return all
	}
	var apis []API
	for _, api := range all {
		for _, name := range enabled {
			if api.Namespace == name {
				apis = append(apis, api)
				break
			}
		}
	}
	return apis
}

// NewServer creates a JSON-RPC server serving apis
func NewServer(apis []API) (*rpc.Server, error) {
	srv := rpc.NewServer()
	for _, api := range apis {
		if err := srv.RegisterName(api.Namespace, api.Service); err != nil {
			srv.Stop()
			return nil, fmt.Errorf("register %s api: %w", api.Namespace, err)
		}
		log.Debug("Registered RPC namespace", "namespace", api.Namespace)
	}
	return srv, nil
}

// HTTPServer serves a JSON-RPC server over HTTP and, optionally,
// WebSocket on the same port
type HTTPServer struct {
	rpc      *rpc.Server
	server   *http.Server
	listener net.Listener
}

// StartHTTP listens on endpoint and serves srv
func StartHTTP(endpoint string, srv *rpc.Server, allowedOrigins []string, ws bool) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	var wsHandler http.Handler
	if ws {
		wsHandler = srv.WebsocketHandler(allowedOrigins)
	}
	h := &HTTPServer{
		rpc:      srv,
		listener: listener,
		server: &http.Server{
			Handler:           newHandler(srv, wsHandler, allowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("RPC server failed", "err", err)
		}
	}()
	log.Info("RPC server started", "endpoint", "http://"+listener.Addr().String(), "ws", ws)
	return h, nil
}

// Addr returns the listening address
func (h *HTTPServer) Addr() net.Addr {
	return h.listener.Addr()
}

// Shutdown stops accepting requests, waits for running ones and stops the
// JSON-RPC server
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	h.rpc.Stop()
	log.Info("RPC server stopped", "endpoint", h.listener.Addr().String())
	return err
}

// newHandler counts requests, routes WebSocket upgrades and answers
// plain HTTP behind the CORS policy of allowedOrigins
func newHandler(srv *rpc.Server, ws http.Handler, allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	})
	plain := c.Handler(srv)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordRPCRequest()

		if ws != nil && isWebsocket(r) {
			ws.ServeHTTP(w, r)
			return
		}
		plain.ServeHTTP(w, r)
	})
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
