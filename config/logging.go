// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// ParseLevel converts a level name into a log level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "", "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, ErrInvalidLogLevel
}

// NewLogHandler returns the log handler described by c writing to w
func (c LoggingConfig) NewLogHandler(w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if strings.ToLower(c.Format) == "json" {
		return log.JSONHandlerWithLevel(w, level), nil
	}
	return log.NewTerminalHandlerWithLevel(w, level, c.Color), nil
}

// SetupLogging installs the configured root logger. The returned closer
// releases the log file, if any.
func (c *Config) SetupLogging() (io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	path, err := c.GetLogFile()
	if err != nil {
		return nil, err
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		out, closer = f, f
	}
	handler, err := c.Logging.NewLogHandler(out)
	if err != nil {
		closer.Close()
		return nil, err
	}
	log.SetDefault(log.NewLogger(handler))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
