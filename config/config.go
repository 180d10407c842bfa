// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package config

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/params"
	"github.com/vaniiiii/mist/stealth"
)

// Config represents the Mist client configuration
type Config struct {
	// Ledger and contract settings
	Network NetworkConfig `json:"network"`

	// Announcement scanning settings
	Scanner ScannerConfig `json:"scanner"`

	// Database settings
	Database DatabaseConfig `json:"database"`

	// RPC settings
	RPC RPCConfig `json:"rpc"`

	// Logging settings
	Logging LoggingConfig `json:"logging"`
}

// NetworkConfig contains ledger-related settings
type NetworkConfig struct {
	Preset   string         `json:"preset"`   // Named deployment (sepolia, dev)
	URL      string         `json:"url"`      // Ledger node endpoint
	ChainID  uint64         `json:"chainId"`  // Expected chain ID
	Registry common.Address `json:"registry"` // Meta-address registry contract
	Payment  common.Address `json:"payment"`  // Stealth payment contract
	Signer   string         `json:"signer"`   // Remote wallet endpoint (empty = local key)
}

// ScannerConfig contains announcement scanning settings
type ScannerConfig struct {
	SchemeID uint64 `json:"schemeId"` // Announcement scheme
	Lookback uint64 `json:"lookback"` // Blocks behind the head for the first scan
	MaxRange uint64 `json:"maxRange"` // Max blocks per log query (0 = unbounded)
	Interval int    `json:"interval"` // Seconds between scans in serve mode
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	DataDir  string `json:"dataDir"`  // Data directory
	Cache    int    `json:"cache"`    // Cache size in MB
	Handles  int    `json:"handles"`  // Number of open file handles
	LightKDF bool   `json:"lightKdf"` // Cheaper key encryption, for tests and low-memory devices
}

// RPCConfig contains RPC server settings
type RPCConfig struct {
	Enabled bool     `json:"enabled"` // Enable HTTP RPC
	Address string   `json:"address"` // Listen address
	Port    int      `json:"port"`    // Listen port
	CORS    []string `json:"cors"`    // CORS domains
	APIs    []string `json:"apis"`    // Enabled APIs

	WSEnabled bool `json:"wsEnabled"` // Serve WebSocket on the HTTP port
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`  // Log level (trace, debug, info, warn, error, crit)
	Format string `json:"format"` // Log format (json, text)
	File   string `json:"file"`   // Log file path (empty = stderr)
	Color  bool   `json:"color"`  // Colored terminal output
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	preset := params.SepoliaPreset
	return &Config{
		Network: NetworkConfig{
			Preset:   preset.Name,
			URL:      preset.RPCURL,
			ChainID:  preset.ChainID,
			Registry: preset.Registry,
			Payment:  preset.Payment,
		},
		Scanner: ScannerConfig{
			SchemeID: params.SchemeID,
			Lookback: params.DefaultLookbackBlocks,
			MaxRange: 0,
			Interval: int(params.DefaultScanInterval / time.Second),
		},
		Database: DatabaseConfig{
			DataDir: "~/.mist",
			Cache:   16,
			Handles: 16,
		},
		RPC: RPCConfig{
			Enabled: false,
			Address: "localhost",
			Port:    8645,
			CORS:    []string{"http://localhost:*"},
			APIs:    []string{"mist", "admin"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a JSON file. Fields absent from
// the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	content, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, content, 0600)
}

// ApplyPreset replaces the endpoint, chain ID and contract addresses with
// those of the named deployment
func (c *Config) ApplyPreset(name string) error {
	preset, err := params.PresetByName(name)
	if err != nil {
		return NewConfigError(err.Error())
	}
	c.Network.Preset = preset.Name
	c.Network.URL = preset.RPCURL
	c.Network.ChainID = preset.ChainID

	// Local deployments carry no fixed addresses
	if preset.Registry != (common.Address{}) {
		c.Network.Registry = preset.Registry
	}
	if preset.Payment != (common.Address{}) {
		c.Network.Payment = preset.Payment
	}
	return nil
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Network.ChainID == 0 {
		return ErrInvalidChainID
	}
	if c.Network.Registry == (common.Address{}) || c.Network.Payment == (common.Address{}) {
		return ErrMissingContract
	}

	if c.Scanner.SchemeID == 0 {
		return ErrInvalidScheme
	}
	if c.Scanner.Interval <= 0 {
		c.Scanner.Interval = int(params.DefaultScanInterval / time.Second)
		log.Warn("Scan interval not positive, using default", "interval", c.Scanner.Interval)
	}

	if c.Database.Cache < 16 {
		c.Database.Cache = 16 // Minimum cache size
		log.Warn("Cache size too small, using minimum", "cache", 16)
	}
	if c.Database.Handles < 16 {
		c.Database.Handles = 16
	}

	if c.RPC.Enabled {
		if c.RPC.Port <= 0 || c.RPC.Port > 65535 {
			return ErrInvalidPort
		}
		for _, api := range c.RPC.APIs {
			if api != "mist" && api != "admin" {
				return NewConfigError("unknown rpc api " + api)
			}
		}
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	return nil
}

// ScannerParams returns the scanner settings in the form the scanner takes
func (c *Config) ScannerParams() stealth.ScannerConfig {
	return stealth.ScannerConfig{
		SchemeID: new(big.Int).SetUint64(c.Scanner.SchemeID),
		Lookback: c.Scanner.Lookback,
		MaxRange: c.Scanner.MaxRange,
	}
}

// ScanInterval returns the delay between scans in serve mode
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.Interval) * time.Second
}

// GetDataDir returns the expanded data directory path
func (c *Config) GetDataDir() (string, error) {
	return ExpandPath(c.Database.DataDir)
}

// GetLogFile returns the expanded log file path
func (c *Config) GetLogFile() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	return ExpandPath(c.Logging.File)
}

// Configuration errors
var (
	ErrInvalidPort      = NewConfigError("invalid port number")
	ErrInvalidChainID   = NewConfigError("invalid chain id")
	ErrMissingContract  = NewConfigError("missing contract address")
	ErrInvalidScheme    = NewConfigError("invalid scheme id")
	ErrInvalidLogLevel  = NewConfigError("invalid log level")
	ErrInvalidLogFormat = NewConfigError("invalid log format")
)

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new config error
func NewConfigError(msg string) *ConfigError {
	return &ConfigError{message: msg}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return e.message
}
