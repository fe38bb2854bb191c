package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/slotvault/internal/protocol"
)

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid config")

// DefaultPath is where LoadDefault looks for the config file
const DefaultPath = "config/config.json"

// Config holds all configurable parameters for the application
type Config struct {
	Admin              string        `json:"admin" toml:"admin"`
	Self               string        `json:"self" toml:"self"`
	Capacity           int           `json:"capacity" toml:"capacity"`
	BatchLimit         int           `json:"batch_limit" toml:"batch_limit"`
	MaxOutboundActions int           `json:"max_outbound_actions" toml:"max_outbound_actions"`
	ForwardFee         string        `json:"forward_fee" toml:"forward_fee"`     // decimal units, e.g. "0.05"
	ReleaseValue       string        `json:"release_value" toml:"release_value"` // decimal units
	BidPolicy          BidPolicy     `json:"bid_policy" toml:"bid_policy"`
	WithdrawRecipient  string        `json:"withdraw_recipient" toml:"withdraw_recipient"` // "admin" or "custodian"
	AutoContinue       bool          `json:"auto_continue" toml:"auto_continue"`
	StorageDir         string        `json:"storage_dir" toml:"storage_dir"`
	OutboxURL          string        `json:"outbox_url" toml:"outbox_url"`
	LogLevel           string        `json:"log_level" toml:"log_level"`
	Network            NetworkConfig `json:"network" toml:"network"`
}

// BidPolicy selects the eviction threshold function
type BidPolicy struct {
	Kind    string `json:"kind" toml:"kind"`       // "multiplier" or "additive"
	Factor  uint64 `json:"factor" toml:"factor"`   // multiplier
	Premium string `json:"premium" toml:"premium"` // additive, decimal units
}

// NetworkConfig holds network-level configuration for HTTP clients
type NetworkConfig struct {
	DelayEnabled bool `json:"delay_enabled" toml:"delay_enabled"`
	MinDelayMs   int  `json:"min_delay_ms" toml:"min_delay_ms"` // Minimum delay in milliseconds
	MaxDelayMs   int  `json:"max_delay_ms" toml:"max_delay_ms"` // Maximum delay in milliseconds
}

// Default returns the reference parameters: a protected window of 3 and
// a withdraw-all batch of 250 within a 255 action budget.
func Default() *Config {
	return &Config{
		Capacity:           3,
		BatchLimit:         250,
		MaxOutboundActions: 255,
		ForwardFee:         "0",
		ReleaseValue:       "0.05",
		BidPolicy:          BidPolicy{Kind: "multiplier", Factor: 10},
		WithdrawRecipient:  "admin",
		LogLevel:           "info",
	}
}

// Load reads and parses a config file on top of Default. Files ending in
// .toml are decoded as TOML, everything else as JSON.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the default config from config/config.json in the current directory
func LoadDefault() (*Config, error) {
	return Load(DefaultPath)
}

// Validate checks addresses, amounts and the outbound budget
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Admin) || c.AdminAddress() == (common.Address{}) {
		return fmt.Errorf("%w: admin %q is not a non-zero address", ErrInvalid, c.Admin)
	}
	if c.Self != "" && !common.IsHexAddress(c.Self) {
		return fmt.Errorf("%w: self %q is not an address", ErrInvalid, c.Self)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1", ErrInvalid)
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("%w: batch_limit must be at least 1", ErrInvalid)
	}
	if c.BatchLimit+1 > c.MaxOutboundActions {
		return fmt.Errorf("%w: batch_limit %d leaves no room for bookkeeping within %d outbound actions",
			ErrInvalid, c.BatchLimit, c.MaxOutboundActions)
	}
	if _, err := c.ForwardFeeAmount(); err != nil {
		return fmt.Errorf("%w: forward_fee: %v", ErrInvalid, err)
	}
	if _, err := c.ReleaseValueAmount(); err != nil {
		return fmt.Errorf("%w: release_value: %v", ErrInvalid, err)
	}
	if c.BidPolicy.Premium != "" {
		if _, err := protocol.ParseUnits(c.BidPolicy.Premium); err != nil {
			return fmt.Errorf("%w: bid_policy.premium: %v", ErrInvalid, err)
		}
	}
	if c.Network.DelayEnabled && c.Network.MaxDelayMs < c.Network.MinDelayMs {
		return fmt.Errorf("%w: network max_delay_ms below min_delay_ms", ErrInvalid)
	}
	return nil
}

// AdminAddress returns the parsed administrator address
func (c *Config) AdminAddress() common.Address {
	return common.HexToAddress(c.Admin)
}

// SelfAddress returns the parsed controller address, zero when unset
func (c *Config) SelfAddress() common.Address {
	if c.Self == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Self)
}

// ForwardFeeAmount parses forward_fee, treating empty as zero
func (c *Config) ForwardFeeAmount() (*uint256.Int, error) {
	return parseOptional(c.ForwardFee)
}

// ReleaseValueAmount parses release_value, treating empty as zero
func (c *Config) ReleaseValueAmount() (*uint256.Int, error) {
	return parseOptional(c.ReleaseValue)
}

// PremiumAmount parses bid_policy.premium, returning nil when unset
func (c *Config) PremiumAmount() (*uint256.Int, error) {
	if c.BidPolicy.Premium == "" {
		return nil, nil
	}
	return protocol.ParseUnits(c.BidPolicy.Premium)
}

func parseOptional(s string) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(uint256.Int), nil
	}
	return protocol.ParseUnits(s)
}
