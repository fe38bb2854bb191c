package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_RepositoryDefault(t *testing.T) {
	cfg, err := Load("config.json")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Capacity)
	assert.Equal(t, 250, cfg.BatchLimit)
	assert.Equal(t, "multiplier", cfg.BidPolicy.Kind)
	assert.Equal(t, uint64(10), cfg.BidPolicy.Factor)
	assert.True(t, cfg.AutoContinue)
}

func TestLoad_JSONKeepsDefaultsForMissingFields(t *testing.T) {
	path := writeFile(t, "c.json", `{"admin":"0x00000000000000000000000000000000000000a0","batch_limit":10}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.BatchLimit)
	assert.Equal(t, 3, cfg.Capacity)
	assert.Equal(t, 255, cfg.MaxOutboundActions)
	require.NoError(t, cfg.Validate())
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "c.toml", `
admin = "0x00000000000000000000000000000000000000a0"
capacity = 5
forward_fee = "0.01"
withdraw_recipient = "custodian"

[bid_policy]
kind = "additive"
premium = "1.5"

[network]
delay_enabled = true
min_delay_ms = 5
max_delay_ms = 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Capacity)
	assert.Equal(t, "additive", cfg.BidPolicy.Kind)
	assert.Equal(t, "custodian", cfg.WithdrawRecipient)
	assert.True(t, cfg.Network.DelayEnabled)

	premium, err := cfg.PremiumAmount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), premium.Uint64())

	fee, err := cfg.ForwardFeeAmount()
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), fee.Uint64())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "admin = "))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Admin = "0x00000000000000000000000000000000000000a0"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing admin", func(c *Config) { c.Admin = "" }},
		{"zero admin", func(c *Config) { c.Admin = "0x0000000000000000000000000000000000000000" }},
		{"bad self", func(c *Config) { c.Self = "nope" }},
		{"capacity", func(c *Config) { c.Capacity = 0 }},
		{"batch", func(c *Config) { c.BatchLimit = 0 }},
		{"batch over budget", func(c *Config) { c.BatchLimit = 300 }},
		{"forward fee", func(c *Config) { c.ForwardFee = "-1" }},
		{"release value", func(c *Config) { c.ReleaseValue = "x" }},
		{"premium", func(c *Config) { c.BidPolicy.Premium = "1.0000000001" }},
		{"fractional forward fee", func(c *Config) { c.ForwardFee = "1/2" }},
		{"exponent premium", func(c *Config) { c.BidPolicy.Premium = "1e3" }},
		{"delay range", func(c *Config) {
			c.Network = NetworkConfig{DelayEnabled: true, MinDelayMs: 50, MaxDelayMs: 10}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestAmountsTreatEmptyAsZero(t *testing.T) {
	cfg := Default()
	cfg.ForwardFee = ""
	fee, err := cfg.ForwardFeeAmount()
	require.NoError(t, err)
	assert.True(t, fee.IsZero())

	premium, err := cfg.PremiumAmount()
	require.NoError(t, err)
	assert.Nil(t, premium)

	assert.Equal(t, "0x0000000000000000000000000000000000000000", cfg.SelfAddress().Hex())
}
