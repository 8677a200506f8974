// Package config loads crew_layer service configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default settings applied when neither file nor environment provide a value.
const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8080
	DefaultCaptainRole    = "captain"
	DefaultStartingShares = 100
	DefaultSweepSchedule  = "@every 30s"
	DefaultChainTimeout   = 30 * time.Second
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig mirrors pkg/logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig selects persistent order storage. An empty DSN keeps
// the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ChainConfig describes the Neo N3 endpoint and contracts used for
// share settlement and role checks. An empty RPCURL keeps the
// in-memory ledger and the static oracle.
type ChainConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	NetworkID      uint32 `yaml:"network_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ShareContract  string `yaml:"share_contract"`
	RoleContract   string `yaml:"role_contract"`
	// SignerKey is the hex private key used to sign settlement
	// transactions. Only read from the environment, never from file.
	SignerKey string `yaml:"-"`
}

// Timeout returns the RPC timeout as a duration.
func (c ChainConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultChainTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RosterConfig tunes membership workflow behavior.
type RosterConfig struct {
	CaptainRole    string `yaml:"captain_role"`
	StartingShares uint64 `yaml:"starting_shares"`
	SweepSchedule  string `yaml:"sweep_schedule"`
	DisableSweeper bool   `yaml:"disable_sweeper"`
	// Captains is a comma-separated captain principal list for the
	// static oracle. Ignored when a role contract is configured.
	Captains string `yaml:"captains"`
	// VotingPeriod seeds the in-memory ledger's voting period in
	// seconds. Ignored when a share contract is configured.
	VotingPeriod uint64 `yaml:"voting_period"`
}

// AuthConfig controls API authentication. An empty secret trusts the
// X-Caller header, which is only suitable behind a gateway.
type AuthConfig struct {
	JWTSecret string `yaml:"-"`
}

// RateLimitConfig bounds request throughput. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Chain     ChainConfig     `yaml:"chain"`
	Roster    RosterConfig    `yaml:"roster"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads the file named by CREW_CONFIG (if set), then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv("CREW_CONFIG"))
}

// LoadFromPath reads the YAML file at path. An empty path skips the
// file and builds configuration from environment and defaults alone.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Host, "CREW_HOST")
	setInt(&c.Server.Port, "CREW_PORT")
	setString(&c.Logging.Level, "CREW_LOG_LEVEL")
	setString(&c.Logging.Format, "CREW_LOG_FORMAT")
	setString(&c.Database.DSN, "CREW_DATABASE_DSN")
	setString(&c.Chain.RPCURL, "CREW_CHAIN_RPC_URL")
	setUint32(&c.Chain.NetworkID, "CREW_CHAIN_NETWORK_ID")
	setInt(&c.Chain.TimeoutSeconds, "CREW_CHAIN_TIMEOUT_SECONDS")
	setString(&c.Chain.ShareContract, "CREW_SHARE_CONTRACT")
	setString(&c.Chain.RoleContract, "CREW_ROLE_CONTRACT")
	c.Chain.SignerKey = os.Getenv("CREW_SIGNER_KEY")
	setString(&c.Roster.CaptainRole, "CREW_CAPTAIN_ROLE")
	setUint64(&c.Roster.StartingShares, "CREW_STARTING_SHARES")
	setString(&c.Roster.SweepSchedule, "CREW_SWEEP_SCHEDULE")
	setString(&c.Roster.Captains, "CREW_CAPTAINS")
	c.Auth.JWTSecret = os.Getenv("CREW_JWT_SECRET")
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Roster.CaptainRole == "" {
		c.Roster.CaptainRole = DefaultCaptainRole
	}
	if c.Roster.StartingShares == 0 {
		c.Roster.StartingShares = DefaultStartingShares
	}
	if c.Roster.SweepSchedule == "" {
		c.Roster.SweepSchedule = DefaultSweepSchedule
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Chain.RPCURL != "" && c.Chain.ShareContract == "" {
		return fmt.Errorf("chain.rpc_url set but chain.share_contract missing")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
