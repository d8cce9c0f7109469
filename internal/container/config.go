// Package container provides dependency injection and lifecycle management
// for the approval engine.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/pkg/database"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database  DatabaseConfig
	Engine    EngineConfig
	Risk      RiskConfig
	Rules     RulesConfig
	Directory DirectoryConfig
	Events    EventsConfig
	Server    ServerConfig
	Auth      AuthConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or database.MemoryPath
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// EngineConfig holds approval policy.
type EngineConfig struct {
	RiskCutoff           float64
	RiskReviewRole       string
	ReviewBelowThreshold bool
	OverrideRole         string
	SchedulerRole        string
	EscalationTiers      []string

	// PersistAttempts bounds retries of a commit that failed for a transient reason
	PersistAttempts      int
	PersistRetryInterval time.Duration
}

// RiskConfig selects the risk service.
type RiskConfig struct {
	// Mode is "http" or "static"
	Mode     string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Attempts int

	StaticBaseScore         float64
	StaticLargeAmount       float64
	StaticLargeAmountWeight float64
	StaticBlockedRequesters []string
}

// RulesConfig locates the rule file.
type RulesConfig struct {
	Path  string
	Watch bool
}

// DirectoryConfig locates the identity directory.
type DirectoryConfig struct {
	Path string
}

// EventsConfig holds outbox relay and NATS settings.
type EventsConfig struct {
	// NATSURL is optional; without it events are logged
	NATSURL       string
	SubjectPrefix string
	ConnectWait   time.Duration
	RelayInterval time.Duration
	BatchSize     int
	MaxAttempts   int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	Mode           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RateLimitQPS   float64
	RateLimitBurst int
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	IntakeRole string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approvals.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			RiskCutoff:           0.7,
			RiskReviewRole:       "risk-review",
			ReviewBelowThreshold: true,
			OverrideRole:         "cfo",
			SchedulerRole:        "scheduler",
			EscalationTiers:      []string{"director", "vp-finance", "cfo"},
			PersistAttempts:      3,
			PersistRetryInterval: 50 * time.Millisecond,
		},
		Risk: RiskConfig{
			Mode:            "static",
			Timeout:         2 * time.Second,
			Attempts:        3,
			StaticBaseScore: 0.1,
		},
		Rules: RulesConfig{
			Path:  "configs/rules.yaml",
			Watch: true,
		},
		Directory: DirectoryConfig{
			Path: "configs/directory.yaml",
		},
		Events: EventsConfig{
			SubjectPrefix: "approval",
			ConnectWait:   5 * time.Second,
			RelayInterval: time.Second,
			BatchSize:     100,
			MaxAttempts:   10,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			Mode:           "release",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			RateLimitQPS:   5,
			RateLimitBurst: 10,
		},
		Auth: AuthConfig{
			Issuer:     "approval-engine",
			IntakeRole: "intake",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Path == database.MemoryPath && c.Database.MaxOpenConns != 1 {
		return fmt.Errorf("an in-memory database needs database.max_open_conns = 1")
	}
	if c.Rules.Path == "" {
		return fmt.Errorf("rules.path is required")
	}
	if c.Directory.Path == "" {
		return fmt.Errorf("directory.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Risk.Mode {
	case "http":
		if c.Risk.Endpoint == "" {
			return fmt.Errorf("risk.endpoint is required in http mode")
		}
	case "static":
	default:
		return fmt.Errorf("unknown risk mode %q", c.Risk.Mode)
	}
	return nil
}
