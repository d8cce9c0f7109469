package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Events    EventsConfig    `mapstructure:"events"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EngineConfig holds approval policy
type EngineConfig struct {
	RiskCutoff           float64       `mapstructure:"risk_cutoff"`
	RiskReviewRole       string        `mapstructure:"risk_review_role"`
	ReviewBelowThreshold bool          `mapstructure:"review_below_threshold"`
	OverrideRole         string        `mapstructure:"override_role"`
	SchedulerRole        string        `mapstructure:"scheduler_role"`
	EscalationTiers      []string      `mapstructure:"escalation_tiers"`
	PersistAttempts      int           `mapstructure:"persist_attempts"`
	PersistRetryInterval time.Duration `mapstructure:"persist_retry_interval"`
}

// RiskConfig selects and configures the risk service
type RiskConfig struct {
	Mode     string           `mapstructure:"mode"` // http or static
	Endpoint string           `mapstructure:"endpoint"`
	APIKey   string           `mapstructure:"api_key"`
	Timeout  time.Duration    `mapstructure:"timeout"`
	Attempts int              `mapstructure:"attempts"`
	Static   StaticRiskConfig `mapstructure:"static"`
}

// StaticRiskConfig configures the in-process assessor
type StaticRiskConfig struct {
	BaseScore         float64  `mapstructure:"base_score"`
	LargeAmount       float64  `mapstructure:"large_amount"`
	LargeAmountWeight float64  `mapstructure:"large_amount_weight"`
	BlockedRequesters []string `mapstructure:"blocked_requesters"`
}

// RulesConfig locates the approval rules file
type RulesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// DirectoryConfig locates the identity directory file
type DirectoryConfig struct {
	Path string `mapstructure:"path"`
}

// EventsConfig configures the outbox relay and the NATS sink.
// An empty NATS URL logs events instead of publishing them.
type EventsConfig struct {
	NATSURL       string        `mapstructure:"nats_url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ConnectWait   time.Duration `mapstructure:"connect_wait"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	// IntakeRole is the token role allowed to file transactions for other requesters
	IntakeRole string `mapstructure:"intake_role"`
}

// RateLimitConfig throttles action submission per actor
type RateLimitConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

// Load loads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APPROVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/approvals.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age_days", 30)

	// Engine defaults
	v.SetDefault("engine.risk_cutoff", 0.7)
	v.SetDefault("engine.risk_review_role", "risk-review")
	v.SetDefault("engine.review_below_threshold", true)
	v.SetDefault("engine.override_role", "cfo")
	v.SetDefault("engine.scheduler_role", "scheduler")
	v.SetDefault("engine.escalation_tiers", []string{"director", "vp-finance", "cfo"})
	v.SetDefault("engine.persist_attempts", 3)
	v.SetDefault("engine.persist_retry_interval", 50*time.Millisecond)

	// Risk defaults
	v.SetDefault("risk.mode", "static")
	v.SetDefault("risk.timeout", 2*time.Second)
	v.SetDefault("risk.attempts", 3)
	v.SetDefault("risk.static.base_score", 0.1)

	// Collaborator files
	v.SetDefault("rules.path", "configs/rules.yaml")
	v.SetDefault("rules.watch", true)
	v.SetDefault("directory.path", "configs/directory.yaml")

	// Events defaults
	v.SetDefault("events.subject_prefix", "approval")
	v.SetDefault("events.connect_wait", 5*time.Second)
	v.SetDefault("events.relay_interval", time.Second)
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.max_attempts", 10)

	// Auth defaults
	v.SetDefault("auth.issuer", "approval-engine")
	v.SetDefault("auth.intake_role", "intake")

	// Rate limit defaults
	v.SetDefault("ratelimit.qps", 5)
	v.SetDefault("ratelimit.burst", 10)
}

// bindEnvVars binds the conventional unprefixed names for secrets and endpoints
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"auth.jwt_secret": {"APPROVAL_AUTH_JWT_SECRET", "JWT_SECRET"},
		"risk.api_key":    {"APPROVAL_RISK_API_KEY", "RISK_API_KEY"},
		"risk.endpoint":   {"APPROVAL_RISK_ENDPOINT", "RISK_ENDPOINT"},
		"events.nats_url": {"APPROVAL_EVENTS_NATS_URL", "NATS_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Rules.Path == "" {
		return fmt.Errorf("rules.path is required")
	}
	if c.Directory.Path == "" {
		return fmt.Errorf("directory.path is required")
	}

	if c.Engine.RiskCutoff <= 0 || c.Engine.RiskCutoff >= 1 {
		return fmt.Errorf("engine.risk_cutoff must be within (0, 1), got %v", c.Engine.RiskCutoff)
	}
	if c.Engine.OverrideRole == "" {
		return fmt.Errorf("engine.override_role is required")
	}

	switch c.Risk.Mode {
	case "http":
		if c.Risk.Endpoint == "" {
			return fmt.Errorf("risk.endpoint is required in http mode")
		}
	case "static":
		if s := c.Risk.Static.BaseScore; s < 0 || s > 1 {
			return fmt.Errorf("risk.static.base_score must be within [0, 1], got %v", s)
		}
	default:
		return fmt.Errorf("risk.mode must be http or static, got %q", c.Risk.Mode)
	}
	if c.Risk.Attempts < 1 {
		return fmt.Errorf("risk.attempts must be at least 1")
	}

	if c.Events.BatchSize < 1 {
		return fmt.Errorf("events.batch_size must be at least 1")
	}
	if c.Events.MaxAttempts < 0 {
		return fmt.Errorf("events.max_attempts must not be negative")
	}
	if c.RateLimit.QPS < 0 {
		return fmt.Errorf("ratelimit.qps must not be negative")
	}

	return nil
}
