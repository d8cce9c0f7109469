package config

import (
	"github.com/garyjia/approval-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Engine: container.EngineConfig{
			RiskCutoff:           c.Engine.RiskCutoff,
			RiskReviewRole:       c.Engine.RiskReviewRole,
			ReviewBelowThreshold: c.Engine.ReviewBelowThreshold,
			OverrideRole:         c.Engine.OverrideRole,
			SchedulerRole:        c.Engine.SchedulerRole,
			EscalationTiers:      c.Engine.EscalationTiers,
			PersistAttempts:      c.Engine.PersistAttempts,
			PersistRetryInterval: c.Engine.PersistRetryInterval,
		},
		Risk: container.RiskConfig{
			Mode:                    c.Risk.Mode,
			Endpoint:                c.Risk.Endpoint,
			APIKey:                  c.Risk.APIKey,
			Timeout:                 c.Risk.Timeout,
			Attempts:                c.Risk.Attempts,
			StaticBaseScore:         c.Risk.Static.BaseScore,
			StaticLargeAmount:       c.Risk.Static.LargeAmount,
			StaticLargeAmountWeight: c.Risk.Static.LargeAmountWeight,
			StaticBlockedRequesters: c.Risk.Static.BlockedRequesters,
		},
		Rules: container.RulesConfig{
			Path:  c.Rules.Path,
			Watch: c.Rules.Watch,
		},
		Directory: container.DirectoryConfig{
			Path: c.Directory.Path,
		},
		Events: container.EventsConfig{
			NATSURL:       c.Events.NATSURL,
			SubjectPrefix: c.Events.SubjectPrefix,
			ConnectWait:   c.Events.ConnectWait,
			RelayInterval: c.Events.RelayInterval,
			BatchSize:     c.Events.BatchSize,
			MaxAttempts:   c.Events.MaxAttempts,
		},
		Server: container.ServerConfig{
			Host:           c.Server.Host,
			Port:           c.Server.Port,
			Mode:           c.Server.Mode,
			ReadTimeout:    c.Server.ReadTimeout,
			WriteTimeout:   c.Server.WriteTimeout,
			RateLimitQPS:   c.RateLimit.QPS,
			RateLimitBurst: c.RateLimit.Burst,
		},
		Auth: container.AuthConfig{
			JWTSecret:  c.Auth.JWTSecret,
			Issuer:     c.Auth.Issuer,
			IntakeRole: c.Auth.IntakeRole,
		},
	}
}
