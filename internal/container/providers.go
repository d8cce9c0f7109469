package container

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/audit"
	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/rules"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/external/risk"
	"github.com/garyjia/approval-engine/internal/infrastructure/identity"
	"github.com/garyjia/approval-engine/internal/infrastructure/messaging"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/rulestore"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	httpapi "github.com/garyjia/approval-engine/internal/interfaces/http"
	"github.com/garyjia/approval-engine/migrations"
	"github.com/garyjia/approval-engine/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// CollaboratorBundle holds the engine's external collaborators.
type CollaboratorBundle struct {
	Rules     *rulestore.FileStore
	Directory *identity.Directory
	Risk      port.RiskService
}

// EventsBundle holds the outbound event path.
type EventsBundle struct {
	Dispatcher dispatcher.Dispatcher
	Publisher  port.EventPublisher
	// Conn is nil when events are only logged
	Conn *nats.Conn
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Workflows:      repository.NewWorkflowRepository(db.DB, logger),
		Actions:        repository.NewActionRepository(db.DB, logger),
		Assessments:    repository.NewRiskAssessmentRepository(db.DB, logger),
		Holds:          repository.NewHoldRepository(db.DB, logger),
		SecurityEvents: repository.NewSecurityEventRepository(db.DB, logger),
		Outbox:         repository.NewOutboxRepository(db.DB, logger),
	}, nil
}

// ProvideCollaborators loads the rule store and identity directory and builds the risk service.
func ProvideCollaborators(cfg *Config, logger *zap.Logger) (*CollaboratorBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	store, err := rulestore.NewFileStore(cfg.Rules.Path, logger.Named("rules"))
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	dir, err := identity.NewDirectory(cfg.Directory.Path, logger.Named("directory"))
	if err != nil {
		return nil, fmt.Errorf("failed to load identity directory: %w", err)
	}

	var riskSvc port.RiskService
	switch cfg.Risk.Mode {
	case "http":
		client, err := risk.NewClient(risk.ClientConfig{
			Endpoint: cfg.Risk.Endpoint,
			APIKey:   cfg.Risk.APIKey,
			Timeout:  cfg.Risk.Timeout,
		}, logger.Named("risk"))
		if err != nil {
			return nil, err
		}
		riskSvc = client
	default:
		logger.Warn("Using static risk assessor", zap.Float64("base_score", cfg.Risk.StaticBaseScore))
		riskSvc = risk.NewStaticAssessor(risk.StaticConfig{
			BaseScore:         cfg.Risk.StaticBaseScore,
			LargeAmount:       cfg.Risk.StaticLargeAmount,
			LargeAmountWeight: cfg.Risk.StaticLargeAmountWeight,
			BlockedRequesters: cfg.Risk.StaticBlockedRequesters,
		})
	}

	return &CollaboratorBundle{Rules: store, Directory: dir, Risk: riskSvc}, nil
}

// ProvideEvents creates the dispatcher and subscribes the event sink to every event.
// Without a NATS URL the sink only logs.
func ProvideEvents(cfg *EventsConfig, logger *zap.Logger) (*EventsBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("events config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &EventsBundle{
		Dispatcher: dispatcher.NewDispatcher(dispatcher.WithLogger(logger.Named("dispatcher").Sugar())),
	}

	if cfg.NATSURL != "" {
		nc, err := messaging.Connect(messaging.Config{
			URL:         cfg.NATSURL,
			ConnectWait: cfg.ConnectWait,
		}, logger)
		if err != nil {
			return nil, err
		}
		bundle.Conn = nc
		bundle.Publisher = messaging.NewNATSPublisher(nc, cfg.SubjectPrefix, logger.Named("nats"))
		logger.Info("Publishing events to NATS",
			zap.String("url", cfg.NATSURL),
			zap.String("subject_prefix", cfg.SubjectPrefix))
	} else {
		bundle.Publisher = messaging.NewLogPublisher(logger.Named("events"))
	}

	bundle.Dispatcher.Subscribe(dispatcher.AllEvents, "event_sink", messaging.Handler(bundle.Publisher))
	return bundle, nil
}

// EngineDeps holds dependencies required for creating the orchestrator.
type EngineDeps struct {
	Repos         *RepositoryBundle
	TxManager     port.TransactionManager
	Collaborators *CollaboratorBundle
	Engine        *EngineConfig
	Risk          *RiskConfig
	Logger        *zap.Logger
}

// ProvideEngine wires the rule evaluator, decision recorder and orchestrator.
func ProvideEngine(deps *EngineDeps) (workflow.Orchestrator, error) {
	if deps == nil {
		return nil, fmt.Errorf("engine dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Collaborators == nil {
		return nil, fmt.Errorf("collaborators are required")
	}
	if deps.Engine == nil || deps.Risk == nil {
		return nil, fmt.Errorf("engine and risk config are required")
	}

	evaluator := rules.NewEvaluator(deps.Collaborators.Rules, rules.Config{
		RiskCutoff:           deps.Engine.RiskCutoff,
		RiskReviewRole:       deps.Engine.RiskReviewRole,
		ReviewBelowThreshold: deps.Engine.ReviewBelowThreshold,
		Policy: domainwf.Policy{
			OverrideRole:    deps.Engine.OverrideRole,
			SchedulerRole:   deps.Engine.SchedulerRole,
			EscalationTiers: deps.Engine.EscalationTiers,
		},
	}, deps.Logger.Named("rules"))

	recorder := audit.NewRecorder(deps.Repos.Actions, deps.Repos.Workflows, deps.Logger.Named("audit"),
		audit.WithTxManager(deps.TxManager))

	return workflow.NewOrchestrator(workflow.Dependencies{
		Workflows:      deps.Repos.Workflows,
		Actions:        deps.Repos.Actions,
		Assessments:    deps.Repos.Assessments,
		Holds:          deps.Repos.Holds,
		SecurityEvents: deps.Repos.SecurityEvents,
		Outbox:         deps.Repos.Outbox,
		TxManager:      deps.TxManager,
		Evaluator:      evaluator,
		Recorder:       recorder,
		Risk:           deps.Collaborators.Risk,
		Identity:       deps.Collaborators.Directory,
	},
		workflow.WithLogger(deps.Logger.Named("orchestrator")),
		workflow.WithRiskPolicy(deps.Risk.Timeout, deps.Risk.Attempts),
		workflow.WithPersistRetry(deps.Engine.PersistAttempts, deps.Engine.PersistRetryInterval),
	), nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Outbox     port.OutboxRepository
	Dispatcher dispatcher.Dispatcher
	Rules      *rulestore.FileStore
	WatchRules bool
	Events     *EventsConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Outbox == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("outbox and dispatcher are required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("events config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewOutboxRelay(
		deps.Outbox,
		deps.Dispatcher,
		deps.Logger.Named("outbox"),
		worker.WithPollInterval(deps.Events.RelayInterval),
		worker.WithBatchSize(deps.Events.BatchSize),
		worker.WithMaxAttempts(deps.Events.MaxAttempts),
	))

	if deps.WatchRules && deps.Rules != nil {
		manager.Register(deps.Rules)
	}

	return manager, nil
}

// ProvideHTTPServer creates the API server over the orchestrator.
func ProvideHTTPServer(cfg *Config, engine workflow.Orchestrator, health httpapi.HealthChecker, logger *zap.Logger) (*httpapi.Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	auth, err := httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	return httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Mode:           cfg.Server.Mode,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RateLimitQPS:   cfg.Server.RateLimitQPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		IntakeRole:     cfg.Auth.IntakeRole,
	}, engine, auth, health, logger.Named("http")), nil
}
