package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	httpapi "github.com/garyjia/approval-engine/internal/interfaces/http"
	"github.com/garyjia/approval-engine/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components initialize in dependency order and tear down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Collaborators and events
	collaborators *CollaboratorBundle
	events        *EventsBundle

	// Application
	engine workflow.Orchestrator
	server *httpapi.Server

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflows      port.WorkflowRepository
	Actions        port.ActionRepository
	Assessments    port.RiskAssessmentRepository
	Holds          port.HoldRepository
	SecurityEvents port.SecurityEventRepository
	Outbox         port.OutboxRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins background processing.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Rule store, identity directory and risk service
// 3. Event dispatcher and sink
// 4. Orchestrator and HTTP server
// 5. Workers
//
// A failed step releases everything opened before it.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"collaborators", c.initCollaborators},
		{"events", c.initEvents},
		{"engine", c.initEngine},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Container step initialized", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized, newest first
func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	if c.events != nil {
		if err := c.events.Dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		if c.events.Conn != nil {
			if err := c.events.Conn.Drain(); err != nil {
				c.logger.Error("Failed to drain NATS connection", zap.Error(err))
				errs = append(errs, fmt.Errorf("drain nats: %w", err))
			}
		}
		c.events = nil
		c.logger.Info("Event path closed")
	}

	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.database = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// HealthStatus returns health status of all components.
func (c *Container) HealthStatus(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.database != nil {
		if err := c.database.Health(ctx); err != nil {
			set("database", false, err.Error())
		} else {
			set("database", true, "")
		}
	} else {
		set("database", false, "not initialized")
	}

	if c.collaborators != nil {
		n := c.collaborators.Rules.Count()
		set("rules", n > 0, fmt.Sprintf("rule count: %d", n))
		set("directory", true, fmt.Sprintf("user count: %d", c.collaborators.Directory.Size()))
	} else {
		set("rules", false, "not initialized")
	}

	if c.events != nil && c.events.Conn != nil {
		connected := c.events.Conn.IsConnected()
		set("nats", connected, c.events.Conn.Status().String())
	}

	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	return status
}

// Health implements the HTTP health check
func (c *Container) Health(ctx context.Context) error {
	status := c.HealthStatus(ctx)
	if status.Overall {
		return nil
	}
	for name, comp := range status.Components {
		if !comp.Healthy {
			return fmt.Errorf("%s unhealthy: %s", name, comp.Message)
		}
	}
	return fmt.Errorf("unhealthy")
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = dbBundle.DB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.database, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initCollaborators() error {
	collaborators, err := ProvideCollaborators(c.config, c.logger)
	if err != nil {
		return err
	}
	c.collaborators = collaborators
	return nil
}

func (c *Container) initEvents() error {
	events, err := ProvideEvents(&c.config.Events, c.logger)
	if err != nil {
		return err
	}
	c.events = events
	return nil
}

func (c *Container) initEngine() error {
	engine, err := ProvideEngine(&EngineDeps{
		Repos:         c.repositories,
		TxManager:     c.db,
		Collaborators: c.collaborators,
		Engine:        &c.config.Engine,
		Risk:          &c.config.Risk,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	server, err := ProvideHTTPServer(c.config, engine, c, c.logger)
	if err != nil {
		return err
	}
	c.server = server
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Outbox:     c.repositories.Outbox,
		Dispatcher: c.events.Dispatcher,
		Rules:      c.collaborators.Rules,
		WatchRules: c.config.Rules.Watch,
		Events:     &c.config.Events,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	if err := workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workers = workers
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	if c.events == nil {
		return nil
	}
	return c.events.Dispatcher
}

// Engine returns the workflow orchestrator.
func (c *Container) Engine() workflow.Orchestrator {
	return c.engine
}

// HTTPServer returns the API server; the caller runs it.
func (c *Container) HTTPServer() *httpapi.Server {
	return c.server
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}
