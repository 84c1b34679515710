package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/dispatcher"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/config"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/sqlite"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/metrics"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/session"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/worker"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Data
	rawDB        *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Reconciliation
	numbers *NumberBundle
	ocr     *OCRBundle
	storage *StorageBundle
	metrics *metrics.Metrics

	// Application
	dispatcher dispatcher.Dispatcher
	sessions   *session.Manager
	services   *ServiceBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
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
// It does not initialize components, call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
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

// Start initializes all components and starts the workers.
// Components are initialized in dependency order:
// 1. Number conventions and derivation rules
// 2. Database and repositories
// 3. Metrics and event dispatcher
// 4. OCR pipeline and storage
// 5. Sessions and application services
// 6. Workers
//
// On failure everything initialized so far is closed again.
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
		init func() error
	}{
		{"numbers", c.initNumbers},
		{"database", c.initDatabase},
		{"dispatcher", c.initDispatcher},
		{"ocr and storage", c.initPipeline},
		{"services", c.initServices},
		{"workers", c.initWorkers},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			c.teardown()
			c.closed.Store(true)
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
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
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 6)
	if c.workers != nil {
		c.workers.StopAll()
		c.logger.Info("Workers stopped")
	}

	// Step 2: Close sessions, waits for running uploads (reverse of step 5)
	if c.sessions != nil {
		if err := c.sessions.Close(); err != nil {
			c.logger.Error("Failed to close sessions", zap.Error(err))
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		} else {
			c.logger.Info("Sessions closed")
		}
	}

	// Step 3: Close dispatcher (reverse of step 3)
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 4: Close database (reverse of step 2)
	if c.rawDB != nil {
		if err := c.rawDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notInitialized := ComponentHealth{Healthy: false, Message: "not initialized"}

	if c.rawDB != nil {
		if err := c.rawDB.Ping(); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	} else {
		set("database", notInitialized)
	}

	if c.workers != nil {
		running := c.workers.Running()
		set("workers", ComponentHealth{
			Healthy: running == c.workers.Count(),
			Message: fmt.Sprintf("running %d of %d", running, c.workers.Count()),
		})
	} else {
		set("workers", notInitialized)
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", notInitialized)
	}

	if c.sessions != nil {
		set("sessions", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("open sessions: %d", c.sessions.Count()),
		})
	} else {
		set("sessions", notInitialized)
	}

	return status
}

func (c *Container) initNumbers() error {
	numbers, err := ProvideNumbers(c.config)
	if err != nil {
		return err
	}
	c.numbers = numbers
	return nil
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.rawDB = dbBundle.Raw
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initDispatcher() error {
	c.metrics = metrics.New()

	disp, err := ProvideDispatcher(c.repositories.History, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	return nil
}

func (c *Container) initPipeline() error {
	ocr, err := ProvideOCR(c.config, c.numbers.Input, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.ocr = ocr

	storageBundle, err := ProvideStorage(c.config, c.logger)
	if err != nil {
		return err
	}
	c.storage = storageBundle
	return nil
}

func (c *Container) initServices() error {
	sessions, err := ProvideSessions(&SessionDeps{
		Config:    c.config,
		Numbers:   c.numbers,
		OCR:       c.ocr,
		Storage:   c.storage,
		Publisher: c.dispatcher,
		Metrics:   c.metrics,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.sessions = sessions

	services, err := ProvideServices(&ServiceDeps{
		Config:    c.config,
		Numbers:   c.numbers,
		Repos:     c.repositories,
		Storage:   c.storage,
		Sessions:  c.sessions,
		Publisher: c.dispatcher,
		Metrics:   c.metrics,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&c.config.Session, c.sessions, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Rules returns the derivation rules.
func (c *Container) Rules() *derivation.Rules {
	return c.numbers.Rules
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Sessions returns the session manager.
func (c *Container) Sessions() *session.Manager {
	return c.sessions
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// MetricsHandler serves the Prometheus registry.
func (c *Container) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
