// Package container wires the receipt service from its configuration and
// manages the lifecycle of its components.
package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/dispatcher"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/service"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/config"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/document"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/export"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/external/openai"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/repository"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/sqlite"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/metrics"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/session"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/storage"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/upload"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/worker"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/database"
)

// DatabaseBundle holds database-related components
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access
type RepositoryBundle struct {
	Receipt port.ReceiptRepository
	History port.HistoryRepository
}

// NumberBundle holds the number conventions and derivation rules
type NumberBundle struct {
	Rules   *derivation.Rules
	Input   *locale.NumberFormat
	Display *locale.NumberFormat
}

// OCRBundle holds the document pipeline collaborators
type OCRBundle struct {
	Converter  *document.Converter
	Classifier *openai.Classifier
	Extractor  *openai.Extractor
}

// StorageBundle holds storage-related components
type StorageBundle struct {
	Archiver    *storage.Archiver
	ExportFiles *storage.LocalFileStorage
}

// ServiceBundle groups all application services
type ServiceBundle struct {
	Exporter    *export.Exporter
	Submissions service.SubmissionService
	Receipts    service.ReceiptService
}

// ProvideNumbers creates the derivation rules and the input and display formats
func ProvideNumbers(cfg *config.Config) (*NumberBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	rules, err := derivation.NewRules(cfg.VatRate())
	if err != nil {
		return nil, fmt.Errorf("failed to create derivation rules: %w", err)
	}
	input, err := locale.Lookup(cfg.Reconciliation.Locale)
	if err != nil {
		return nil, err
	}
	display, err := locale.Lookup(cfg.Reconciliation.DisplayLocale)
	if err != nil {
		return nil, err
	}

	return &NumberBundle{
		Rules:   rules,
		Input:   locale.NewNumberFormat(input),
		Display: locale.NewNumberFormat(display),
	}, nil
}

// ProvideDatabase opens the database, runs pending migrations and creates
// the transaction manager
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
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

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrationsDir(cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Raw:            db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the transaction manager
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Receipt: repository.NewReceiptRepository(db, logger),
		History: repository.NewHistoryRepository(db, logger),
	}, nil
}

// ProvideOCR creates the converter and the supplier backed classifier and extractor
func ProvideOCR(cfg *config.Config, input *locale.NumberFormat, observer openai.Observer, logger *zap.Logger) (*OCRBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	prompts, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	var opts []openai.ClientOption
	if observer != nil {
		opts = append(opts, openai.WithObserver(observer))
	}
	client := openai.NewClient(openai.ClientConfig{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
		Burst:             cfg.OpenAI.Burst,
		BreakerFailures:   cfg.OpenAI.BreakerFailures,
		BreakerCooldown:   cfg.OpenAI.BreakerCooldown,
	}, logger, opts...)

	classifier, err := openai.NewClassifier(client, prompts,
		openai.ConfidenceThreshold{MinConfidence: cfg.OpenAI.MinConfidence}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	return &OCRBundle{
		Converter: document.NewConverter(document.Options{
			MaxFileSize: cfg.Upload.MaxFileSize,
			MaxPages:    cfg.Upload.MaxPages,
			DPI:         cfg.Upload.DPI,
			JPEGQuality: cfg.Upload.JPEGQuality,
		}, logger),
		Classifier: classifier,
		Extractor:  openai.NewExtractor(client, prompts, input, logger),
	}, nil
}

// ProvideStorage creates the upload archiver and the export file storage
func ProvideStorage(cfg *config.Config, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &StorageBundle{
		Archiver:    storage.NewArchiver(cfg.Storage.UploadDir, logger),
		ExportFiles: storage.NewLocalFileStorage(cfg.Export.Dir, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the history recorder
func ProvideDispatcher(history port.HistoryRepository, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if history == nil {
		return nil, fmt.Errorf("history repository is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := dispatcher.NewDispatcher(dispatcher.WithLogger(logger))
	service.SubscribeHistory(d, history, logger)
	return d, nil
}

// SessionDeps holds dependencies for the session manager
type SessionDeps struct {
	Config    *config.Config
	Numbers   *NumberBundle
	OCR       *OCRBundle
	Storage   *StorageBundle
	Publisher upload.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// ProvideSessions creates the session manager
func ProvideSessions(deps *SessionDeps) (*session.Manager, error) {
	if deps == nil || deps.Config == nil || deps.Numbers == nil || deps.OCR == nil {
		return nil, fmt.Errorf("session dependencies are incomplete")
	}

	cfg := deps.Config
	sessionDeps := session.Dependencies{
		Rules:      deps.Numbers.Rules,
		Input:      deps.Numbers.Input,
		Display:    deps.Numbers.Display,
		Converter:  deps.OCR.Converter,
		Classifier: deps.OCR.Classifier,
		Extractor:  deps.OCR.Extractor,
		Publisher:  deps.Publisher,
	}
	if deps.Storage != nil {
		sessionDeps.Archiver = deps.Storage.Archiver
	}
	if deps.Metrics != nil {
		sessionDeps.Recorder = deps.Metrics
	}

	return session.NewManager(session.Config{
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxSessions: cfg.Session.MaxSessions,
		KeepUploads: cfg.Storage.KeepUploads,
		Upload: upload.Config{
			MaxConcurrent: cfg.Upload.MaxConcurrent,
			Timeout:       cfg.Upload.Timeout,
		},
	}, sessionDeps, deps.Logger), nil
}

// ServiceDeps holds dependencies for application services
type ServiceDeps struct {
	Config    *config.Config
	Numbers   *NumberBundle
	Repos     *RepositoryBundle
	Storage   *StorageBundle
	Sessions  *session.Manager
	Publisher upload.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// ProvideServices creates the exporter and the application services
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.Storage == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("service dependencies are incomplete")
	}

	exporter := export.NewExporter(deps.Numbers.Rules, deps.Numbers.Display,
		deps.Storage.ExportFiles, deps.Config.Export.Dir, deps.Logger)

	var recorder service.SubmissionRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	submissions := service.NewSubmissionService(service.SubmissionConfig{
		Locale:  deps.Config.Reconciliation.Locale,
		VatRate: deps.Config.Reconciliation.VatRate,
	}, deps.Sessions, deps.Repos.Receipt, exporter, deps.Publisher, recorder, deps.Logger)

	receipts := service.NewReceiptService(deps.Repos.Receipt, deps.Repos.History,
		deps.Storage.ExportFiles, exporter, deps.Logger)

	return &ServiceBundle{
		Exporter:    exporter,
		Submissions: submissions,
		Receipts:    receipts,
	}, nil
}

// ProvideWorkers creates the worker manager with all workers registered but not started
func ProvideWorkers(cfg *config.SessionConfig, sessions *session.Manager, logger *zap.Logger) (*worker.Manager, error) {
	if cfg == nil || sessions == nil {
		return nil, fmt.Errorf("worker dependencies are incomplete")
	}

	manager := worker.NewManager(logger)
	manager.Register(worker.NewSessionJanitor(sessions, cfg.JanitorInterval, logger))
	return manager, nil
}
