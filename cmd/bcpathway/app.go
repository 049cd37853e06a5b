package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/config"
	"github.com/bc-pathway-engine/internal/database"
	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/logging"
	"github.com/bc-pathway-engine/internal/publish"
	"github.com/bc-pathway-engine/internal/recordstore"
	"github.com/bc-pathway-engine/internal/results"
	"github.com/bc-pathway-engine/internal/service"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// loadConfig resolves the configuration from the config file and BC_PATHWAY_* variables,
// or from the BCP_* lite settings.
func loadConfig(opts *rootOptions) (*domain.Config, error) {
	if opts.lite {
		lite := config.LoadLiteConfig()
		if err := lite.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return lite.ToConfig(), nil
	}

	manager, err := config.NewManager(opts.configFile)
	if err != nil {
		return nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return manager.GetConfig(), nil
}

// app holds the wired components of one command invocation.
type app struct {
	cfg           *domain.Config
	logger        *logrus.Logger
	characterizer *service.Characterizer
	results       results.Store
	publisher     publish.Publisher
	closers       []func() error
}

type appOptions struct {
	withEngine    bool
	withResults   bool
	withPublisher bool
}

// newApp wires the requested components: the record store stack and engine, the results
// store, and the Kafka publisher.
func newApp(ctx context.Context, cfg *domain.Config, opts appOptions) (*app, error) {
	logger, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	if opts.withEngine {
		if err := a.buildEngine(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.withResults {
		if err := a.openResults(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.withPublisher {
		publisher, err := publish.New(cfg.Kafka, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = publisher
		a.closers = append(a.closers, publisher.Close)
	}
	return a, nil
}

func (a *app) buildEngine(ctx context.Context) error {
	vocab, err := loadVocabulary(a.cfg.Engine.VocabularyPath)
	if err != nil {
		return err
	}

	sqlStore, err := recordstore.OpenSQLStore(ctx, a.cfg.RecordStore, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, sqlStore.Close)
	if a.cfg.RecordStore.Driver == recordstore.DriverSQLite {
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	resilient := recordstore.NewResilientStore(sqlStore, a.cfg.RecordStore, a.logger)
	cached, err := recordstore.NewCachingStore(resilient, a.cfg.Cache, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, cached.Close)

	engine := service.NewEngine(cached, vocab, a.logger,
		service.WithWorkers(a.cfg.Engine.Workers),
		service.WithNoSurgeryLabel(a.cfg.Engine.NoSurgeryLabel),
	)
	a.characterizer = service.NewCharacterizer(engine)

	a.logger.WithFields(logrus.Fields{
		"vocabulary": vocab.Version(),
		"workers":    a.cfg.Engine.Workers,
		"redis":      a.cfg.Cache.RedisURL != "",
	}).Debug("Engine ready")
	return nil
}

func loadVocabulary(path string) (*vocabulary.Vocabulary, error) {
	if path == "" {
		return vocabulary.Default()
	}
	return vocabulary.Load(path)
}

func (a *app) openResults(ctx context.Context) error {
	switch a.cfg.Results.Backend {
	case "", "none":
		return nil
	case "sqlite":
		if dir := filepath.Dir(a.cfg.Results.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create results directory: %w", err)
			}
		}
		store, err := results.NewSQLiteStore(a.cfg.Results.SQLitePath)
		if err != nil {
			return err
		}
		a.results = store
		a.closers = append(a.closers, store.Close)
	case "postgres":
		db, err := database.NewConnection(ctx, database.ConfigFrom(a.cfg.Database), a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		store, err := results.NewPostgresStore(db)
		if err != nil {
			return err
		}
		a.results = store
	default:
		return fmt.Errorf("unsupported results backend %q", a.cfg.Results.Backend)
	}
	return nil
}

// Close releases every opened component, most recent first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close component")
		}
	}
	a.closers = nil
}
