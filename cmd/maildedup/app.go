package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/alias"
	"github.com/brandon/mail-dedup/internal/config"
	"github.com/brandon/mail-dedup/internal/fingerprint"
	"github.com/brandon/mail-dedup/internal/grouping"
	"github.com/brandon/mail-dedup/internal/ingest"
	"github.com/brandon/mail-dedup/internal/normalize"
	"github.com/brandon/mail-dedup/internal/report"
	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/internal/storage/postgres"
	"github.com/brandon/mail-dedup/internal/storage/sqlite"
)

// application holds the wired components shared by all commands.
type application struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    storage.Storage
	resolver *alias.Resolver
	ingester *ingest.Coordinator
	reports  *report.Service
}

func newApplication(ctx context.Context) (*application, error) {
	// Logs go to stderr: stdout carries command output and the MCP stream.
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	table, err := aliasTable(cfg)
	if err != nil {
		return nil, err
	}
	resolver := alias.New(table)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gen := fingerprint.NewGenerator(normalize.New(normalize.Options{MaskLinks: cfg.MaskLinks}), resolver)
	coordinator := ingest.NewCoordinator(store, gen, grouping.NewManager(cfg.AssignMaxAttempts, logger), ingest.Options{
		Workers:       cfg.IngestWorkers,
		RatePerSecond: cfg.IngestRatePerSec,
		Burst:         cfg.IngestBurst,
	}, logger)

	return &application{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		resolver: resolver,
		ingester: coordinator,
		reports:  report.NewService(store, resolver, cfg.SearchResultLimit, logger),
	}, nil
}

// aliasTable loads ALIAS_FILE when set and adds DOT_INSENSITIVE_DOMAINS.
func aliasTable(cfg *config.Config) (*alias.Table, error) {
	table := alias.DefaultTable()
	if cfg.AliasFile != "" {
		loaded, err := alias.LoadTable(cfg.AliasFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load alias file: %w", err)
		}
		table = loaded
	}
	if len(cfg.DotInsensitiveDomains) > 0 {
		table = table.WithDotInsensitive(cfg.DotInsensitiveDomains...)
	}
	return table, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (storage.Storage, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.DefaultConfig(cfg.DatabaseURL), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.New(cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return s, nil
	}
}

func (a *application) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close storage")
	}
}
