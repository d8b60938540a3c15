package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/unisync/internal/config"
	"github.com/roach88/unisync/internal/logging"
	"github.com/roach88/unisync/internal/metrics"
	"github.com/roach88/unisync/internal/screens"
	"github.com/roach88/unisync/internal/server"
	"github.com/roach88/unisync/internal/session"
	"github.com/roach88/unisync/internal/store"
	"github.com/roach88/unisync/internal/table"
)

// environment is everything a command needs to build documents: compiled
// screens, the table store and the process-wide table registry.
type environment struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *store.Store
	patches  *server.Queue
	tables   *table.Registry
	catalog  *screens.Catalog
	actions  screens.Actions

	// tmp is a scratch directory removed on close.
	tmp string
}

// openEnvironment compiles the screens of cfg and opens the table store. An
// empty DBPath uses a scratch database.
func openEnvironment(cfg *config.Config, actions screens.Actions, logger *logging.Logger) (*environment, error) {
	env := &environment{cfg: cfg, logger: logger, actions: actions}

	env.registry = prometheus.NewRegistry()
	env.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	env.metrics = metrics.New(env.registry)

	cat, err := screens.Load(cfg.ScreensDir)
	if err != nil {
		return nil, err
	}
	env.catalog = cat

	dbPath := cfg.DBPath
	if dbPath == "" {
		if env.tmp, err = os.MkdirTemp("", "unisync-"); err != nil {
			return nil, fmt.Errorf("scratch directory: %w", err)
		}
		dbPath = filepath.Join(env.tmp, "check.db")
	}
	if env.store, err = store.Open(dbPath, logger.Logger); err != nil {
		env.close()
		return nil, err
	}
	env.patches = server.NewQueue()
	env.tables = table.NewRegistry(env.store, table.Options{
		Sink:    env.patches,
		Logger:  logger.Logger,
		Metrics: env.metrics,
		Limit:   cfg.DefaultLimit,
	})
	return env, nil
}

// build instantiates the screens once, returning the usable ones and the
// problems of the others.
func (e *environment) build(ctx context.Context) (*session.Document, []error) {
	built, problems := e.catalog.Build(ctx, screens.BuildOptions{
		Actions: e.actions,
		Tables:  e.tables,
		Header:  e.cfg.AppName,
		Lang:    e.cfg.Language().String(),
	})
	return session.NewDocument(built), problems
}

// document is the server.Loader: a fresh document, problems logged.
func (e *environment) document(ctx context.Context) (*session.Document, error) {
	doc, problems := e.build(ctx)
	for _, p := range problems {
		e.logger.Warn("screen left out", "error", p)
	}
	if len(doc.Screens()) == 0 && len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return doc, nil
}

func (e *environment) close() {
	if e.patches != nil {
		e.patches.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("close store", "error", err)
		}
	}
	if e.tmp != "" {
		os.RemoveAll(e.tmp)
	}
}
