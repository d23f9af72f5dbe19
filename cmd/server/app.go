package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/soaringjerry/recipesurvey/internal/api"
	"github.com/soaringjerry/recipesurvey/internal/catalog"
	"github.com/soaringjerry/recipesurvey/internal/config"
	dbstore "github.com/soaringjerry/recipesurvey/internal/db"
	"github.com/soaringjerry/recipesurvey/internal/services"
)

// sessionBackend is what the commands need from a store.
type sessionBackend interface {
	services.SessionStore
	api.Pinger
}

// app holds the wired services shared by all commands.
type app struct {
	store    sessionBackend
	catalog  *catalog.Catalog
	sessions *services.SessionService
	exports  *services.ExportService
	stats    *services.AnalyticsService
	closer   io.Closer
	// freshDB is set when the SQLite file did not exist before this run.
	freshDB bool
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func openStore(ctx context.Context, c config.Config, log *slog.Logger) (sessionBackend, io.Closer, bool, error) {
	if c.Database.Memory {
		log.Warn("using in-memory session store; data is lost on restart")
		return api.NewMemoryStore(), nil, true, nil
	}
	fresh := false
	if _, err := os.Stat(c.Database.Path); errors.Is(err, os.ErrNotExist) {
		fresh = true
		if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0o755); err != nil {
			return nil, nil, false, fmt.Errorf("create database dir: %w", err)
		}
	}
	conn, err := dbstore.Open(c.Database.Path)
	if err != nil {
		return nil, nil, false, err
	}
	applied, err := dbstore.RunMigrations(ctx, conn, c.Database.MigrationsDir)
	if err != nil {
		conn.Close()
		return nil, nil, false, fmt.Errorf("run migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Info("applied migrations", "files", applied)
	}
	store, err := dbstore.NewSQLiteStore(conn)
	if err != nil {
		conn.Close()
		return nil, nil, false, fmt.Errorf("init sqlite store: %w", err)
	}
	return store, store, fresh, nil
}

// newApp loads the catalog and opens the store. The catalog must be able to
// supply a full assignment or startup fails.
func newApp(ctx context.Context, c config.Config, log *slog.Logger) (*app, error) {
	cat, err := catalog.LoadFile(c.Catalog.Path, catalog.LoadOptions{})
	if err != nil {
		return nil, err
	}
	sampler := services.NewSampler()
	if err := sampler.CheckCatalog(cat); err != nil {
		return nil, err
	}
	log.Info("catalog loaded", "recipes", cat.Len(), "categories", len(cat.Categories()))

	store, closer, fresh, err := openStore(ctx, c, log)
	if err != nil {
		return nil, err
	}
	sc := c.SessionConfig()
	sessions := services.NewSessionService(store, cat, sampler, sc)
	sessions.SetLogger(log.With("component", "sessions"))
	return &app{
		store:    store,
		catalog:  cat,
		sessions: sessions,
		exports:  services.NewExportService(store, cat, sc.Thresholds),
		stats:    services.NewAnalyticsService(store, cat, sc.Thresholds),
		closer:   closer,
		freshDB:  fresh,
	}, nil
}
