package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/soaringjerry/recipesurvey/internal/services"
)

// importLegacyIfNeeded performs the one-time import of the per-participant
// JSON files into a database created by this run. Later runs leave the
// database alone; use the import-legacy command to import again.
func importLegacyIfNeeded(ctx context.Context, a *app, legacyDir string, log *slog.Logger) error {
	if legacyDir == "" || !a.freshDB {
		return nil
	}
	if _, err := os.Stat(legacyDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("legacy directory not found, skipping import", "dir", legacyDir)
			return nil
		}
		return err
	}
	log.Info("first run detected, importing legacy responses", "dir", legacyDir)
	rep, err := services.ImportLegacy(ctx, a.store, legacyDir, a.sessions.Config(), log)
	if err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		log.Warn("some legacy files could not be imported", "files", rep.Failed)
	}
	return nil
}
