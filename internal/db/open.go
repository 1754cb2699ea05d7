package db

import (
	"context"

	"go.uber.org/zap"
)

// Open picks PostgreSQL when databaseURL is set and SQLite otherwise, and
// makes sure the schema exists
func Open(ctx context.Context, databaseURL, sqlitePath string, logger *zap.SugaredLogger) (JobStore, error) {
	if databaseURL != "" {
		store, err := NewPostgresStore(ctx, databaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Infow("Job ledger ready", "backend", "postgres")
		return store, nil
	}

	database, err := Connect(sqlitePath, logger)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	logger.Infow("Job ledger ready", "backend", "sqlite")
	return database, nil
}
