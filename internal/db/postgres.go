// Package db provides database connection helpers.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool parses storeURL, applies the store key as the connection
// password and verifies connectivity.
func NewPostgresPool(ctx context.Context, storeURL, storeKey string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(storeURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	if storeKey != "" {
		poolCfg.ConnConfig.Password = storeKey
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}
