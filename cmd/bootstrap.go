package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database/postgres"
)

// repos bundles the Postgres repositories the commands wire together.
type repos struct {
	photos  *postgres.PhotoRepository
	bibs    *postgres.BibRepository
	faces   *postgres.FaceRepository
	batches *postgres.BatchRepository
	audit   *postgres.AuditRepository
	rules   *postgres.RulesRepository
}

// connectDatabase opens the pool and applies pending migrations.
func connectDatabase(ctx context.Context, cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return pool, nil
}

func newRepos(pool *postgres.Pool) repos {
	return repos{
		photos:  postgres.NewPhotoRepository(pool),
		bibs:    postgres.NewBibRepository(pool),
		faces:   postgres.NewFaceRepository(pool),
		batches: postgres.NewBatchRepository(pool),
		audit:   postgres.NewAuditRepository(pool),
		rules:   postgres.NewRulesRepository(pool),
	}
}
