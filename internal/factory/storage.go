package factory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-chat/internal/config"
	storepkg "github.com/mycelian/mycelian-chat/internal/store"
	"github.com/mycelian/mycelian-chat/internal/store/memstore"
	storepg "github.com/mycelian/mycelian-chat/internal/store/postgres"
	storesqlite "github.com/mycelian/mycelian-chat/internal/store/sqlite"
)

// NewStore returns the store.Store selected by cfg.DBDriver. The *sql.DB is
// returned for SQL drivers so callers can close it; it is nil for "memory".
// Postgres schema is applied asynchronously; returns store immediately for fast startup.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "memory":
		return memstore.New(), nil, nil
	case "sqlite":
		st, db, err := storesqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		log.Debug().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return st, db, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("CHAT_MEMORY_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		// Open connection synchronously since health checks need it immediately
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		go func() {
			bootstrapCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BootstrapTimeoutSeconds)*time.Second)
			defer cancel()
			if err := storepg.EnsureSchema(bootstrapCtx, db); err != nil {
				log.Warn().Err(err).Str("driver", cfg.DBDriver).Msg("store schema bootstrap failed")
			} else {
				log.Debug().Str("driver", cfg.DBDriver).Msg("store schema bootstrap completed")
			}
		}()

		var opts []storepg.Option
		if cfg.OutboxEnabled {
			opts = append(opts, storepg.WithOutbox())
		}
		return storepg.NewWithDB(db, opts...), db, nil
	}
	return nil, nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
}
