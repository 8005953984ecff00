// Package auditbackend opens the audit store selected by configuration.
package auditbackend

import (
	"context"
	"fmt"
	"log/slog"

	"mdnorm/internal/platform/config"
	audit "mdnorm/pkg/platform/audit"
	auditmem "mdnorm/pkg/platform/audit/store/memory"
	auditpg "mdnorm/pkg/platform/audit/store/postgres"
	auditsqlite "mdnorm/pkg/platform/audit/store/sqlite"
)

// Backend is an opened audit store with its health check and cleanup.
type Backend struct {
	Store audit.Store
	Ping  func(ctx context.Context) error
	Close func() error
}

// Open builds the store named by cfg.Audit.Backend. The postgres backend
// applies its schema before returning.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	noop := func() error { return nil }
	alwaysUp := func(context.Context) error { return nil }

	switch cfg.Audit.Backend {
	case config.AuditBackendMemory:
		logger.WarnContext(ctx, "audit records are kept in memory and lost on restart",
			"capacity", cfg.Audit.RingCapacity,
		)
		return &Backend{
			Store: auditmem.NewInMemoryStore(cfg.Audit.RingCapacity),
			Ping:  alwaysUp,
			Close: noop,
		}, nil

	case config.AuditBackendSQLite:
		store, err := auditsqlite.Open(ctx, cfg.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite audit store: %w", err)
		}
		logger.InfoContext(ctx, "audit trail on sqlite", "path", cfg.Audit.SQLitePath)
		return &Backend{Store: store, Ping: store.Ping, Close: store.Close}, nil

	case config.AuditBackendPostgres:
		db, err := auditpg.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		store := auditpg.New(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.InfoContext(ctx, "audit trail on postgres")
		return &Backend{Store: store, Ping: db.PingContext, Close: db.Close}, nil

	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}
