package auditbackend

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdnorm/internal/platform/config"
	audit "mdnorm/pkg/platform/audit"
)

func TestOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := Open(ctx, config.Config{Audit: config.Audit{Backend: config.AuditBackendMemory, RingCapacity: 5}}, logger)
		require.NoError(t, err)
		defer b.Close()
		assert.NoError(t, b.Ping(ctx))
	})

	t.Run("sqlite persists across reopen", func(t *testing.T) {
		cfg := config.Config{Audit: config.Audit{
			Backend:    config.AuditBackendSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "audit.db"),
		}}
		b, err := Open(ctx, cfg, logger)
		require.NoError(t, err)
		require.NoError(t, b.Ping(ctx))
		require.NoError(t, b.Store.Append(ctx, audit.Record{
			ID:         "3f1c2a7e-0000-4000-8000-000000000001",
			ActionType: "MANUAL_EDIT",
			TableName:  "influencers",
			RecordID:   "1",
			ChangedBy:  "ops-1",
			Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}))
		require.NoError(t, b.Close())

		b, err = Open(ctx, cfg, logger)
		require.NoError(t, err)
		defer b.Close()
		got, err := b.Store.FindByID(ctx, "3f1c2a7e-0000-4000-8000-000000000001")
		require.NoError(t, err)
		assert.Equal(t, "ops-1", got.ChangedBy)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(ctx, config.Config{Audit: config.Audit{Backend: "mongo"}}, logger)
		assert.Error(t, err)
	})
}
