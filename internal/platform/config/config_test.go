package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, AuditBackendMemory, cfg.Audit.Backend)
		assert.Equal(t, 90, cfg.Engine.AutoSelectThreshold)
		assert.Equal(t, 1, cfg.Engine.CommitConcurrency)
		assert.Empty(t, cfg.Kafka.Brokers)
		assert.Equal(t, "mdnorm.audit", cfg.Kafka.AuditTopic)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("MDNORM_ADDR", ":9090")
		t.Setenv("AUDIT_BACKEND", "SQLite")
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
		t.Setenv("COMMIT_ITEM_TIMEOUT", "2s")
		t.Setenv("AUTO_SELECT_THRESHOLD", "85")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, AuditBackendSQLite, cfg.Audit.Backend)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, 2*time.Second, cfg.Engine.CommitItemTimeout)
		assert.Equal(t, 85, cfg.Engine.AutoSelectThreshold)
	})

	t.Run("malformed values are errors", func(t *testing.T) {
		t.Setenv("COMMIT_CONCURRENCY", "many")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "COMMIT_CONCURRENCY")
	})

	t.Run("postgres audit needs a database", func(t *testing.T) {
		t.Setenv("AUDIT_BACKEND", "postgres")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("threshold out of range", func(t *testing.T) {
		t.Setenv("AUTO_SELECT_THRESHOLD", "120")
		_, err := FromEnv()
		assert.Error(t, err)
	})
}
