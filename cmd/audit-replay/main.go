// Command audit-replay consumes the Kafka audit mirror and appends every
// record to the configured audit backend. Run it to rebuild a SQLite trail
// or to keep a second PostgreSQL trail in step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/twmb/franz-go/pkg/kgo"

	"mdnorm/internal/platform/auditbackend"
	"mdnorm/internal/platform/config"
	"mdnorm/internal/platform/logger"
	"mdnorm/pkg/platform/audit/worker"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format).With("component", "audit-replay")

	if err := run(cfg, log); err != nil {
		log.Error("audit replay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if cfg.Audit.Backend == config.AuditBackendMemory {
		return errors.New("replaying into the memory backend would discard every record; set AUDIT_BACKEND")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := auditbackend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("failed to close audit store", "error", err)
		}
	}()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.ConsumeTopics(cfg.Kafka.AuditTopic),
		kgo.ConsumerGroup(cfg.Kafka.ConsumerGroup),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.ClientID("mdnorm-audit-replay"),
	)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	log.InfoContext(ctx, "replaying audit topic",
		"topic", cfg.Kafka.AuditTopic,
		"group", cfg.Kafka.ConsumerGroup,
		"backend", cfg.Audit.Backend,
	)
	err = worker.NewWorker(backend.Store, client, log).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
