package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"mdnorm/internal/normalize/abbreviation"
	"mdnorm/internal/normalize/canonical"
	"mdnorm/internal/normalize/commit"
	"mdnorm/internal/normalize/commit/lock"
	"mdnorm/internal/normalize/handler"
	"mdnorm/internal/normalize/matcher"
	nmetrics "mdnorm/internal/normalize/metrics"
	"mdnorm/internal/normalize/models"
	"mdnorm/internal/platform/auditbackend"
	"mdnorm/internal/platform/config"
	"mdnorm/internal/platform/httpserver"
	"mdnorm/internal/platform/logger"
	"mdnorm/internal/platform/metrics"
	redisplatform "mdnorm/internal/platform/redis"
	"mdnorm/internal/records"
	recordsmem "mdnorm/internal/records/store/memory"
	recordspg "mdnorm/internal/records/store/postgres"
	httptransport "mdnorm/internal/transport/http"
	audit "mdnorm/pkg/platform/audit"
	auditkafka "mdnorm/pkg/platform/audit/publisher/kafka"
	"mdnorm/pkg/platform/circuit"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error("mdnorm stopped", "error", err)
		os.Exit(1)
	}
}

type closer func() error

// run wires dependencies, serves until SIGINT or SIGTERM, and releases
// resources in reverse order.
func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("failed to release resource", "error", err)
			}
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	normMetrics := nmetrics.New(reg)
	health := map[string]httptransport.HealthCheck{}

	backend, err := auditbackend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, backend.Close)
	health["audit"] = backend.Ping

	auditStore := backend.Store
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Kafka.AuditTopic),
			kgo.ClientID("mdnorm"),
		)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		closers = append(closers, func() error { client.Close(); return nil })
		auditStore = auditkafka.NewStore(backend.Store, client, cfg.Kafka.AuditTopic,
			auditkafka.WithLogger(log),
			auditkafka.WithBreaker(circuit.New("kafka-audit")),
		)
		log.InfoContext(ctx, "mirroring audit records to kafka",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.AuditTopic,
		)
	}
	trail := audit.NewTrail(auditStore, audit.WithLogger(log))

	var store records.Store
	if cfg.Database.URL != "" {
		pool, err := recordspg.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		health["records"] = pool.Ping
		store = recordspg.New(pool)
	} else {
		log.WarnContext(ctx, "DATABASE_URL not set, serving an empty in-memory record store")
		store = recordsmem.New()
	}

	commitOpts := []commit.Option{
		commit.WithLogger(log),
		commit.WithMetrics(normMetrics),
		commit.WithConcurrency(cfg.Engine.CommitConcurrency),
		commit.WithItemTimeout(cfg.Engine.CommitItemTimeout),
	}
	redisClient, err := redisplatform.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers = append(closers, redisClient.Close)
		health["redis"] = redisClient.Health
		commitOpts = append(commitOpts, commit.WithLocker(lock.NewRedisLocker(redisClient.Client, ""), cfg.Redis.LockTTL))
	} else {
		log.WarnContext(ctx, "REDIS_URL not set, concurrent commits of one category are not serialized")
	}
	committer := commit.New(store, trail, commitOpts...)

	categories := []models.Category{models.CategoryState, models.CategoryCity}
	matchers := make([]*matcher.Matcher, 0, len(categories))
	for _, c := range categories {
		matchers = append(matchers, matcher.New(c,
			canonical.ForCategory(c),
			abbreviation.ForCategory(c),
			matcher.WithLogger(log),
			matcher.WithMetrics(normMetrics),
			matcher.WithConcurrency(cfg.Engine.MatchConcurrency),
		))
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         health,
		Handlers: []httptransport.Registrant{
			handler.New(matchers, committer, store, log,
				handler.WithAutoSelectThreshold(cfg.Engine.AutoSelectThreshold)),
			httptransport.NewAuditHandler(trail, log),
		},
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "starting mdnorm", "addr", cfg.Server.Addr, "audit_backend", cfg.Audit.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
