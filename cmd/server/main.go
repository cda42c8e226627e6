// Command server wires the harmonization core behind its HTTP API: identity
// resolution, fragment queueing, batch loads, and the review queue. Business
// logic lives in the internal service packages; main only assembles them.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"concord/internal/audit"
	"concord/internal/audit/publisher"
	auditstore "concord/internal/audit/store"
	"concord/internal/batch"
	"concord/internal/identity"
	identitystore "concord/internal/identity/store"
	"concord/internal/jwtauth"
	"concord/internal/platform/config"
	"concord/internal/platform/httpserver"
	"concord/internal/platform/logger"
	"concord/internal/platform/metrics"
	platformredis "concord/internal/platform/redis"
	"concord/internal/queue"
	"concord/internal/refdata"
	"concord/internal/review"
	httptransport "concord/internal/transport/http"
	"concord/internal/upsert"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := sql.Open("postgres", cfg.DB.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DB.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry, err := loadRegistry(cfg.Loader.TablesFile, log)
	if err != nil {
		return err
	}

	// Stores.
	subjects := identitystore.NewPostgresSubjectStore(db)
	localIDs := identitystore.NewPostgresLocalIdentifierStore(db)
	resolutionLog := identitystore.NewPostgresResolutionLog(db)
	centers := refdata.NewPostgresCenterStore(db)
	records := upsert.NewPostgresRecordStore(db)
	entries := queue.NewPostgresEntryStore(db)
	outbox := auditstore.NewPostgresOutbox(db)

	var centerCache refdata.Cache
	if redisClient != nil {
		centerCache = refdata.NewRedisCache(redisClient.Client, cfg.Redis.CacheTTL)
	}

	// Services.
	centerResolver, err := refdata.NewResolver(centers, centerCache, refdata.Config{
		MatchThreshold: cfg.Resolver.MatchThreshold,
	}, log, m)
	if err != nil {
		return err
	}
	identitySvc, err := identity.New(subjects, localIDs, resolutionLog, identity.Config{
		CrossTypeAlias: cfg.Resolver.CrossTypeAlias,
	}, log, m)
	if err != nil {
		return err
	}
	engine, err := upsert.NewEngine(registry, records, outbox, log, m)
	if err != nil {
		return err
	}
	queueSvc, err := queue.NewService(entries, queue.Config{RetrySkipped: cfg.Loader.RetrySkipped}, log)
	if err != nil {
		return err
	}
	coordinator, err := batch.NewCoordinator(queueSvc, engine, db, batch.Config{
		StrictMode:   cfg.Loader.StrictMode,
		BatchTimeout: cfg.Loader.BatchTimeout,
	}, log, m)
	if err != nil {
		return err
	}
	reviewSvc, err := review.NewService(subjects, log, m)
	if err != nil {
		return err
	}

	// Change-feed publishing, when Kafka is configured.
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := publisher.NewKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.ChangeTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		worker := audit.NewWorker(outbox, sink, cfg.Kafka.PollInterval, log)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	jwtValidator := jwtauth.NewService(cfg.JWTSigningKey, "concord", "concord-api")

	checks := map[string]httptransport.HealthCheck{
		"db": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	router := httptransport.NewRouter(log, checks,
		httptransport.NewIdentityHandler(identitySvc, centerResolver, log, jwtValidator),
		httptransport.NewRecordsHandler(engine, queueSvc, coordinator, log, jwtValidator),
		httptransport.NewReviewHandler(reviewSvc, log, jwtValidator),
	)

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadRegistry(path string, log *slog.Logger) (*upsert.Registry, error) {
	if path == "" {
		log.Warn("no table configuration set, record loading is disabled",
			"env", "CONCORD_TABLES_FILE",
		)
		return upsert.NewRegistry(nil)
	}
	registry, err := upsert.LoadRegistryFile(path)
	if err != nil {
		return nil, err
	}
	log.Info("table configuration loaded", "path", path, "tables", registry.Tables())
	return registry, nil
}
