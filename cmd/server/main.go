package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	jwttoken "notary/internal/jwt_token"
	"notary/internal/platform/config"
	"notary/internal/platform/httpserver"
	"notary/internal/platform/kafka"
	"notary/internal/platform/logger"
	httpmetrics "notary/internal/platform/metrics"
	"notary/internal/platform/postgres"
	"notary/internal/platform/ratelimit"
	"notary/internal/platform/redis"
	"notary/internal/registry/access"
	"notary/internal/registry/binder"
	"notary/internal/registry/events"
	"notary/internal/registry/handler"
	registrymetrics "notary/internal/registry/metrics"
	"notary/internal/registry/service"
	"notary/internal/registry/store"
	httptransport "notary/internal/transport/http"
	id "notary/pkg/domain"
	"notary/pkg/platform/circuit"
	authmw "notary/pkg/platform/middleware/auth"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional backing services so run can close them in one place.
type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

func (i *infra) close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	domain, err := resolveDomain(cfg.Registry)
	if err != nil {
		return err
	}
	issuer, err := id.ParseAddress(cfg.Registry.IssuerAddress)
	if err != nil {
		return fmt.Errorf("REGISTRY_ISSUER_ADDRESS: %w", err)
	}
	guard, err := access.NewGuard(issuer)
	if err != nil {
		return err
	}

	var deps infra
	defer deps.close()

	regMetrics := registrymetrics.New()
	recordStore, err := buildStore(ctx, cfg, log, regMetrics, &deps)
	if err != nil {
		return err
	}

	feed := events.NewFeed(cfg.Events.FeedCapacity)
	sinks := []events.Sink{feed, events.NewLogSink(log)}
	if deps.kafka, err = kafka.NewClient(cfg.Kafka); err != nil {
		return err
	}
	if deps.kafka != nil {
		if err := kafka.EnsureTopic(ctx, deps.kafka, cfg.Kafka); err != nil {
			return err
		}
		sinks = append(sinks, events.NewKafkaSink(deps.kafka, cfg.Kafka.Topic))
		log.Info("publishing registry events", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}
	dispatcher := events.NewDispatcher(sinks,
		events.WithLogger(log),
		events.WithMetrics(regMetrics),
		events.WithBacklogWarning(cfg.Events.BacklogWarn),
		events.WithRetry(cfg.Events.MaxAttempts, cfg.Events.RetryBackoff),
	)

	latestIssued, err := recordStore.LatestIssuedAt(ctx)
	if err != nil {
		return err
	}

	svc := service.New(recordStore, guard, binder.New(domain),
		service.WithIssuanceFloor(latestIssued),
		service.WithLogger(log),
		service.WithMetrics(regMetrics),
		service.WithNotifier(dispatcher),
	)

	var handlerOpts []handler.Option
	if cfg.Limits.Requests > 0 {
		limiter := buildRateLimiter(cfg.Limits, log, deps.redis)
		handlerOpts = append(handlerOpts, handler.WithVerifyLimit(limiter.Limit("verify")))
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Latency:        httpmetrics.New(),
		RequireAuth:    authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log),
		RequestTimeout: cfg.Server.RequestTimeout,
		Checks:         deps.healthChecks(),
	}, handler.New(svc, feed, log, handlerOpts...))

	srv := httpserver.New(cfg.Server.Addr, router)

	// The dispatcher outlives the server so events from in-flight requests
	// are still delivered during shutdown.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := dispatcher.Run(dispatchCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting notary",
			"addr", cfg.Server.Addr,
			"issuer", issuer,
			"domain_id", domain,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopDispatch()
		return err
	})
	return g.Wait()
}

func resolveDomain(cfg config.Registry) (id.DomainID, error) {
	if cfg.DomainID != "" {
		domain, err := id.ParseDomainID(cfg.DomainID)
		if err != nil {
			return id.DomainID{}, fmt.Errorf("REGISTRY_DOMAIN_ID: %w", err)
		}
		return domain, nil
	}
	return id.DeriveDomainID(cfg.InstanceName), nil
}

func buildStore(ctx context.Context, cfg config.Config, log *slog.Logger, m *registrymetrics.Metrics, deps *infra) (store.Store, error) {
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var base store.Store = store.NewInMemory()
	db, err := postgres.Open(startCtx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		deps.db = db
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(startCtx); err != nil {
			return nil, err
		}
		base = pg
		log.Info("using postgres record store")
	} else {
		log.Warn("DATABASE_URL not set, records are kept in memory")
	}

	client, err := redis.New(startCtx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return base, nil
	}
	deps.redis = client
	log.Info("record cache enabled", "ttl", cfg.Redis.CacheTTL)
	return store.NewCached(base, client,
		store.WithCacheTTL(cfg.Redis.CacheTTL),
		store.WithCacheLogger(log),
		store.WithCacheMetrics(m),
	), nil
}

// buildRateLimiter shares the window across instances through Redis when it is
// configured, falling back to a local window while Redis is unreachable.
func buildRateLimiter(cfg config.RateLimitConfig, log *slog.Logger, client *redis.Client) *ratelimit.Middleware {
	local := ratelimit.NewMemory(cfg.Requests, cfg.Window)
	if client == nil {
		return ratelimit.NewMiddleware(local, log)
	}
	breaker := circuit.New("ratelimit-redis", circuit.WithCooldown(5*time.Second))
	return ratelimit.NewMiddleware(ratelimit.NewRedis(client, cfg.Requests, cfg.Window), log,
		ratelimit.WithFallback(local, breaker),
	)
}

func (i *infra) healthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if i.db != nil {
		checks["postgres"] = i.db.PingContext
	}
	if i.redis != nil {
		checks["redis"] = i.redis.Health
	}
	if i.kafka != nil {
		client := i.kafka
		checks["kafka"] = func(ctx context.Context) error { return kafka.Ping(ctx, client) }
	}
	return checks
}
