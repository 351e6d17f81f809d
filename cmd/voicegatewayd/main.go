// Command voicegatewayd is the composition root wiring C1-C12 into one
// process: the voice websocket gateway, the universal agent orchestrator,
// and the transactional outbox publisher, all sharing one configuration,
// one Postgres pool, and one Redis client.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/corewave-ai/voicegateway/analytics"
	"github.com/corewave-ai/voicegateway/budget"
	"github.com/corewave-ai/voicegateway/config"
	"github.com/corewave-ai/voicegateway/core"
	"github.com/corewave-ai/voicegateway/dispatcher"
	"github.com/corewave-ai/voicegateway/eventbus"
	"github.com/corewave-ai/voicegateway/gateway"
	"github.com/corewave-ai/voicegateway/guard"
	"github.com/corewave-ai/voicegateway/hitl"
	"github.com/corewave-ai/voicegateway/identity"
	"github.com/corewave-ai/voicegateway/o11y"
	"github.com/corewave-ai/voicegateway/orchestrator"
	"github.com/corewave-ai/voicegateway/outbox"
	"github.com/corewave-ai/voicegateway/realtime"
	"github.com/corewave-ai/voicegateway/retrieval"
	"github.com/corewave-ai/voicegateway/schema"
	"github.com/corewave-ai/voicegateway/security"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (knobs); falls back to VOICEGATEWAYD_* env vars when empty")
	flag.Parse()

	logger := o11y.NewLogger(o11y.WithJSON())
	ctx := o11y.WithLogger(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	knobs, err := loadKnobs(*configPath)
	if err != nil {
		logger.Error(ctx, "voicegatewayd: loading config", "error", err)
		os.Exit(1)
	}

	pgPool, err := pgxpool.New(ctx, mustEnv("DATABASE_URL", "postgres://localhost:5432/voicegateway"))
	if err != nil {
		logger.Error(ctx, "voicegatewayd: connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mustEnv("REDIS_ADDR", "localhost:6379")})
	defer redisClient.Close()

	sink, closeSink := buildEventSink(ctx, logger)
	defer closeSink()

	verifier := identity.NewVerifier([]byte(mustEnv("VOICE_JWT_SECRET", "dev-secret")),
		identity.WithEnvironment(knobs.Environment))

	sec := buildSecurityService(knobs, redisClient)

	retrievalClient := retrieval.NewClient(map[retrieval.Strategy]retrieval.Backend{
		retrieval.StrategyFulltext:   retrieval.NewFulltextBackend(pgPool),
		retrieval.StrategyStructured: retrieval.NewStructuredBackend(pgPool),
	}, retrieval.WithCache(retrieval.NewCache()))

	registry := dispatcher.NewRegistry()
	disp := dispatcher.NewDispatcher(registry, nil, sec)

	budgetSvc := budget.NewService(redisClient)

	hitlManager := hitl.NewManager()

	enqueuer := outbox.NewPgEnqueuer(pgPool)
	analyticsEmitter := analytics.NewEmitter(enqueuer, knobs.Outbox.MaxAttempts)

	deps := orchestrator.Deps{
		Security:    sec,
		Retrieval:   retrievalClient,
		Dispatcher:  disp,
		Budget:      budgetSvc,
		HITL:        hitlManager,
		Analytics:   analyticsEmitter,
		Checkpoints: orchestrator.NewInMemoryCheckpointStore(),
	}

	// No vendor realtime speech+LLM SDK is vendored into this module (spec
	// §4.3's Provider is meant to be swapped in per deployment); MockProvider
	// stands in so the composition root runs end-to-end locally.
	provider := realtime.NewMockProvider()
	handler, err := orchestrator.NewHandler(deps, provider)
	if err != nil {
		logger.Error(ctx, "voicegatewayd: building orchestrator", "error", err)
		os.Exit(1)
	}

	gwServer := gateway.New(gateway.Config{
		Environment:    knobs.Environment,
		AllowedOrigins: knobs.AllowedOrigins,
	}, verifier, handler)

	outboxStore := outbox.NewPgStore(pgPool, int64(knobs.Outbox.BackoffBaseMs), int64(knobs.Outbox.BackoffCapMs))
	publisher := outbox.NewPublisher(outboxStore, sink, 8,
		outbox.WithBatchSize(knobs.Outbox.BatchSize),
		outbox.WithMaxAttempts(knobs.Outbox.MaxAttempts),
		outbox.WithClaimLeaseAge(knobs.Outbox.StaleAfter()))

	httpServer := &http.Server{
		Addr:    ":" + mustEnv("PORT", "8080"),
		Handler: gwServer.Router(),
	}

	app := core.NewApp()
	app.Register(
		&httpComponent{server: httpServer, logger: logger},
		&publisherComponent{publisher: publisher, interval: knobs.Outbox.BackoffBase()},
	)

	if err := app.Start(ctx); err != nil {
		logger.Error(ctx, "voicegatewayd: starting components", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info(ctx, "voicegatewayd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gwServer.CloseAll("server shutting down")
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "voicegatewayd: shutdown", "error", err)
	}
}

// httpComponent adapts the gateway's http.Server to core.Lifecycle: Start
// launches ListenAndServe in the background (Lifecycle.Start must return
// once the component is ready to serve, not block for the server's
// lifetime), Stop drains it via http.Server.Shutdown.
type httpComponent struct {
	server *http.Server
	logger *o11y.Logger
}

func (c *httpComponent) Start(ctx context.Context) error {
	go func() {
		c.logger.Info(ctx, "voicegatewayd: listening", "addr", c.server.Addr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error(ctx, "voicegatewayd: http server", "error", err)
		}
	}()
	return nil
}

func (c *httpComponent) Stop(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}

func (c *httpComponent) Health() core.HealthStatus {
	return core.HealthStatus{Status: core.HealthHealthy, Timestamp: time.Now()}
}

// publisherComponent adapts outbox.Publisher's poll loop to core.Lifecycle.
type publisherComponent struct {
	publisher *outbox.Publisher
	interval  time.Duration
	cancel    context.CancelFunc
}

func (c *publisherComponent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.publisher.Run(runCtx, c.interval)
	return nil
}

func (c *publisherComponent) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *publisherComponent) Health() core.HealthStatus {
	return core.HealthStatus{Status: core.HealthHealthy, Timestamp: time.Now()}
}

func loadKnobs(path string) (config.Knobs, error) {
	if path != "" {
		return config.Load[config.Knobs](path)
	}
	return config.LoadFromEnv[config.Knobs]("VOICEGATEWAYD")
}

func buildSecurityService(knobs config.Knobs, redisClient *redis.Client) *security.Service {
	pipeline := guard.NewPipeline(
		guard.Input(guard.NewAttackDetector(), guard.NewPIIRedactor(), guard.NewPromptInjectionDetector()),
		guard.Tool(guard.NewAttackDetector()),
	)
	limiter := security.NewRateLimiter(redisClient,
		security.WithLimit(schema.ScopeTenant, knobs.RateLimits.TenantPerMinute),
		security.WithLimit(schema.ScopeUser, knobs.RateLimits.UserPerMinute),
		security.WithLimit(schema.ScopeIP, knobs.RateLimits.IPPerMinute),
		security.WithLimit(schema.ScopeSession, knobs.RateLimits.SessionPerMinute),
	)
	origin := security.OriginPolicy{Environment: knobs.Environment, AllowedOrigins: knobs.AllowedOrigins}
	return security.NewService(pipeline, limiter, origin, security.NewAuditor())
}

// buildEventSink prefers a NATS JetStream sink and falls back to an
// in-memory LocalSink when NATS_URL is unset, so the binary still runs
// end-to-end in a single-process dev environment.
func buildEventSink(ctx context.Context, logger *o11y.Logger) (eventbus.Sink, func()) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		logger.Info(ctx, "voicegatewayd: NATS_URL unset, using in-memory event sink")
		return eventbus.NewLocalSink(), func() {}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		logger.Error(ctx, "voicegatewayd: connecting to NATS, falling back to local sink", "error", err)
		return eventbus.NewLocalSink(), func() {}
	}
	js, err := nc.JetStream()
	if err != nil {
		logger.Error(ctx, "voicegatewayd: acquiring JetStream context, falling back to local sink", "error", err)
		nc.Close()
		return eventbus.NewLocalSink(), func() {}
	}
	return eventbus.NewJetStreamSink(js), nc.Close
}

func mustEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
