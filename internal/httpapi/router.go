package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/jobs"
	"transcribe_gateway/internal/ledger"
	"transcribe_gateway/internal/logging"
	"transcribe_gateway/internal/metrics"
	"transcribe_gateway/internal/middleware"
	"transcribe_gateway/internal/queue"
	"transcribe_gateway/internal/ratelimit"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
	"transcribe_gateway/internal/vault"
)

var logger = utils.NewLogger("httpapi")

// cacheJanitorInterval is how often expired cache entries are dropped
const cacheJanitorInterval = time.Minute

// NewRouter creates an HTTP handler with all dependencies wired up
func NewRouter(cfg *config.Config) (http.Handler, *Dependencies, error) {
	deps := &Dependencies{
		Settings: cfg.BillingSettings(),
		Health:   make(map[string]HealthChecker),
	}
	fail := func(err error) (http.Handler, *Dependencies, error) {
		_ = deps.Shutdown(context.Background())
		return nil, nil, err
	}

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		TeamCacheSize:   cfg.Cache.TeamCacheSize,
		TeamCacheTTL:    cfg.Cache.TeamCacheTTL,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to initialize database: %w", err))
	}
	deps.closers = append(deps.closers, func(context.Context) error { return db.Close() })
	deps.Health["database"] = db

	// Initialize Redis client, only when some backend needs it
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		rc, err := storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to initialize Redis: %w", err))
		}
		deps.closers = append(deps.closers, func(context.Context) error { return rc.Close() })
		deps.Health["redis"] = rc
		redisClient = rc.Client()
	}

	// Credential vault
	encryption, err := storage.NewEncryptionFromKeyMaterial(cfg.Vault.EncryptionKey)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize encryption: %w", err))
	}
	credentials := vault.New(storage.NewCredentialRepository(db, cfg.Billing.DefaultGuestLimit), encryption)

	// Guest ledger
	var ledgerStore ledger.Store
	switch cfg.Billing.LedgerBackend {
	case config.BackendRedis:
		ledgerStore = ledger.NewRedisStore(redisClient)
	case config.BackendMemory:
		logger.Warn("Using in-memory guest ledger; balances are lost on restart")
		ledgerStore = ledger.NewMemoryStore()
	default:
		ledgerStore = db.NewAccountRepository()
	}
	guestLedger := ledger.New(ledgerStore, cfg.Billing.DefaultGuestLimit)

	// Settlement guard
	var guard billing.Guard
	switch cfg.Billing.GuardBackend {
	case config.BackendRedis:
		guard = billing.NewRedisGuard(redisClient, cfg.Billing.GuardTTL)
	case config.BackendMemory:
		logger.Warn("Using in-memory settlement guard; not safe across replicas")
		guard = billing.NewMemoryGuard()
	default:
		guard = db.NewSettlementRepository()
	}

	promMetrics := metrics.NewPrometheus("transcribe_gateway")

	// Settlement audit archive
	var auditSink logging.Sink = logging.NewNoopSink()
	if cfg.LoggingSink.Enabled {
		s3Sink, err := logging.NewS3Sink(context.Background(), logging.S3SinkConfig{
			BufferSize:    cfg.LoggingSink.BufferSize,
			FlushSize:     cfg.LoggingSink.FlushSize,
			FlushInterval: cfg.LoggingSink.FlushInterval,
			S3Bucket:      cfg.LoggingSink.S3Bucket,
			S3Region:      cfg.LoggingSink.S3Region,
			S3Prefix:      cfg.LoggingSink.S3Prefix,
			PodName:       cfg.LoggingSink.PodName,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to initialize settlement audit sink: %w", err))
		}
		auditSink = s3Sink
	}

	settings := cfg.BillingSettings()
	teamRepo := db.NewTeamRepository()
	prefRepo := db.NewPreferenceRepository()

	resolver := billing.NewResolver(settings, credentials, guestLedger, teamRepo, prefRepo,
		billing.WithResolverMetrics(promMetrics))
	settler := billing.NewSettler(settings, guestLedger, db.NewTeamUsageRepository(), guard,
		billing.WithAuditSink(auditSink),
		billing.WithSettlerMetrics(promMetrics))

	// Settlement retry queue
	queueCfg := queue.DefaultConfig("settlements")
	queueCfg.UseRedis = cfg.Settlement.UseRedisQueue
	queueCfg.MaxRetries = cfg.Settlement.MaxRetries
	queueCfg.RetryBackoff = cfg.Settlement.RetryBackoff
	queueCfg.BatchSize = cfg.Settlement.BatchSize
	settleQueue, settleDLQ, err := queue.New[billing.SettleRequest](queueCfg, redisClient)
	if err != nil {
		return fail(fmt.Errorf("failed to create settlement queue: %w", err))
	}
	worker := billing.NewSettlementQueueWorker(settleQueue, settleDLQ, settler, queueCfg)
	worker.Start(context.Background())
	// Stop the worker before the sink it writes audit records to
	deps.closers = append([]func(context.Context) error{
		func(context.Context) error { return worker.Stop() },
		auditSink.Shutdown,
	}, deps.closers...)

	// Per-user submission limit
	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.RateLimit.SubmitPerMinute > 0 {
		limiter = ratelimit.NewRateLimiter(redisClient)
	}

	apiKeys, err := auth.NewInMemoryAPIKeyStore(cfg.ServiceKeys)
	if err != nil {
		return fail(fmt.Errorf("failed to load service API keys: %w", err))
	}
	if len(cfg.ServiceKeys) == 0 {
		logger.Warn("No service API keys configured; service endpoints will reject every request")
	}

	handles := vault.NewHandles(cfg.Cache.HandleCacheSize, cfg.Cache.HandleTTL)
	stopJanitor := startCacheJanitor(db, handles)
	deps.closers = append([]func(context.Context) error{stopJanitor}, deps.closers...)

	deps.APIKeys = apiKeys
	deps.Resolver = resolver
	deps.Settler = settler
	deps.Credentials = credentials
	deps.Handles = handles
	deps.Jobs = jobs.NewHTTPClient(cfg.JobGateway.BaseURL, cfg.JobGateway.RequestTimeout)
	deps.JobStore = db.NewJobRepository()
	deps.Preferences = prefRepo
	deps.Settlements = worker
	deps.RateLimit = limiter
	deps.Metrics = promMetrics

	logger.Info("Gateway dependencies initialized",
		"ledger_backend", cfg.Billing.LedgerBackend,
		"guard_backend", cfg.Billing.GuardBackend,
		"redis_queue", cfg.Settlement.UseRedisQueue,
		"audit_sink", cfg.LoggingSink.Enabled,
		"service_keys", len(cfg.ServiceKeys))

	return Routes(deps, cfg), deps, nil
}

// Routes registers every endpoint on a new mux
func Routes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Service endpoints - protected with service API keys
	billingKey := middleware.APIKeyMiddleware(deps.APIKeys, auth.ScopeBilling)
	operatorKey := middleware.APIKeyMiddleware(deps.APIKeys, auth.ScopeOperator)
	mux.Handle("POST /v1/billing/resolve", billingKey(http.HandlerFunc(deps.handleResolve)))
	mux.Handle("POST /v1/billing/credentials/redeem", billingKey(http.HandlerFunc(deps.handleRedeem)))
	mux.Handle("POST /v1/usage/settle", billingKey(http.HandlerFunc(deps.handleSettle)))
	mux.Handle("GET /v1/settlements/dead-letter", operatorKey(http.HandlerFunc(deps.handleListDeadLetters)))
	mux.Handle("POST /v1/settlements/dead-letter/{id}/retry", operatorKey(http.HandlerFunc(deps.handleRetryDeadLetter)))

	// User endpoints - protected with user JWTs
	userJWT := middleware.UserJWTMiddleware(cfg)
	submitLimit := middleware.RateLimitMiddleware(deps.RateLimit, cfg.RateLimit.SubmitPerMinute, "submit", deps.Metrics)
	mux.Handle("POST /v1/transcriptions", userJWT(submitLimit(http.HandlerFunc(deps.handleSubmit))))
	mux.Handle("GET /v1/transcriptions/{id}", userJWT(http.HandlerFunc(deps.handleStatus)))
	mux.Handle("GET /v1/preferences", userJWT(http.HandlerFunc(deps.handleGetPreference)))
	mux.Handle("PUT /v1/preferences", userJWT(http.HandlerFunc(deps.handlePutPreference)))

	// Health check endpoint - public
	mux.HandleFunc("GET /health", deps.handleHealth)

	// Metrics endpoint - public
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	return middleware.MetricsMiddleware(deps.Metrics)(mux)
}

// startCacheJanitor periodically drops expired team cache entries and
// credential handles. The returned func stops it.
func startCacheJanitor(db *storage.DB, handles *vault.Handles) func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cacheJanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				teams := db.CleanupExpiredCacheEntries()
				purged := handles.Purge()
				if teams > 0 || purged > 0 {
					logger.Debug("Expired cache entries removed", "teams", teams, "handles", purged)
				}
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
