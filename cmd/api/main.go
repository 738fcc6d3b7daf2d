package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/app"
	"github.com/noah-isme/backend-recargo/internal/audit"
	"github.com/noah-isme/backend-recargo/internal/auth"
	"github.com/noah-isme/backend-recargo/internal/common"
	"github.com/noah-isme/backend-recargo/internal/config"
	"github.com/noah-isme/backend-recargo/internal/draftorder"
	"github.com/noah-isme/backend-recargo/internal/health"
	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/ratelimit"
	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/security"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/tasks"
	"github.com/noah-isme/backend-recargo/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "recargo")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "recargo-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			Insecure:      envBool("OBS_OTLP_INSECURE", false),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger, app.Options{
		ApplicationName:     "recargo-api",
		RedisMetrics:        metricsEnabled,
		BreakerMinRequests:  envInt("CIRCUIT_SHOPIFY_MIN_REQUESTS", 10),
		BreakerFailureRatio: envFloat("CIRCUIT_SHOPIFY_FAILURE_RATIO", 0.5),
		BreakerOpenFor:      envDurationMillis("CIRCUIT_SHOPIFY_OPEN_FOR_MS", 30000),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	validate := validator.New()
	reconcileHandler := &reconcile.Handler{Svc: deps.Reconcile, Validate: validate, Logger: obs.Component(logger, "reconcile")}
	draftHandler := &draftorder.Handler{
		Svc: &draftorder.Service{
			Client:    deps.Shopify,
			DueInDays: cfg.PaymentTermsDueDays,
			Logger:    obs.Component(logger, "draftorder"),
		},
		Validate: validate,
	}
	auditHandler := audit.Handler{Store: deps.Audit.Store}

	var trigger webhook.Trigger = deps.Reconcile
	var taskAdmin *tasks.AdminHandler
	if cfg.WebhookAsync {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse queue redis url")
		}
		taskClient := asynq.NewClient(redisOpt)
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		inspector := asynq.NewInspector(redisOpt)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Error().Err(err).Msg("close task inspector")
			}
		}()
		trigger = tasks.Enqueuer{
			Client:   taskClient,
			Lookup:   inspector,
			Queue:    cfg.QueueName,
			MaxRetry: cfg.QueueMaxRetry,
			Timeout:  cfg.PipelineTimeout,
			Logger:   obs.Component(logger, "tasks"),
		}
		taskAdmin = &tasks.AdminHandler{Inspector: inspector, Queue: cfg.QueueName, Logger: obs.Component(logger, "tasks")}
	}

	orderPaid := webhook.OrderPaid{
		Verifier:    shopify.HMACVerifier{Secret: cfg.ShopifyWebhookSecret},
		Trigger:     trigger,
		Replay:      deps.Redis,
		ReplayTTL:   cfg.WebhookReplayTTL,
		EligibleTag: cfg.RecargoEligibleTag,
		MaxBody:     cfg.WebhookMaxBody,
		Logger:      obs.Component(logger, "webhook"),
	}
	webhookLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "rl:webhook:"},
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByShop,
			Window: time.Minute,
			Max:    envInt("WEBHOOK_RATE_LIMIT_PER_MINUTE", 600),
		},
		OnError: limiterErrorLogger(logger, "webhook"),
	}

	rate, err := ratelimit.ParseRate(cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse rate limit")
	}
	apiLimiter, err := ratelimit.NewRedisFixedWindow(deps.Redis, "rl:api", rate)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	apiLimit := ratelimit.Handler{
		Limiter: apiLimiter,
		Config:  ratelimit.Config{Key: ratelimit.KeyByShop, Window: rate.Period, Max: int(rate.Limit)},
		OnError: limiterErrorLogger(logger, "api"),
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	bodyLimit := security.BodyLimit{Max: envInt64("API_MAX_BODY_BYTES", 1<<20)}

	requireSession := func(next http.Handler) http.Handler { return next }
	if cfg.SessionAuthEnabled() {
		verifier, err := auth.NewSessionVerifier(cfg.ShopifyAPIKey, cfg.ShopifyAPISecret, cfg.ShopifyStoreURL, cfg.SessionClockSkew)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise session verifier")
		}
		requireSession = auth.Middleware{Verifier: verifier, Logger: obs.Component(logger, "auth")}.RequireSession
	} else {
		logger.Warn().Msg("SHOPIFY_API_KEY/SHOPIFY_API_SECRET not set; extension API is unauthenticated")
	}

	checks := []health.Check{
		{Name: "redis", Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300), Probe: func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}},
		{Name: "shopify", Timeout: envDurationMillis("HEALTH_READY_SHOPIFY_TIMEOUT_MS", 2000), Probe: deps.Shopify.Ping},
	}
	if deps.DB != nil {
		checks = append(checks, health.Check{Name: "postgres", Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500), Probe: deps.DB.Ping})
	}
	healthHandler := health.Handler{Checks: checks}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     true,
		EnableHSTS: cfg.AppEnv == "production",
		HSTSMaxAge: 31536000,
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders: []string{"X-RateLimit-Remaining", "Retry-After", "Idempotent-Replayed"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	r.Get("/health", healthHandler.Legacy)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.With(webhookLimit.Middleware).Post("/api/webhook/order-paid", orderPaid.ServeHTTP)

	r.Route("/api", func(a chi.Router) {
		a.Use(requireSession)
		a.Use(apiLimit.Middleware)
		a.Use(bodyLimit.Middleware)

		a.Get("/draft-orders", draftHandler.List)
		a.Get("/draft-order/{id}", draftHandler.Get)
		a.Post("/verify-draft-order", draftHandler.Verify)

		a.Group(func(g chi.Router) {
			g.Use(idem.Middleware)
			g.Post("/complete-draft-order", draftHandler.Complete)
			g.Post("/add-recargo-equivalencia", reconcileHandler.AddRecargo)
			g.Post("/recargo/draft-orders/{id}", reconcileHandler.ReconcileDraft)
			g.Post("/recargo/orders/{id}", reconcileHandler.ReconcileOrder)
		})
		a.Post("/recargo/preview", reconcileHandler.Preview)

		a.Route("/admin", func(admin chi.Router) {
			admin.Get("/reconciliations", auditHandler.List)
			if taskAdmin != nil {
				admin.Get("/tasks/archived", taskAdmin.ListArchived)
				admin.Post("/tasks/archived/{id}/retry", taskAdmin.Retry)
			}
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("shopify_endpoint", deps.Shopify.Endpoint()).
		Bool("webhook_async", cfg.WebhookAsync).
		Bool("audit", cfg.AuditEnabled).
		Bool("kafka", cfg.KafkaEnabled()).
		Strs("health_checks", healthHandler.Names()).
		Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func limiterErrorLogger(logger zerolog.Logger, scope string) func(error) {
	return func(err error) {
		logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	return int64(envInt(key, int(fallback)))
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
