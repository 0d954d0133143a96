package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tomoya0318/PrefTrend/internal/chart"
	"github.com/tomoya0318/PrefTrend/internal/handlers"
	"github.com/tomoya0318/PrefTrend/internal/platform/config"
	"github.com/tomoya0318/PrefTrend/internal/platform/observability"
	"github.com/tomoya0318/PrefTrend/internal/platform/querycache"
	"github.com/tomoya0318/PrefTrend/internal/platform/secrets"
	"github.com/tomoya0318/PrefTrend/internal/selection"
	"github.com/tomoya0318/PrefTrend/internal/services"
	"github.com/tomoya0318/PrefTrend/internal/statsapi"
)

const (
	serviceName      = "preftrend-api"
	meterName        = "github.com/tomoya0318/PrefTrend"
	mockAPIKey       = "mock-api-key"
	rateWindow       = time.Minute
	compressionLevel = 5
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(serviceName, buildVersion(envValues))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	baseURL, apiKey := cfg.Stats.BaseURL, cfg.Stats.APIKey
	var mockServer *http.Server
	if cfg.Stats.Mock {
		mockServer, baseURL, err = startMockUpstream(logger.Named("statsmock"))
		if err != nil {
			logger.Fatal("failed to start mock statistics API", zap.Error(err))
		}
		apiKey = mockAPIKey
	}

	statsClient, err := statsapi.NewClient(baseURL,
		statsapi.WithAPIKey(apiKey),
		statsapi.WithRetries(cfg.Stats.Retries),
		statsapi.WithHTTPClient(&http.Client{Timeout: cfg.Stats.Timeout}),
		statsapi.WithLogger(logger.Named("statsapi")),
	)
	if err != nil {
		logger.Fatal("failed to initialise statistics client", zap.Error(err))
	}

	cache, err := querycache.New(
		querycache.WithLogger(logger.Named("querycache")),
		querycache.WithMeter(otel.GetMeterProvider().Meter(meterName)),
	)
	if err != nil {
		logger.Fatal("failed to initialise query cache", zap.Error(err))
	}

	prefectureService, err := services.NewPrefectureService(services.PrefectureServiceDeps{
		Source: statsClient,
		Cache:  cache,
		Logger: logger.Named("prefectures"),
	})
	if err != nil {
		logger.Fatal("failed to initialise prefecture service", zap.Error(err))
	}
	populationService, err := services.NewPopulationService(services.PopulationServiceDeps{
		Source:         statsClient,
		Cache:          cache,
		Logger:         logger.Named("population"),
		SettleTimeout:  cfg.Dashboard.SettleTimeout,
		MaxConcurrency: cfg.Dashboard.MaxConcurrency,
	})
	if err != nil {
		logger.Fatal("failed to initialise population service", zap.Error(err))
	}

	selectionManager := selection.NewManager(cfg.Dashboard.SelectionParam)
	dashboardService, err := services.NewDashboardService(services.DashboardServiceDeps{
		Prefectures:  prefectureService,
		Population:   populationService,
		Selection:    selectionManager,
		Labels:       cfg.Dashboard.Labels,
		DefaultLabel: cfg.Dashboard.DefaultLabel,
		Logger:       logger.Named("dashboard"),
	})
	if err != nil {
		logger.Fatal("failed to initialise dashboard service", zap.Error(err))
	}

	systemService, err := newSystemService(prefectureService, fetcher, cfg, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	dashboardHandlers := handlers.NewDashboardHandlers(handlers.DashboardHandlerDeps{
		Prefectures: prefectureService,
		Dashboard:   dashboardService,
		Selection:   selectionManager,
		Renderer:    chart.NewRenderer(cfg.Chart.Width, cfg.Chart.Height),
	})
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Trace.ProjectID, cfg.Dashboard.SelectionParam),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Dashboard.SelectionParam),
		middleware.Compress(compressionLevel),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAPIMiddlewares(
			handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, rateWindow, nil),
			handlers.LocaleMiddleware(),
		),
		handlers.WithAPIRoutes(dashboardHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("preftrend api listening", zap.Bool("stats_mock", cfg.Stats.Mock))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := cache.Wait(shutdownCtx); err != nil {
		logger.Warn("query cache still loading at shutdown", zap.Int("entries", cache.Len()), zap.Error(err))
	}
	if mockServer != nil {
		if err := mockServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mock statistics API shutdown failed", zap.Error(err))
		}
	}
}

// startMockUpstream serves the fixture-backed statistics API on a loopback port.
func startMockUpstream(logger *zap.Logger) (*http.Server, string, error) {
	fixtures, err := statsapi.DefaultFixtures()
	if err != nil {
		return nil, "", err
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	srv := &http.Server{
		Handler:           statsapi.NewMockHandler(fixtures, mockAPIKey),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock statistics API stopped", zap.Error(err))
		}
	}()
	baseURL := "http://" + listener.Addr().String() + "/api/v1"
	logger.Info("mock statistics API listening", zap.String("base_url", baseURL))
	return srv, baseURL, nil
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["API_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     buildVersion(env),
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(prefectures services.PrefectureService, fetcher *secrets.Fetcher, cfg config.Config, build services.BuildInfo) (services.SystemService, error) {
	checks := []services.DependencyCheck{services.UpstreamCheck(prefectures)}
	if fetcher != nil && strings.TrimSpace(cfg.Secrets.ProjectID) != "" {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, services.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	collector, err := services.NewHealthCollector(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		Health: collector,
		Clock:  time.Now,
		Build:  build,
	})
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := lookup("API_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if fallback := lookup("API_SECRETS_FALLBACK_FILE"); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a non-empty value.
// The mock upstream needs no API key.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["API_STATS_MOCK"])) {
	case "true", "1", "yes", "on":
		return nil
	}
	return []string{"Stats.APIKey"}
}
