// Package server builds the screening service's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/risk-screener/internal/api"
	"github.com/JakeFAU/risk-screener/internal/clock/system"
	"github.com/JakeFAU/risk-screener/internal/config"
	"github.com/JakeFAU/risk-screener/internal/id/uuid"
	"github.com/JakeFAU/risk-screener/internal/logging"
	memorypublisher "github.com/JakeFAU/risk-screener/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/risk-screener/internal/publisher/pubsub"
	"github.com/JakeFAU/risk-screener/internal/ratelimit"
	"github.com/JakeFAU/risk-screener/internal/resilience"
	"github.com/JakeFAU/risk-screener/internal/screening"
	"github.com/JakeFAU/risk-screener/internal/source"
	"github.com/JakeFAU/risk-screener/internal/source/browser"
	"github.com/JakeFAU/risk-screener/internal/source/dataset"
	"github.com/JakeFAU/risk-screener/internal/source/ofac"
	"github.com/JakeFAU/risk-screener/internal/source/offshoreleaks"
	"github.com/JakeFAU/risk-screener/internal/source/worldbank"
	"github.com/JakeFAU/risk-screener/internal/storage"
	"github.com/JakeFAU/risk-screener/internal/storage/postgres"
	"github.com/JakeFAU/risk-screener/internal/telemetry"
)

// Version is reported by the health endpoint. Overridden at link time.
var Version = "1.0.0"

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     screening.Clock
	apiServer *api.Server
	service   *screening.Service
	limiter   screening.RateLimiter
	janitor   *ratelimit.Limiter
	ready     map[string]api.ReadinessCheck

	browser         *browser.Session
	redisClient     *redis.Client
	pubsubPublisher *gcppublisher.Publisher
	closeBlobs      func() error
	closeResults    func()
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development,
		zap.String("service", cfg.Telemetry.ServiceName),
		zap.String("version", Version),
	)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with an injected logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		cfg:          cfg,
		logger:       logging.OrNop(logger),
		clock:        system.New(),
		ready:        map[string]api.ReadinessCheck{},
		closeBlobs:   func() error { return nil },
		closeResults: func() {},
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("scraping_mode", cfg.Scraping.Mode),
		zap.Bool("offline", cfg.Scraping.Offline),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	var err error
	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Enabled:     cfg.Telemetry.TraceEnabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	blobs, closeBlobs, err := storage.NewBlobStore(ctx, storage.BlobConfig{
		Backend: a.cfg.Storage.Backend,
		Bucket:  a.cfg.Storage.Bucket,
		BaseDir: a.cfg.Storage.Local.BaseDir,
	}, a.logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("blob store init failed: %w", err)
	}
	a.closeBlobs = closeBlobs

	results, closeResults, err := storage.NewResultStore(ctx, storage.ResultConfig{
		Postgres:   postgresConfig(a.cfg),
		MaxInMem:   a.cfg.Database.MaxInMem,
		AutoCreate: a.cfg.Database.AutoCreate,
	}, a.logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("result store init failed: %w", err)
	}
	a.closeResults = closeResults
	if pinger, ok := results.(interface{ Ping(context.Context) error }); ok {
		a.ready["postgres"] = pinger.Ping
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	if err := a.setupLimiter(); err != nil {
		return err
	}

	registry, err := a.setupRegistry()
	if err != nil {
		return err
	}

	orchestrator := screening.NewOrchestrator(registry, a.logger.Named("orchestrator"), screening.WithClock(a.clock))
	a.service, err = screening.NewService(screening.ServiceConfig{
		ArchivePrefix: a.cfg.Storage.Prefix,
		Topic:         a.cfg.PubSub.TopicName,
	}, screening.ServiceDeps{
		Screener:  orchestrator,
		Store:     results,
		Blobs:     blobs,
		Publisher: publisher,
		IDs:       uuid.New(),
		Logger:    a.logger.Named("service"),
	})
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(api.Deps{
		Service: a.service,
		Limiter: a.limiter,
		Clock:   a.clock,
		Logger:  a.logger,
		Ready:   a.ready,
	}, api.Options{
		APIKey:         apiKey,
		JWTSecret:      a.cfg.Auth.JWTSecret,
		RequestTimeout: a.cfg.RequestTimeout(),
		Version:        Version,
	})
	return nil
}

func postgresConfig(cfg config.Config) postgres.Config {
	return postgres.Config{
		DSN:      cfg.Database.DSN,
		Table:    cfg.Database.Table,
		MaxConns: cfg.Database.MaxConns,
	}
}

func (a *App) setupPublisher(ctx context.Context) (screening.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(client, a.logger.Named("pubsub"))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupLimiter() error {
	cfg := ratelimit.Config{MaxCalls: a.cfg.RateLimit.MaxCalls, Window: a.cfg.Window()}
	opts := []ratelimit.Option{
		ratelimit.WithClock(a.clock),
		ratelimit.WithLogger(a.logger.Named("ratelimit")),
	}
	switch a.cfg.RateLimit.Backend {
	case "redis":
		redisOpts, err := redis.ParseURL(a.cfg.RateLimit.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.redisClient = redis.NewClient(redisOpts)
		a.limiter = ratelimit.NewRedis(a.redisClient, cfg, a.cfg.RateLimit.KeyPrefix, opts...)
		a.ready["redis"] = func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		}
		a.logger.Info("rate limiter backed by redis", zap.String("addr", redisOpts.Addr))
	default:
		limiter := ratelimit.New(cfg, opts...)
		a.limiter = limiter
		a.janitor = limiter
		a.logger.Info("rate limiter in memory",
			zap.Int("max_calls", cfg.MaxCalls),
			zap.Duration("window", cfg.Window),
		)
	}
	return nil
}

// setupRegistry registers one capability per source. Offline mode serves every
// source from the fixture dataset.
func (a *App) setupRegistry() (screening.Registry, error) {
	data, err := a.loadDataset()
	if err != nil {
		return nil, err
	}
	if a.cfg.Scraping.Offline {
		a.logger.Warn("offline mode: serving all sources from fixture data")
		registry := screening.Registry{}
		for _, src := range screening.AllSources() {
			scraper, err := data.Scraper(src, a.clock)
			if err != nil {
				return nil, fmt.Errorf("dataset scraper for %s: %w", src, err)
			}
			registry[src] = scraper
		}
		return registry, nil
	}

	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxRetries:     a.cfg.Scraping.MaxRetries,
		BaseDelay:      a.cfg.RetryDelay(),
		MaxDelay:       a.cfg.MaxRetryDelay(),
		AttemptTimeout: a.cfg.ScrapeTimeout(),
		Backoff:        a.cfg.Scraping.Backoff,
	}, a.logger.Named("retry"))
	client := source.NewHTTPClient(a.cfg.ScrapeTimeout(), a.cfg.Scraping.UserAgent)
	throttle := resilience.ThrottleConfig{RPS: a.cfg.Scraping.UpstreamRPS, Burst: a.cfg.Scraping.UpstreamBurst}

	ofacScraper, err := a.setupOFAC(data, client, retrier)
	if err != nil {
		return nil, err
	}
	worldBank := worldbank.New(worldbank.Config{
		URL:    a.cfg.Sources.WorldBankAPIURL,
		APIKey: a.cfg.Sources.WorldBankAPIKey,
	}, client, retrier, a.clock, a.logger.Named("worldbank"))
	leaks := offshoreleaks.New(offshoreleaks.Config{
		SearchURL: a.cfg.Sources.OffshoreLeaksURL,
		UserAgent: a.cfg.Scraping.UserAgent,
		Timeout:   a.cfg.ScrapeTimeout(),
	}, retrier, a.clock, a.logger.Named("offshoreleaks"))

	return screening.Registry{
		screening.SourceOFAC:          resilience.NewThrottle(screening.SourceOFAC, throttle, ofacScraper),
		screening.SourceWorldBank:     resilience.NewThrottle(screening.SourceWorldBank, throttle, worldBank),
		screening.SourceOffshoreLeaks: resilience.NewThrottle(screening.SourceOffshoreLeaks, throttle, leaks),
	}, nil
}

// setupOFAC builds the hybrid selector. Without an API URL the API strategy
// answers from the fixture dataset.
func (a *App) setupOFAC(data dataset.Dataset, client *http.Client, retrier *resilience.Retrier) (screening.Scraper, error) {
	mode, err := resilience.ParseMode(a.cfg.Scraping.Mode)
	if err != nil {
		return nil, err
	}
	logger := a.logger.Named("ofac")

	var primary screening.Scraper
	if a.cfg.Sources.OFACAPIURL != "" {
		primary, err = ofac.NewAPIScraper(ofac.APIConfig{
			URL:    a.cfg.Sources.OFACAPIURL,
			APIKey: a.cfg.Sources.OFACAPIKey,
		}, client, retrier, a.clock, logger)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no OFAC API configured, API strategy answers from fixture data")
		primary, err = data.Scraper(screening.SourceOFAC, a.clock)
		if err != nil {
			return nil, fmt.Errorf("dataset scraper for OFAC: %w", err)
		}
	}

	var secondary screening.Scraper
	if mode != resilience.ModeAPI {
		a.browser, err = browser.NewSession(browser.Config{
			Headless:          a.cfg.Scraping.Headless,
			UserAgent:         a.cfg.Scraping.UserAgent,
			ExecPath:          a.cfg.Scraping.ChromePath,
			MaxTabs:           a.cfg.Scraping.MaxTabs,
			NavigationTimeout: a.cfg.ScrapeTimeout(),
		}, a.logger.Named("browser"))
		if err != nil {
			return nil, fmt.Errorf("browser session init failed: %w", err)
		}
		secondary = ofac.NewDirectScraper(a.browser, a.cfg.Sources.OFACSearchURL, retrier, a.clock, logger)
	}
	selector := resilience.NewSelector(screening.SourceOFAC, mode, primary, secondary, logger)
	logger.Info("OFAC strategy selected", zap.String("mode", string(selector.Mode())))
	return selector, nil
}

func (a *App) loadDataset() (dataset.Dataset, error) {
	if a.cfg.Scraping.DatasetPath == "" {
		data, err := dataset.Default()
		if err != nil {
			return nil, fmt.Errorf("load embedded dataset: %w", err)
		}
		return data, nil
	}
	data, err := dataset.LoadFile(a.cfg.Scraping.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", a.cfg.Scraping.DatasetPath, err)
	}
	a.logger.Info("loaded fixture dataset", zap.String("path", a.cfg.Scraping.DatasetPath))
	return data, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.janitor != nil {
		g.Go(func() error {
			a.janitor.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second
}

// Close releases every long-lived client. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := a.closeBlobs(); err != nil {
		errs = append(errs, fmt.Errorf("blob store close: %w", err))
	}
	a.closeResults()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
