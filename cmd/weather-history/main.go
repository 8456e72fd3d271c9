package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpapi "github.com/i474232898/weather-history/internal/api/http"
	"github.com/i474232898/weather-history/internal/config"
	"github.com/i474232898/weather-history/internal/loader"
	"github.com/i474232898/weather-history/internal/lock"
	"github.com/i474232898/weather-history/internal/metrics"
	"github.com/i474232898/weather-history/internal/notify"
	"github.com/i474232898/weather-history/internal/pipeline"
	"github.com/i474232898/weather-history/internal/registry"
	"github.com/i474232898/weather-history/internal/scheduler"
	"github.com/i474232898/weather-history/internal/store"
	"github.com/i474232898/weather-history/internal/weather"
	"github.com/i474232898/weather-history/internal/weather/providers"
)

func main() {
	mode := flag.String("mode", "run", "run | serve | migrate")
	configFile := flag.String("config", "", "config file (defaults to configs/app.*)")
	years := flag.String("years", "", "years to ingest, e.g. 2020-2024 (overrides YEARS)")
	locations := flag.String("locations", "", "comma-separated location ids (default all)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *mode, *years, *locations); err != nil {
		if errors.Is(err, weather.ErrNoData) {
			log.Warn().Msg("no data produced; nothing loaded")
			os.Exit(2)
		}
		log.Error().Err(err).Str("mode", *mode).Msg("exiting with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, mode, yearsFlag, idsFlag string) error {
	if yearsFlag == "" {
		yearsFlag = cfg.Years
	}
	years, err := config.ParseYears(yearsFlag)
	if err != nil {
		return err
	}
	ids, err := config.ParseIDs(idsFlag)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := loader.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	if mode == "migrate" {
		log.Info().Msg("schema is up to date")
		return nil
	}

	var gc registry.Geocoder
	if cfg.GeocoderAPIKey != "" {
		gc = registry.NewGoogleGeocoder(cfg.GeocoderAPIKey)
	}
	reg, err := registry.Load(ctx, cfg.LocationsFile, gc, log)
	if err != nil {
		return err
	}

	m := metrics.New()

	raw, err := rawStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	powerCfg := providers.DefaultPowerConfig()
	powerCfg.BaseURL = cfg.PowerURL
	powerCfg.Community = cfg.PowerCommunity
	powerCfg.Parameters = cfg.Parameters()
	powerCfg.MaxSegmentDays = cfg.MaxSegmentDays
	powerCfg.RequestInterval = cfg.RequestInterval
	powerCfg.Backoff.MaxRetries = cfg.FetchMaxRetries
	powerCfg.Backoff.InitialInterval = cfg.FetchBackoff

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	power := providers.NewPowerClient(httpClient, raw, powerCfg, log, m)

	contract, err := weather.NewColumnContract(powerCfg.Parameters)
	if err != nil {
		return err
	}
	service := weather.NewService(power, contract, weather.ServiceConfig{
		SegmentMonths: cfg.SegmentMonths,
		Workers:       cfg.Workers,
	}, log, m)

	pg := loader.NewPostgresStore(pool)
	ld := loader.New(pg, loader.Config{
		StagingDir:        cfg.StagingDir,
		FallbackBatchSize: cfg.FallbackBatchSize,
		MaxAttempts:       cfg.LoadMaxAttempts,
	}, log, m)

	locker, closeLocker := runLock(cfg)
	defer closeLocker()

	pub, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	reports := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	runner := pipeline.NewRunner(pipeline.Deps{
		Orchestrator: service,
		Registry:     reg,
		Loader:       ld,
		Syncer:       pg,
		Locker:       locker,
		Reports:      reports,
		Publisher:    pub,
	}, log, m).WithTimeout(cfg.LockTTL)

	req := pipeline.Request{Years: years, LocationIDs: ids}

	switch mode {
	case "run":
		report, err := runner.Run(ctx, req)
		if err != nil {
			return err
		}
		if report.Status == weather.RunUnresolved {
			return fmt.Errorf("load unresolved: staged %d, final %d", report.Load.Staged, report.Load.Final)
		}
		return nil
	case "serve":
		return serve(ctx, cfg, log, runner, reports, req, m)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// rawStore returns the local payload cache, mirrored to MinIO when configured.
func rawStore(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (weather.RawStore, error) {
	files := store.NewFileStore(cfg.CacheDir)
	if cfg.MinioEndpoint == "" {
		return files, nil
	}
	objects, err := store.NewObjectStore(ctx, store.ObjectConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return store.NewMirrored(files, objects, log), nil
}

func runLock(cfg *config.AppConfig) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewFileLock(filepath.Join(cfg.CacheDir, "run.lock"), cfg.LockTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return lock.NewRedisLock(client, "weather-history:run-lock", cfg.LockTTL), func() { _ = client.Close() }
}

func newPublisher(cfg *config.AppConfig) (notify.Publisher, error) {
	if cfg.AMQPURL == "" {
		return notify.NopPublisher{}, nil
	}
	return notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
}

func serve(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, runner *pipeline.Runner, reports *store.MemoryStore, req pipeline.Request, m *metrics.Metrics) error {
	sched := scheduler.New(cfg.Schedule, req, cfg.LockTTL, runner, log)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-history",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(ctx, app, runner, reports, m)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	runner.Wait()
	return nil
}
