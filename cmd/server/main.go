package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "watchcompanion/internal/api/http"
	"watchcompanion/internal/app"
	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/download"
	"watchcompanion/internal/manifest"
	"watchcompanion/internal/metrics"
	"watchcompanion/internal/services/openrequest"
	"watchcompanion/internal/services/session"
	"watchcompanion/internal/services/session/repository/memory"
	sessionmongo "watchcompanion/internal/services/session/repository/mongo"
	"watchcompanion/internal/telemetry"
	"watchcompanion/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "watchcompanion")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "watchcompanion"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Bool("mongo", cfg.MongoURI != ""),
		slog.Bool("redis", cfg.RedisAddr != ""),
		slog.String("downloadDir", cfg.DownloadDir),
		slog.Duration("resumeMaxAge", cfg.ResumeMaxAge),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var (
		resumeRepo    ports.ResumeRepository
		bookmarkRepo  ports.BookmarkRepository
		settingsStore app.PlayerSettingsStore
		mongoClient   *mongo.Client
	)
	if cfg.MongoURI != "" {
		mongoClient, err = sessionmongo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := sessionmongo.EnsureIndexes(ctx, mongoClient, cfg.MongoDatabase); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		resumeRepo = sessionmongo.NewResumeRepository(mongoClient, cfg.MongoDatabase)
		bookmarkRepo = sessionmongo.NewBookmarkRepository(mongoClient, cfg.MongoDatabase)
		settingsStore = sessionmongo.NewPlayerSettingsRepository(mongoClient, cfg.MongoDatabase)
	} else {
		logger.Info("MONGO_URI not set, keeping checkpoints and bookmarks in memory")
		resumeRepo = memory.NewResumeRepository()
		bookmarkRepo = memory.NewBookmarkRepository()
	}
	store := session.NewStore(resumeRepo, bookmarkRepo, session.WithLogger(logger))

	queue, redisClient := buildOpenRequestQueue(ctx, cfg, logger)

	initialSettings := app.DefaultPlayerSettings()
	initialSettings.ResumePolicy = cfg.PlayerResumePolicy
	playerSettings := app.NewPlayerSettingsManager(settingsStore, initialSettings)
	if err := playerSettings.Load(ctx); err != nil {
		logger.Warn("player settings load failed", slog.String("error", err.Error()))
	}

	downloader := download.New(
		&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		download.NewFileSaver(cfg.DownloadDir),
		download.Config{
			SampleSize:        cfg.DownloadSampleSegments,
			RateLimitBackoff:  cfg.DownloadRateLimitBackoff,
			RateLimitRetries:  cfg.DownloadRateLimitRetries,
			SegmentsPerSecond: cfg.DownloadSegmentsPerSecond,
			TokenParams:       cfg.SignedTokenParams,
			FilenameTemplate:  cfg.DownloadFilenameTemplate,
		},
		logger,
	)
	downloads := download.NewService(downloader,
		download.WithServiceLogger(logger),
		download.WithUpdateHook(func(st domain.DownloadState) {
			if st.Status.IsFinished() {
				logger.Info("download job finished",
					slog.String("jobId", st.Job.ID),
					slog.String("status", string(st.Status)),
					slog.String("filename", st.Filename),
				)
			}
		}),
	)

	retention := usecase.ResumeRetention{
		Store:    store,
		MaxAge:   cfg.ResumeMaxAge,
		Interval: cfg.ResumeSweepInterval,
		Logger:   logger,
	}
	go retention.Run(rootCtx)

	handler := apihttp.NewServer(store,
		apihttp.WithLogger(logger),
		apihttp.WithOpenRequests(queue, usecase.OpenEntry{Bookmarks: store, Checkpoints: store, Queue: queue}),
		apihttp.WithDownloads(downloads),
		apihttp.WithPlayerSettings(playerSettings),
		apihttp.WithTokenRule(manifest.TokenRule{Hosts: cfg.SignedTokenHosts, Params: cfg.SignedTokenParams}),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	downloads.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// buildOpenRequestQueue prefers redis so that every daemon replica sees the
// same pending requests, and falls back to process memory.
func buildOpenRequestQueue(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.OpenRequestQueue, *redis.Client) {
	if cfg.RedisAddr == "" {
		return openrequest.NewMemoryQueue(cfg.OpenRequestTTL), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	queue := openrequest.NewRedisQueue(client, cfg.OpenRequestTTL)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := queue.Ping(pingCtx); err != nil {
		logger.Warn("redis not reachable, using in-memory open request queue", slog.String("error", err.Error()))
		_ = client.Close()
		return openrequest.NewMemoryQueue(cfg.OpenRequestTTL), nil
	}
	logger.Info("redis connected", slog.String("addr", cfg.RedisAddr))
	return queue, client
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
