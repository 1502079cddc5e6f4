package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"repscore/internal/achievement"
	"repscore/internal/audit"
	"repscore/internal/cache"
	"repscore/internal/catalog"
	"repscore/internal/configuration"
	"repscore/internal/history"
	"repscore/internal/metrics"
	"repscore/internal/score"
	"repscore/internal/server"
)

// prepareLogger sets the default slog logger: JSON on stdout, plus a
// rotated file when file is set. Unknown levels fall back to info. The
// returned file logger is nil without a file.
func prepareLogger(level, file string) *lumberjack.Logger {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	var rotating *lumberjack.Logger
	if file != "" {
		rotating = &lumberjack.Logger{Filename: file, MaxSize: 100, MaxBackups: 10, Compress: true}
		out = io.MultiWriter(os.Stdout, rotating)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return rotating
}

// Any failure while loading the configuration, the definitions or wiring
// components exits with code 1.
func main() {
	configPath := flag.String("config", "/etc/repscore/config.yaml", "configuration file")
	flag.Parse()
	config, err := configuration.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Unable to load configuration", "error", err)
		os.Exit(1)
	}
	if logFile := prepareLogger(config.Logger.Level, config.Logger.File); logFile != nil {
		defer logFile.Close()
	}

	appCtx, appCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer appCancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsManager := metrics.NewManager("engine", registry)

	store := catalog.NewStore(catalog.NewFileSource(config.Catalog.File), catalog.WithReloadHook(metricsManager.ObserveReload))
	if _, err := store.Reload(appCtx); err != nil {
		slog.Error("Unable to load definitions", "file", config.Catalog.File, "error", err)
		os.Exit(1)
	}

	var watcher *catalog.Watcher
	if config.Catalog.Watch {
		watcher, err = catalog.NewWatcher(config.Catalog.File, config.Catalog.Debounce, store.Reload)
		if err != nil {
			slog.Error("Unable to watch definitions", "error", err)
			os.Exit(1)
		}
		go watcher.Serve(appCtx)
	}

	var redisClient *redis.Client
	var remote cache.Backend
	var unlocks achievement.UnlockStore = achievement.NewMemoryUnlockStore()
	if config.Cache.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Cache.RedisAddr,
			Password: config.Cache.RedisPassword,
			DB:       config.Cache.RedisDB,
		})
		remote = cache.NewRedisBackend(redisClient, "repscore:")
		unlocks = achievement.NewRedisUnlockStore(redisClient)
	}
	layered := cache.NewLayered(remote, cache.NewMemoryBackend(config.Cache.MemorySizeMB),
		cache.WithTimeout(config.Cache.Timeout),
		cache.WithStateHook(metricsManager.ObserveCacheState),
	)

	results := history.NewResultsRepository(config.History.Length, config.History.TTL)
	go results.Serve()
	contexts := history.NewCachedContexts(results, layered, config.Cache.ContextTTL)

	auditSink := audit.NewSink(config.Audit.File, config.Audit.Size, config.Audit.Amount)
	sinks := score.AuditSinks{results, contexts, auditSink}
	emitters := achievement.Emitters{metricsManager, auditSink}

	tracker := achievement.NewTracker(store, unlocks, emitters)
	engine := score.NewEngine(store,
		score.WithPrecision(config.Score.Precision),
		score.WithBulkParallelism(config.Score.BulkParallelism),
		score.WithContextProvider(contexts),
		score.WithAuditSink(sinks),
		score.WithAchievements(tracker),
		score.WithObserver(metricsManager),
	)

	router := server.NewApiV1Router(
		engine,
		store,
		results,
		tracker,
		layered,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		config.Server.AdminToken,
	)
	srv := server.NewServer(config.Server.Address, router)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			appCancel()
		}
	}()
	slog.Info("Server listening", "address", config.Server.Address, "generation", store.Generation())
	<-appCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown", "error", err)
	}
	slog.Info("Server stopped")

	tracker.Close()
	results.Stop()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			slog.Warn("Watcher close", "error", err)
		}
	}
	if err := auditSink.Close(); err != nil {
		slog.Warn("Audit close", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Warn("Redis close", "error", err)
		}
	}
}
