// Package main provides the entry point for gatewayd.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import for side effects - registers pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/browser"
	"github.com/asepharyana/gatewayd/internal/cache"
	"github.com/asepharyana/gatewayd/internal/chat"
	"github.com/asepharyana/gatewayd/internal/config"
	"github.com/asepharyana/gatewayd/internal/db"
	"github.com/asepharyana/gatewayd/internal/fetch"
	"github.com/asepharyana/gatewayd/internal/httpsurface"
	"github.com/asepharyana/gatewayd/internal/jobs"
	"github.com/asepharyana/gatewayd/internal/middleware"
	"github.com/asepharyana/gatewayd/internal/objectstore"
	"github.com/asepharyana/gatewayd/internal/reingest"
	"github.com/asepharyana/gatewayd/internal/scheduler"
	"github.com/asepharyana/gatewayd/internal/scrape"
	"github.com/asepharyana/gatewayd/internal/selectors"
	"github.com/asepharyana/gatewayd/internal/telemetry"
	"github.com/asepharyana/gatewayd/pkg/version"
)

func main() {
	// Handle --version flag early, before any initialization
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gatewayd %s\n", version.Full())
		return
	}

	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	// Validate configuration
	cfg.Validate()

	// Print banner
	printBanner()

	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	memStopCh := make(chan struct{})
	go metrics.StartMemoryCollector(15*time.Second, memStopCh)
	defer close(memStopCh)

	ctx := context.Background()

	// Initialize browser pool
	log.Info().Msg("Initializing browser pool...")
	pool, err := browser.NewPool(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser pool")
	}

	// Connection pools: Postgres and Redis back the cache, reingest ledger,
	// session store, chat history, job queue and scheduled tasks.
	dbPool, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database pool")
	}
	if err := dbPool.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid REDIS_URL")
	}
	redisOpts.PoolSize = cfg.RedisPoolSize
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	respCache := cache.New(rdb, cfg.CacheLockTTL)

	fetcher := fetch.New(cfg.ProxyURL, cfg.ImageReingestWorkers, respCache)

	var store *objectstore.Store
	if cfg.S3Bucket != "" {
		store, err = objectstore.New(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize object store")
		}
	}

	var reingestor *reingest.Reingest
	if store != nil {
		reingestor = reingest.New(rdb, dbPool, fetcher, store, cfg.ImageReingestWorkers)
	}

	var proxyCfg *browser.ProxyConfig
	if cfg.HasDefaultProxy() {
		proxyCfg = &browser.ProxyConfig{
			URL:      cfg.ProxyURL,
			Username: cfg.ProxyUsername,
			Password: cfg.ProxyPassword,
		}
	}
	gateway := scrape.New(respCache, fetcher, pool, reingestor, proxyCfg)

	selMgr, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize selectors manager, using embedded defaults")
	} else {
		gateway.SetSelectorsManager(selMgr)
	}

	hub := chat.NewHub(dbPool)

	jobQueue := jobs.New(rdb)

	// Scheduled maintenance tasks: image-cache GC, empty-room reaping,
	// expired-session sweeping, delayed-job promotion.
	sched := scheduler.New()
	if cfg.SchedulerEnabled {
		for _, task := range []scheduler.Task{
			scheduler.CacheGCTask(rdb, dbPool),
			scheduler.EmptyRoomReaperTask(hub),
			scheduler.SessionSweepTask(rdb),
			scheduler.DelayedJobPromotionTask(jobQueue),
		} {
			if err := sched.Register(task); err != nil {
				log.Error().Err(err).Str("task", task.Name).Msg("Failed to register scheduled task")
			}
		}
		sched.Start()
	}

	state := &httpsurface.State{
		Config:  cfg,
		Pool:    pool,
		Gateway: gateway,
		Hub:     hub,
	}

	maintenanceCfg := httpsurface.MaintenanceConfig{
		RDB:          rdb,
		BypassSecret: cfg.MaintenanceBypassSecret,
		AllowedPaths: map[string]struct{}{"/health": {}, "/metrics": {}},
		AllowedIPs:   map[string]struct{}{},
	}
	sessionCfg := httpsurface.SessionMiddlewareConfig{
		RDB:    rdb,
		TTL:    24 * time.Hour,
		Secure: !cfg.IgnoreCertErrors,
	}

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
	}

	finalHandler := httpsurface.NewRouter(state, maintenanceCfg, sessionCfg, rateLimiter)

	if cfg.APIKeyEnabled {
		log.Info().Msg("API key authentication enabled")
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadTimeout:       cfg.MaxTimeout + 10*time.Second,
		WriteTimeout:      cfg.MaxTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // Prevent slowloris attacks
	}

	// Start pprof server if enabled
	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort)
		pprofServer = &http.Server{
			Addr:         pprofAddr,
			Handler:      http.DefaultServeMux, // pprof registers to DefaultServeMux
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		}

		go func() {
			log.Warn().
				Str("addr", pprofAddr).
				Msg("WARNING: pprof profiling server started - exposes runtime internals, use for debugging only")

			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	// Start main server in goroutine
	go func() {
		log.Info().
			Str("address", addr).
			Int("pool_size", cfg.BrowserPoolSize).
			Bool("scheduler_enabled", cfg.SchedulerEnabled).
			Msg("gatewayd is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Stop receiving signals to prevent double-shutdown
	signal.Stop(quit)

	log.Info().Msg("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown order: HTTP server, then scheduled tasks, then the chat hub,
	// then the session/browser pool, then the shared connection pools.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if pprofServer != nil {
		if err := pprofServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("pprof server shutdown error")
		}
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}

	if cfg.SchedulerEnabled {
		sched.Stop()
	}

	hub.Close()

	if selMgr != nil {
		if err := selMgr.Close(); err != nil {
			log.Error().Err(err).Msg("Selectors manager close error")
		}
	}

	if err := pool.Close(); err != nil {
		log.Error().Err(err).Msg("Browser pool close error")
	}

	if err := respCache.Close(); err != nil {
		log.Error().Err(err).Msg("Cache close error")
	}
	dbPool.Close()

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	// Use console writer for prettier output
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
  __ _  __ _| |_ _____      ____ _ _   _  __| |
 / _' |/ _' | __/ _ \ \ /\ / / _' | | | |/ _' |
| (_| | (_| | ||  __/\ V  V / (_| | |_| | (_| |
 \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |\__,_|
 |___/                             |___/
                                    Go Edition
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting gatewayd")
}
