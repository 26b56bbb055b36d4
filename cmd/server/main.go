package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mini-transit-live/server/handlers"
	"github.com/mini-transit-live/server/internal/config"
	"github.com/mini-transit-live/server/internal/db"
	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/metrics"
	"github.com/mini-transit-live/server/internal/motion"
	"github.com/mini-transit-live/server/internal/publisher"
	"github.com/mini-transit-live/server/internal/realtime"
	"github.com/mini-transit-live/server/internal/schedule"
	"github.com/mini-transit-live/server/internal/static"
	"github.com/mini-transit-live/server/internal/stream"
	"github.com/mini-transit-live/server/repository"
)

const (
	storePingTimeout  = 30 * time.Second
	statsWriteTimeout = 5 * time.Second
	statsCleanupEvery = time.Hour
	staticCheckEvery  = 24 * time.Hour
	maintenanceEvery  = 10 * time.Minute
	anchorRetention   = 30 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Console: true}).Fatal("failed to load config", "error", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Console:    true,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	log.Info("config loaded",
		"feeds", len(cfg.FeedURLs),
		"cache_ttl", cfg.CacheTTL,
		"refresh_interval", cfg.RefreshInterval,
		"store", cfg.StoreDriver,
		"timezone", cfg.Timezone,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()

	// Schedule store
	var store schedule.Store
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := repository.NewScheduleRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to create postgres pool", "error", err)
		}
		defer pg.Close()
		store = pg
	default:
		if cfg.StaticGTFSURL != "" {
			if _, err := static.RefreshIfStale(ctx, staticOptions(cfg), log); err != nil {
				log.Warn("static schedule refresh failed, using existing data", "error", err)
			}
		}
		sqliteDB, err := repository.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open schedule database", "path", cfg.SQLitePath, "error", err)
		}
		defer sqliteDB.Close()
		store = repository.NewSQLiteScheduleRepository(sqliteDB.GetDB())
	}
	if err := repository.PingWithRetry(ctx, store.Ping, storePingTimeout, log); err != nil {
		log.Warn("schedule store unreachable, serving without schedule joins", "error", err)
	} else {
		log.Info("schedule store connected", "driver", cfg.StoreDriver)
	}

	shapes := schedule.NewShapeCache(store, cfg.ShapeCacheSize)
	joiner := schedule.NewJoiner(store, schedule.JoinerOptions{
		MaxRouteCount: cfg.MaxRouteCount,
		Shapes:        shapes,
		Metrics:       collector,
		Logger:        log,
	})

	// Real-time feed
	client := realtime.NewClient(cfg.FeedURLs, cfg.FeedTimeout, log)
	merger := realtime.NewMerger(realtime.MergeOptions{SeedFromTripUpdates: cfg.SeedFromTripUpdates})
	cache := realtime.NewCache(client, merger, realtime.CacheOptions{
		TTL:          cfg.CacheTTL,
		FetchTimeout: cfg.FeedTimeout,
		Metrics:      collector,
		Logger:       log,
	})
	tracker := motion.NewTracker(motion.DefaultTrackerOptions(), metrics.NewKeyedStats(), log)

	// Fan-out
	hub := stream.NewHub(cfg.AllowedOrigins, cache.Last, collector, log)
	cache.OnRefresh(hub.Broadcast)

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, collector, log)
		if err != nil {
			log.Warn("NATS unavailable, snapshots will not be published", "url", cfg.NATSURL, "error", err)
		} else {
			defer pub.Close()
			cache.OnRefresh(pub.Listener())
		}
	}

	// Delay statistics
	var delayRepo handlers.DelayRepository
	if cfg.StatsDatabase != "" {
		statsDB, err := db.Connect(cfg.StatsDatabase, log)
		if err != nil {
			log.Fatal("failed to open stats database", "path", cfg.StatsDatabase, "error", err)
		}
		defer statsDB.Close()
		if err := statsDB.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to ensure stats schema", "error", err)
		}
		delayRepo = statsDB
		cache.OnRefresh(recordDelays(statsDB, log))
		go runStatsCleanup(ctx, statsDB, cfg.StatsRetention, log)
	}

	go cache.Run(ctx, cfg.RefreshInterval)
	go runMaintenance(ctx, tracker, log)
	if cfg.StoreDriver == "sqlite" && cfg.StaticGTFSURL != "" {
		go runStaticRefresh(ctx, cfg, shapes, log)
	}

	// Handlers
	vehicleHandler := handlers.NewVehicleHandler(cache, joiner, log)
	boardHandler := handlers.NewBoardHandler(cache, joiner, cfg.Location)
	planHandler := handlers.NewPlanHandler(cache, joiner, tracker, cfg.Location)
	delayHandler := handlers.NewDelayHandler(cache, delayRepo)
	healthHandler := handlers.NewHealthHandler(joiner, cache)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Snapshot-Id", "X-Snapshot-Stale"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.GetHealth)
	r.Get("/healthz", handlers.Liveness)
	r.Get("/api/ping", handlers.Ping)
	r.Handle("/metrics", collector.Handler())

	r.Get("/feed", vehicleHandler.GetFeed)
	r.Get("/api/vehicles", vehicleHandler.GetVehicles)
	r.Get("/api/vehicles/{tripId}/plan", planHandler.GetPlan)
	r.Get("/api/board", boardHandler.GetBoard)
	r.Get("/api/delays/stats", delayHandler.GetDelayStats)
	r.Handle("/api/stream", hub)

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = collector.Serve(cfg.MetricsAddr, log)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancel()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}
	log.Info("goodbye")
}

// recordDelays folds each fresh snapshot into the hourly delay aggregates
func recordDelays(statsDB *db.DB, log logger.Logger) func(*realtime.Snapshot) {
	return func(snap *realtime.Snapshot) {
		observations := db.ObservationsFromVehicles(snap.Vehicles)
		if len(observations) == 0 {
			return
		}
		at := snap.Timestamp
		if at.IsZero() {
			at = snap.FetchedAt
		}
		ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
		defer cancel()
		if err := statsDB.UpdateDelayStats(ctx, observations, at); err != nil {
			log.Warn("failed to record delay stats", "snapshot_id", snap.ID, "error", err)
		}
	}
}

func runStatsCleanup(ctx context.Context, statsDB *db.DB, retention time.Duration, log logger.Logger) {
	ticker := time.NewTicker(statsCleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := statsDB.Cleanup(ctx, retention, time.Now())
			if err != nil {
				log.Warn("stats cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("stats cleanup", "rows", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runMaintenance drops tracker anchors of trips that stopped reporting
func runMaintenance(ctx context.Context, tracker *motion.Tracker, log logger.Logger) {
	ticker := time.NewTicker(maintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := tracker.Prune(now.Add(-anchorRetention)); n > 0 {
				log.Debug("pruned tracker anchors", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func staticOptions(cfg *config.Config) static.Options {
	return static.Options{
		URL:    cfg.StaticGTFSURL,
		DBPath: cfg.SQLitePath,
		MaxAge: cfg.StaticMaxAge,
	}
}

// runStaticRefresh re-imports the static schedule once it is older than
// StaticMaxAge. Cached shapes are dropped after every import.
func runStaticRefresh(ctx context.Context, cfg *config.Config, shapes *schedule.ShapeCache, log logger.Logger) {
	ticker := time.NewTicker(staticCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			refreshed, err := static.RefreshIfStale(ctx, staticOptions(cfg), log)
			if err != nil {
				log.Warn("static schedule refresh failed", "error", err)
				continue
			}
			if refreshed {
				shapes.Purge()
			}
		case <-ctx.Done():
			log.Info("static refresh loop stopped")
			return
		}
	}
}
