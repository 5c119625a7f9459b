package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"transit-planner/internal/config"
	"transit-planner/internal/db"
	"transit-planner/internal/logging"
	"transit-planner/internal/metrics"
	"transit-planner/internal/planner"
	"transit-planner/internal/profiling"
	"transit-planner/internal/schedfile"
	"transit-planner/internal/snapshot"
	"transit-planner/internal/tracing"
	"transit-planner/internal/transport"
)

var version = "dev"

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logging.InitLogging(cfg.LogLevel)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		log.Fatalf("tracing error: %v", err)
	}
	defer shutdownTracing()
	stopProfiling := profiling.InitProfiling(profiling.Config{
		Enabled:           cfg.ProfilingEnabled,
		ServerAddress:     cfg.PyroscopeServer,
		ApplicationName:   cfg.PyroscopeApp,
		BasicAuthUser:     cfg.PyroscopeUser,
		BasicAuthPassword: cfg.PyroscopePassword,
	}, version)
	defer stopProfiling()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.WalkSpeed, cfg.SearchTimeout)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Schedule source: a YAML file, or the (latest) GTFS import database
	var (
		source        snapshot.Source
		dbSource      *db.ScheduleSource
		currentDBName string
	)
	if cfg.UsesDatabase() {
		var sqlDB *sql.DB
		sqlDB, currentDBName = openScheduleDB(ctx, cfg)
		dbSource = db.NewScheduleSource(sqlDB)
		defer func() { _ = dbSource.DB().Close() }()
		source = dbSource
	} else {
		source = schedfile.New(cfg.ScheduleFile)
		slog.Info("using schedule file", slog.String("path", cfg.ScheduleFile))
	}

	cache := snapshot.NewCache(source,
		snapshot.WithRetry(uint64(cfg.RefreshMaxRetries), 500*time.Millisecond),
		snapshot.WithBuildTimeout(cfg.RefreshTimeout),
		snapshot.WithMetrics(wrapCacheMetrics(mcol)),
	)

	// The service does not answer without a snapshot, so the first build must succeed.
	{
		rctx, rcancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
		_, err := cache.Refresh(rctx)
		rcancel()
		if err != nil {
			log.Fatalf("initial snapshot build: %v", err)
		}
	}

	opts := []planner.Option{
		planner.WithWalkSpeed(cfg.WalkSpeed),
		planner.WithTimeout(cfg.SearchTimeout),
		planner.WithMetrics(wrapPlanMetrics(mcol)),
	}
	if dbSource != nil {
		opts = append(opts, planner.WithLocator(db.NewStopLocator(dbSource)))
	}
	svc := planner.NewService(cache, opts...)

	// NATS request/reply
	nc, err := transport.Connect(cfg.NATSURL, wrapNATSMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	server := transport.NewServer(nc, transport.Config{
		PlanSubject:    cfg.PlanSubject,
		RefreshSubject: cfg.RefreshSubject,
		EventsSubject:  cfg.EventsSubject,
		QueueGroup:     cfg.QueueGroup,
		LogSubjects:    cfg.LogNATSSubjects,
		RefreshTimeout: cfg.RefreshTimeout,
	}, svc, cache, wrapNATSMetrics(mcol))
	if err := server.Start(ctx); err != nil {
		log.Fatalf("nats subscribe error: %v", err)
	}
	defer server.Close()
	if err := server.PublishRefreshed(cache.Current(), "startup"); err != nil {
		slog.Warn("publish refresh event failed", slog.Any("error", err))
	}

	refresh := func(reason string) error {
		rctx, rcancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
		defer rcancel()
		snap, err := cache.Refresh(rctx)
		if err != nil {
			slog.Error("snapshot refresh failed", slog.String("reason", reason), slog.Any("error", err))
			return err
		}
		if err := server.PublishRefreshed(snap, reason); err != nil {
			slog.Warn("publish refresh event failed", slog.Any("error", err))
		}
		return nil
	}

	var wg sync.WaitGroup

	// SIGHUP rebuilds the snapshot from the current source
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				slog.Info("SIGHUP received, refreshing snapshot")
				_ = refresh("sighup")
			}
		}
	}()

	// Periodic city DB watcher if CITY is set
	if dbSource != nil && cfg.City != "" && cfg.DBWatchInterval > 0 {
		w := &dbWatcher{
			cfg:      cfg,
			source:   dbSource,
			current:  currentDBName,
			metrics:  mcol,
			// The handle changed behind the same source, so skip any build already in flight.
			onSwitch: func(reason string) error {
				cache.Invalidate()
				return refresh(reason)
			},
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}

	slog.Info("planner ready",
		slog.String("version", version),
		slog.String("plan_subject", cfg.PlanSubject),
		slog.Uint64("snapshot_version", cache.Current().Version))

	// Block until context cancelled
	<-ctx.Done()
	wg.Wait()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	slog.Info("shutdown complete")
}

// openScheduleDB connects to the configured database, or, when CITY is set,
// to the newest import for that city found through the cluster's meta DB.
func openScheduleDB(ctx context.Context, cfg *config.Config) (*sql.DB, string) {
	finalDSN := cfg.DatabaseURL
	currentDBName := db.DBName(finalDSN)
	if cfg.City != "" {
		name, err := resolveCityDB(ctx, cfg)
		if err != nil {
			log.Fatalf("resolve latest import for city %q: %v", cfg.City, err)
		}
		currentDBName = name
		finalDSN, err = db.WithDBName(cfg.DatabaseURL, name)
		if err != nil {
			log.Fatalf("compose DSN: %v", err)
		}
		slog.Info("using city database", slog.String("db", name), slog.String("city", cfg.City))
	}
	sqlDB, err := db.Open(finalDSN)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	return sqlDB, currentDBName
}

// resolveCityDB looks up the latest import over a short-lived connection to
// the cluster's 'postgres' database.
func resolveCityDB(ctx context.Context, cfg *config.Config) (string, error) {
	rootDSN, err := db.WithDBName(cfg.DatabaseURL, "postgres")
	if err != nil {
		return "", err
	}
	metaDB, err := db.Open(rootDSN)
	if err != nil {
		return "", err
	}
	defer metaDB.Close()
	if err := db.Ping(ctx, metaDB); err != nil {
		return "", err
	}
	return db.LatestCityDatabase(ctx, metaDB, cfg.City)
}

// dbWatcher follows the newest import for a city. On a newer import, or when
// the current database stops answering, it points the schedule source at the
// target database and rebuilds the snapshot; a failed rebuild switches back.
type dbWatcher struct {
	cfg      *config.Config
	source   *db.ScheduleSource
	current  string
	metrics  *metrics.Collector
	onSwitch func(reason string) error
}

func (w *dbWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DBWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		w.check(ctx)
	}
}

func (w *dbWatcher) check(ctx context.Context) {
	// 1) Ping current DB; if it fails, force re-resolve
	reason := ""
	if err := db.Ping(ctx, w.source.DB()); err != nil {
		slog.Warn("db ping failed, re-resolving city DB", slog.Any("error", err))
		reason = "ping_failure"
	}

	// 2) Always re-resolve latest import, compare db_name
	newName, err := resolveCityDB(ctx, w.cfg)
	if err != nil {
		slog.Error("resolve latest import error", slog.Any("error", err))
		return
	}
	if newName != "" && newName != w.current {
		slog.Info("detected updated DB for city",
			slog.String("city", w.cfg.City),
			slog.String("from", w.current),
			slog.String("to", newName))
		reason = "update"
	}
	if reason == "" {
		return
	}

	target := w.current
	if newName != "" {
		target = newName
	}
	newDSN, err := db.WithDBName(w.cfg.DatabaseURL, target)
	if err != nil {
		slog.Error("compose DSN error", slog.Any("error", err))
		return
	}
	newDB, err := db.Open(newDSN)
	if err != nil {
		slog.Error("open new DB error", slog.Any("error", err))
		return
	}
	if err := db.Ping(ctx, newDB); err != nil {
		slog.Error("ping new DB error", slog.Any("error", err))
		_ = newDB.Close()
		return
	}

	prev := w.source.SetDB(newDB)
	if err := w.onSwitch("db_" + reason); err != nil {
		w.source.SetDB(prev)
		_ = newDB.Close()
		slog.Warn("keeping previous DB after failed rebuild", slog.String("db", w.current))
		return
	}
	_ = prev.Close()
	if w.metrics != nil {
		w.metrics.DBSwitches.WithLabelValues(reason).Inc()
	}
	w.current = target
	slog.Info("switched DB", slog.String("db", target), slog.String("city", w.cfg.City))
}

// wrapCacheMetrics adapts our Collector to the snapshot.Metrics interface.
func wrapCacheMetrics(c *metrics.Collector) snapshot.Metrics {
	if c == nil {
		return nil
	}
	return &cacheMetrics{c: c}
}

type cacheMetrics struct{ c *metrics.Collector }

func (m *cacheMetrics) RefreshObserve(d time.Duration, result string) {
	m.c.SnapshotRefreshes.WithLabelValues(result).Inc()
	m.c.RefreshDuration.Observe(d.Seconds())
}

func (m *cacheMetrics) SnapshotInstalled(version uint64, st snapshot.Stats) {
	m.c.SnapshotVersion.Set(float64(version))
	m.c.SnapshotStops.Set(float64(st.Stops))
	m.c.SnapshotTrips.Set(float64(st.Trips))
	m.c.SnapshotEvents.Set(float64(st.Events))
	m.c.SnapshotTransfers.Set(float64(st.Transfers))
}

// wrapPlanMetrics adapts our Collector to the planner.Metrics interface.
func wrapPlanMetrics(c *metrics.Collector) planner.Metrics {
	if c == nil {
		return nil
	}
	return &planMetrics{c: c}
}

type planMetrics struct{ c *metrics.Collector }

func (m *planMetrics) PlanObserve(outcome string, d time.Duration, settled int) {
	m.c.PlanRequests.WithLabelValues(outcome).Inc()
	m.c.SearchDuration.Observe(d.Seconds())
	if settled > 0 {
		m.c.SettledStops.Observe(float64(settled))
	}
}

// wrapNATSMetrics adapts our Collector to the transport.Metrics interface.
func wrapNATSMetrics(c *metrics.Collector) transport.Metrics {
	if c == nil {
		return nil
	}
	return &natsMetrics{c: c}
}

type natsMetrics struct{ c *metrics.Collector }

func (n *natsMetrics) NATSRequestInc(endpoint string) { n.c.NATSRequests.WithLabelValues(endpoint).Inc() }
func (n *natsMetrics) NATSErrorInc(endpoint string)   { n.c.NATSErrors.WithLabelValues(endpoint).Inc() }
func (n *natsMetrics) NATSSetConnected(b bool) {
	if b {
		n.c.NATSConnected.Set(1)
	} else {
		n.c.NATSConnected.Set(0)
	}
}
