package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	PlanRequests   *prometheus.CounterVec // outcome label
	SearchDuration prometheus.Histogram
	SettledStops   prometheus.Histogram

	SnapshotRefreshes *prometheus.CounterVec // result label: ok|integrity_error|load_error|canceled
	RefreshDuration   prometheus.Histogram
	SnapshotVersion   prometheus.Gauge
	SnapshotStops     prometheus.Gauge
	SnapshotTrips     prometheus.Gauge
	SnapshotEvents    prometheus.Gauge
	SnapshotTransfers prometheus.Gauge

	NATSRequests  *prometheus.CounterVec // endpoint label: plan|refresh
	NATSErrors    *prometheus.CounterVec // endpoint label
	NATSConnected prometheus.Gauge

	DBSwitches *prometheus.CounterVec // reason label: update|ping_failure

	WalkSpeed     prometheus.Gauge // m/s
	SearchTimeout prometheus.Gauge // seconds
}

func NewCollector(walkSpeed float64, searchTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PlanRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_plan_requests_total",
			Help: "Plan requests by outcome.",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_plan_duration_seconds",
			Help:    "Time to answer a plan request, search and reconstruction included.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		SettledStops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_search_settled_stops",
			Help:    "Stops finalized per search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		SnapshotRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_snapshot_refreshes_total",
			Help: "Snapshot rebuilds by result.",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_snapshot_refresh_duration_seconds",
			Help:    "Duration of a snapshot load and build.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_snapshot_version",
			Help: "Version of the active snapshot.",
		}),
		SnapshotStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_snapshot_stops",
			Help: "Stops in the active snapshot.",
		}),
		SnapshotTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_snapshot_trips",
			Help: "Trips in the active snapshot.",
		}),
		SnapshotEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_snapshot_stop_events",
			Help: "Stop events in the active snapshot.",
		}),
		SnapshotTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_snapshot_transfer_edges",
			Help: "Directed walking edges in the active snapshot.",
		}),
		NATSRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_nats_requests_total",
			Help: "NATS requests received.",
		}, []string{"endpoint"}),
		NATSErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_nats_errors_total",
			Help: "NATS requests answered with an error or failed replies.",
		}, []string{"endpoint"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		DBSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_db_switches_total",
			Help: "Number of database switches.",
		}, []string{"reason"}),
		WalkSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_walk_speed_mps",
			Help: "Default walking speed in meters per second.",
		}),
		SearchTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_search_timeout_seconds",
			Help: "Per-request search deadline in seconds.",
		}),
	}

	reg.MustRegister(
		c.PlanRequests, c.SearchDuration, c.SettledStops,
		c.SnapshotRefreshes, c.RefreshDuration, c.SnapshotVersion,
		c.SnapshotStops, c.SnapshotTrips, c.SnapshotEvents, c.SnapshotTransfers,
		c.NATSRequests, c.NATSErrors, c.NATSConnected,
		c.DBSwitches, c.WalkSpeed, c.SearchTimeout,
	)

	c.WalkSpeed.Set(walkSpeed)
	c.SearchTimeout.Set(searchTimeout.Seconds())

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()
	slog.Info("metrics listening", slog.String("addr", addr))
	return srv
}
