package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"transit-planner/internal/gtfs"
	"transit-planner/internal/tracing"
)

// Source supplies the raw rows a snapshot is built from.
type Source interface {
	LoadFeed(ctx context.Context) (*gtfs.Feed, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*gtfs.Feed, error)

func (f SourceFunc) LoadFeed(ctx context.Context) (*gtfs.Feed, error) { return f(ctx) }

// Refresh results reported to Metrics.
const (
	ResultOK             = "ok"
	ResultIntegrityError = "integrity_error"
	ResultLoadError      = "load_error"
	ResultCanceled       = "canceled"
)

// Metrics receives refresh outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	RefreshObserve(d time.Duration, result string)
	SnapshotInstalled(version uint64, st Stats)
}

// Cache holds the active snapshot and replaces it wholesale on Refresh.
// Readers never block: Current is a single atomic load, and a snapshot a
// reader already holds stays valid after it has been replaced.
type Cache struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	srcMu  sync.RWMutex
	source Source
	// gen counts source changes; a refresh only joins a build of the same generation.
	gen atomic.Uint64

	installMu    sync.Mutex
	installedGen uint64

	group singleflight.Group

	maxRetries      uint64
	initialInterval time.Duration
	buildTimeout    time.Duration
	metrics         Metrics
	logger          *slog.Logger
	tracer          trace.Tracer
}

type Option func(*Cache)

// WithRetry sets how often a failed feed load is retried and the first backoff interval.
func WithRetry(maxRetries uint64, initialInterval time.Duration) Option {
	return func(c *Cache) {
		c.maxRetries = maxRetries
		if initialInterval > 0 {
			c.initialInterval = initialInterval
		}
	}
}

// WithBuildTimeout bounds a shared rebuild. The rebuild is detached from the
// callers' contexts, so one caller giving up does not cancel it for the others.
func WithBuildTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.buildTimeout = d
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCache(src Source, opts ...Option) *Cache {
	c := &Cache{
		source:          src,
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		buildTimeout:    2 * time.Minute,
		logger:          slog.Default().With(slog.String("component", "snapshot_cache")),
		tracer:          otel.Tracer("transit-planner/snapshot"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the active snapshot, or nil before the first successful Refresh.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// SetSource replaces the data source used by later refreshes. A Refresh
// called after SetSource never returns a snapshot built from the old source.
func (c *Cache) SetSource(src Source) {
	c.srcMu.Lock()
	c.source = src
	c.srcMu.Unlock()
	c.Invalidate()
}

// Invalidate marks the source's data as changed in place (for example a
// database handle swapped behind the same Source). Later Refresh calls start
// a new build instead of joining one already in flight.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
}

func (c *Cache) Source() Source {
	c.srcMu.RLock()
	defer c.srcMu.RUnlock()
	return c.source
}

// Refresh rebuilds the snapshot from the source and swaps it in. Calls that
// overlap an in-flight rebuild of the same source generation share its
// result. On failure the previous snapshot stays active.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	gen := c.gen.Load()
	buildCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		bctx, cancel := context.WithTimeout(buildCtx, c.buildTimeout)
		defer cancel()
		return c.rebuild(bctx, gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Snapshot), nil
	}
}

func (c *Cache) rebuild(ctx context.Context, gen uint64) (snap *Snapshot, err error) {
	ctx, span := c.tracer.Start(ctx, "snapshot.Refresh")
	defer span.End()

	start := time.Now()
	result := ResultOK
	defer func() {
		if c.metrics != nil {
			c.metrics.RefreshObserve(time.Since(start), result)
		}
		if err != nil {
			tracing.RecordError(span, err, result)
		}
	}()

	src := c.Source()
	if src == nil {
		result = ResultLoadError
		return nil, errors.New("snapshot cache has no source")
	}

	var feed *gtfs.Feed
	load := func() error {
		f, lerr := src.LoadFeed(ctx)
		if lerr != nil {
			if ctx.Err() != nil || IsIntegrityError(lerr) {
				return backoff.Permanent(lerr)
			}
			c.logger.Warn("schedule load failed", slog.Any("error", lerr))
			return lerr
		}
		feed = f
		return nil
	}
	if err := backoff.Retry(load, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)); err != nil {
		switch {
		case ctx.Err() != nil:
			result = ResultCanceled
		case IsIntegrityError(err):
			result = ResultIntegrityError
		default:
			result = ResultLoadError
		}
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	built, err := Build(feed)
	if err != nil {
		result = ResultIntegrityError
		c.logger.Error("snapshot build rejected", slog.Any("error", err))
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		result = ResultCanceled
		return nil, err
	}

	c.installMu.Lock()
	if gen < c.installedGen {
		// A build of a newer source finished first.
		c.installMu.Unlock()
		c.logger.Info("discarding snapshot of a replaced source", slog.Uint64("generation", gen))
		return c.Current(), nil
	}
	c.installedGen = gen
	built.Version = c.version.Add(1)
	c.current.Store(built)
	c.installMu.Unlock()

	st := built.Stats()
	span.SetAttributes(
		attribute.Int64("snapshot.version", int64(built.Version)),
		attribute.Int("snapshot.stops", st.Stops),
		attribute.Int("snapshot.trips", st.Trips),
	)
	if c.metrics != nil {
		c.metrics.SnapshotInstalled(built.Version, st)
	}
	c.logger.Info("snapshot installed",
		slog.Uint64("version", built.Version),
		slog.Int("stops", st.Stops),
		slog.Int("trips", st.Trips),
		slog.Int("events", st.Events),
		slog.Int("transfers", st.Transfers),
		slog.Duration("took", time.Since(start)))
	return built, nil
}

func (c *Cache) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0
	return b
}
