package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"transit-planner/internal/gtfs"
	"transit-planner/internal/routing"
	"transit-planner/internal/snapshot"
	"transit-planner/internal/tracing"
)

var (
	ErrInvalidRequest = errors.New("invalid plan request")
	ErrNoSnapshot     = errors.New("no schedule snapshot loaded")
)

// Plan outcomes reported to Metrics.
const (
	OutcomeFound          = "found"
	OutcomeNoPath         = "no_path"
	OutcomeUnresolvedStop = "unresolved_stop"
	OutcomeNoNearbyStop   = "no_nearby_stop"
	OutcomeInvalid        = "invalid"
	OutcomeNoSnapshot     = "no_snapshot"
	OutcomeError          = "error"
)

const (
	msgNoPath       = "No path found"
	msgNoNearbyStop = "No nearby stops"
)

// Place is a stop id or a coordinate to snap to the nearest stop.
type Place struct {
	StopID string   `json:"stop_id,omitempty"`
	Lat    *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lon    *float64 `json:"lon,omitempty" validate:"omitempty,longitude"`
}

type Request struct {
	Origin       Place   `json:"origin"`
	Destination  Place   `json:"destination"`
	DepartAt     string  `json:"depart_at" validate:"required"`
	WalkSpeedMPS float64 `json:"walk_speed_mps,omitempty" validate:"omitempty,gt=0,lte=10"`
}

type Response struct {
	Found           bool   `json:"found"`
	Message         string `json:"message,omitempty"`
	OriginStop      string `json:"origin_stop,omitempty"`
	DestStop        string `json:"dest_stop,omitempty"`
	OriginDistanceM *int   `json:"origin_distance_m,omitempty"`
	DestDistanceM   *int   `json:"dest_distance_m,omitempty"`
	*Plan
}

// Plan is the itinerary part of a found response.
type Plan struct {
	DepartAt    string        `json:"depart_at"`
	ArriveAt    string        `json:"arrive_at"`
	DepartSec   int           `json:"depart_sec"`
	ArriveSec   int           `json:"arrive_sec"`
	DurationMin int           `json:"duration_min"`
	Transfers   int           `json:"transfers"`
	Boardings   int           `json:"boardings"`
	Legs        []routing.Leg `json:"legs"`
}

// Snapshots yields the snapshot a request is answered from.
type Snapshots interface {
	Current() *snapshot.Snapshot
}

// StopLocator snaps a coordinate to the nearest stop. An empty stop id with
// a nil error means nothing is close enough.
type StopLocator interface {
	NearestStop(ctx context.Context, lat, lon float64) (stopID string, distanceM int, err error)
}

type Metrics interface {
	PlanObserve(outcome string, d time.Duration, settled int)
}

type Service struct {
	snapshots Snapshots
	locator   StopLocator
	walkSpeed float64
	timeout   time.Duration
	metrics   Metrics
	validate  *validator.Validate
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLocator(l StopLocator) Option {
	return func(s *Service) { s.locator = l }
}

func WithWalkSpeed(mps float64) Option {
	return func(s *Service) {
		if mps > 0 {
			s.walkSpeed = mps
		}
	}
}

// WithTimeout bounds a single search. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(snapshots Snapshots, opts ...Option) *Service {
	s := &Service{
		snapshots: snapshots,
		walkSpeed: routing.DefaultWalkSpeed,
		validate:  validator.New(),
		logger:    slog.Default().With(slog.String("component", "planner")),
		tracer:    otel.Tracer("transit-planner/planner"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Plan answers one earliest-arrival request. Unknown stops and unreachable
// destinations come back as Found=false with a message; errors are reserved
// for malformed requests, a missing snapshot, locator failures and timeouts.
func (s *Service) Plan(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	outcome, settled := OutcomeError, 0
	defer func() {
		if s.metrics != nil {
			s.metrics.PlanObserve(outcome, time.Since(start), settled)
		}
	}()

	ctx, span := s.tracer.Start(ctx, "planner.Plan")
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.String("planner.outcome", outcome))
		if err != nil {
			tracing.RecordError(span, err, outcome)
		}
	}()

	if err := s.validate.Struct(req); err != nil {
		outcome = OutcomeInvalid
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	departure, err := gtfs.ParseDepartAt(req.DepartAt)
	if err != nil {
		outcome = OutcomeInvalid
		return nil, fmt.Errorf("%w: depart_at: %v", ErrInvalidRequest, err)
	}

	snap := s.snapshots.Current()
	if snap == nil {
		outcome = OutcomeNoSnapshot
		return nil, ErrNoSnapshot
	}
	span.SetAttributes(attribute.Int64("snapshot.version", int64(snap.Version)))

	origin, originDist, err := s.resolve(ctx, "origin", req.Origin)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			outcome = OutcomeInvalid
		}
		return nil, err
	}
	dest, destDist, err := s.resolve(ctx, "destination", req.Destination)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			outcome = OutcomeInvalid
		}
		return nil, err
	}
	if origin == "" || dest == "" {
		outcome = OutcomeNoNearbyStop
		return &Response{Found: false, Message: msgNoNearbyStop}, nil
	}
	span.SetAttributes(
		attribute.String("planner.origin", origin),
		attribute.String("planner.destination", dest),
		attribute.Int("planner.depart_sec", departure),
	)

	speed := s.walkSpeed
	if req.WalkSpeedMPS > 0 {
		speed = req.WalkSpeedMPS
	}

	searchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := routing.Search(searchCtx, snap, origin, dest, departure, routing.Options{WalkSpeed: speed})
	if err != nil {
		return nil, fmt.Errorf("search %s -> %s: %w", origin, dest, err)
	}
	settled = res.Settled

	resp = &Response{
		OriginStop:      origin,
		DestStop:        dest,
		OriginDistanceM: originDist,
		DestDistanceM:   destDist,
	}
	switch res.Outcome {
	case routing.OutcomeUnresolvedStop:
		outcome = OutcomeUnresolvedStop
		resp.Message = fmt.Sprintf("Unknown stop %s", res.UnresolvedStop)
		return resp, nil
	case routing.OutcomeNoPath:
		outcome = OutcomeNoPath
		resp.Message = msgNoPath
		return resp, nil
	}

	it, err := routing.Reconstruct(res)
	if err != nil {
		return nil, fmt.Errorf("reconstruct %s -> %s: %w", origin, dest, err)
	}
	outcome = OutcomeFound
	resp.Found = true
	resp.Plan = &Plan{
		DepartAt:    gtfs.FormatClock(it.DepartSec),
		ArriveAt:    gtfs.FormatClock(it.ArriveSec),
		DepartSec:   it.DepartSec,
		ArriveSec:   it.ArriveSec,
		DurationMin: it.DurationMin,
		Transfers:   it.Transfers,
		Boardings:   it.Boardings,
		Legs:        it.Legs,
	}
	s.logger.Debug("plan found",
		slog.String("origin", origin),
		slog.String("destination", dest),
		slog.Int("duration_min", it.DurationMin),
		slog.Int("legs", len(it.Legs)),
		slog.Int("settled", res.Settled))
	return resp, nil
}

// resolve returns the stop id for a place, and the snapping distance when
// the place was a coordinate.
func (s *Service) resolve(ctx context.Context, name string, p Place) (string, *int, error) {
	if p.StopID != "" {
		return p.StopID, nil, nil
	}
	if p.Lat == nil || p.Lon == nil {
		return "", nil, fmt.Errorf("%w: provide %s.stop_id or %s.lat/lon", ErrInvalidRequest, name, name)
	}
	if s.locator == nil {
		return "", nil, fmt.Errorf("%w: %s coordinates are not supported without a stop locator", ErrInvalidRequest, name)
	}
	id, dist, err := s.locator.NearestStop(ctx, *p.Lat, *p.Lon)
	if err != nil {
		return "", nil, fmt.Errorf("nearest %s stop: %w", name, err)
	}
	if id == "" {
		return "", nil, nil
	}
	return id, &dist, nil
}
