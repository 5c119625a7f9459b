package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transit-planner/internal/planner"
	"transit-planner/internal/snapshot"
)

// Endpoints reported to Metrics.
const (
	EndpointPlan    = "plan"
	EndpointRefresh = "refresh"
)

const EventSnapshotRefreshed = "snapshot.refreshed"

type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Response, error)
}

type Refresher interface {
	Refresh(ctx context.Context) (*snapshot.Snapshot, error)
}

type Metrics interface {
	NATSRequestInc(endpoint string)
	NATSErrorInc(endpoint string)
	NATSSetConnected(connected bool)
}

type Config struct {
	PlanSubject    string
	RefreshSubject string
	EventsSubject  string
	QueueGroup     string
	LogSubjects    bool
	RefreshTimeout time.Duration
	Workers        int // concurrent plan requests; 0 means GOMAXPROCS
}

// Connect dials NATS and keeps the connection gauge current.
func Connect(url string, m Metrics) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-planner"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			slog.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			slog.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			slog.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

// Server answers plan and refresh requests over NATS request/reply.
// Plan requests are queue-subscribed so replicas share the load; refresh
// requests reach every replica.
type Server struct {
	nc        *nats.Conn
	cfg       Config
	planner   Planner
	refresher Refresher
	metrics   Metrics
	logger    *slog.Logger

	ctx  context.Context
	sem  chan struct{}
	subs []*nats.Subscription
}

func NewServer(nc *nats.Conn, cfg Config, p Planner, r Refresher, m Metrics) *Server {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 2 * time.Minute
	}
	return &Server{
		nc:        nc,
		cfg:       cfg,
		planner:   p,
		refresher: r,
		metrics:   m,
		logger:    slog.Default().With(slog.String("component", "nats")),
		ctx:       context.Background(),
		sem:       make(chan struct{}, workers),
	}
}

// Start subscribes the request subjects. ctx bounds every request handled
// afterwards.
func (s *Server) Start(ctx context.Context) error {
	s.ctx = ctx
	planSub, err := s.nc.QueueSubscribe(s.cfg.PlanSubject, s.cfg.QueueGroup, s.onPlan)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.PlanSubject, err)
	}
	s.subs = append(s.subs, planSub)

	refreshSub, err := s.nc.Subscribe(s.cfg.RefreshSubject, s.onRefresh)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.RefreshSubject, err)
	}
	s.subs = append(s.subs, refreshSub)

	s.logger.Info("nats subscriptions active",
		slog.String("plan", s.cfg.PlanSubject),
		slog.String("queue", s.cfg.QueueGroup),
		slog.String("refresh", s.cfg.RefreshSubject))
	return s.nc.Flush()
}

// Close drains the subscriptions and the connection.
func (s *Server) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}

func (s *Server) onPlan(msg *nats.Msg) {
	s.sem <- struct{}{}
	go func() {
		defer func() { <-s.sem }()
		s.count(EndpointPlan, msg.Subject)
		reply, failed := s.handlePlan(s.ctx, msg.Data)
		s.respond(EndpointPlan, msg, reply, failed)
	}()
}

func (s *Server) onRefresh(msg *nats.Msg) {
	s.count(EndpointRefresh, msg.Subject)
	reply, failed := s.handleRefresh(s.ctx)
	s.respond(EndpointRefresh, msg, reply, failed)
}

func (s *Server) count(endpoint, subject string) {
	if s.cfg.LogSubjects {
		s.logger.Debug("nats request", slog.String("subject", subject))
	}
	if s.metrics != nil {
		s.metrics.NATSRequestInc(endpoint)
	}
}

func (s *Server) respond(endpoint string, msg *nats.Msg, reply []byte, failed bool) {
	if msg.Reply == "" {
		s.logger.Debug("request without reply subject", slog.String("subject", msg.Subject))
	} else if err := msg.Respond(reply); err != nil {
		failed = true
		s.logger.Warn("nats respond failed", slog.String("endpoint", endpoint), slog.Any("error", err))
	}
	if failed && s.metrics != nil {
		s.metrics.NATSErrorInc(endpoint)
	}
}

type errorReply struct {
	Found bool   `json:"found"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handlePlan decodes a plan request and returns the JSON reply. failed is
// true when the reply carries an error rather than a plan result.
func (s *Server) handlePlan(ctx context.Context, data []byte) (reply []byte, failed bool) {
	var req planner.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return marshal(errorReply{Error: fmt.Sprintf("decode request: %v", err), Code: "invalid_request"}), true
	}
	resp, err := s.planner.Plan(ctx, req)
	if err != nil {
		code := "internal"
		switch {
		case errors.Is(err, planner.ErrInvalidRequest):
			code = "invalid_request"
		case errors.Is(err, planner.ErrNoSnapshot):
			code = "no_snapshot"
		case errors.Is(err, context.DeadlineExceeded):
			code = "timeout"
		case errors.Is(err, context.Canceled):
			code = "canceled"
		}
		if code == "internal" {
			s.logger.Error("plan failed", slog.Any("error", err))
		}
		return marshal(errorReply{Error: err.Error(), Code: code}), true
	}
	return marshal(resp), false
}

type refreshReply struct {
	OK      bool            `json:"ok"`
	Version uint64          `json:"version,omitempty"`
	Stats   *snapshot.Stats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleRefresh(ctx context.Context) (reply []byte, failed bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	snap, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Error("snapshot refresh failed", slog.Any("error", err))
		return marshal(refreshReply{OK: false, Error: err.Error()}), true
	}
	st := snap.Stats()
	if err := s.PublishRefreshed(snap, "request"); err != nil {
		s.logger.Warn("publish refresh event failed", slog.Any("error", err))
	}
	return marshal(refreshReply{OK: true, Version: snap.Version, Stats: &st}), false
}

// SnapshotEvent announces a newly installed snapshot.
type SnapshotEvent struct {
	Type    string         `json:"type"`
	Reason  string         `json:"reason"`
	Version uint64         `json:"version"`
	BuiltAt time.Time      `json:"builtAt"`
	Stats   snapshot.Stats `json:"stats"`
}

// PublishRefreshed publishes a SnapshotEvent on <events subject>.<reason>.
// It is a no-op when no events subject is configured.
func (s *Server) PublishRefreshed(snap *snapshot.Snapshot, reason string) error {
	if s.cfg.EventsSubject == "" || s.nc == nil || snap == nil {
		return nil
	}
	ev := SnapshotEvent{
		Type:    EventSnapshotRefreshed,
		Reason:  reason,
		Version: snap.Version,
		BuiltAt: snap.BuiltAt,
		Stats:   snap.Stats(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", s.cfg.EventsSubject, subjectToken(reason))
	if s.cfg.LogSubjects {
		s.logger.Debug("nats publish", slog.String("subject", subject))
	}
	return s.nc.Publish(subject, b)
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(errorReply{Error: err.Error(), Code: "internal"})
	}
	return b
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
