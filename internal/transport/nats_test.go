package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/gtfs"
	"transit-planner/internal/planner"
	"transit-planner/internal/snapshot"
)

type fakePlanner struct {
	resp *planner.Response
	err  error
	got  planner.Request
}

func (f *fakePlanner) Plan(_ context.Context, req planner.Request) (*planner.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeRefresher struct {
	snap *snapshot.Snapshot
	err  error
}

func (f fakeRefresher) Refresh(context.Context) (*snapshot.Snapshot, error) { return f.snap, f.err }

func newTestServer(p Planner, r Refresher) *Server {
	return NewServer(nil, Config{PlanSubject: "planner.plan", RefreshSubject: "planner.snapshot.refresh"}, p, r, nil)
}

func TestHandlePlan_Found(t *testing.T) {
	fp := &fakePlanner{resp: &planner.Response{
		Found: true, OriginStop: "A", DestStop: "D",
		Plan: &planner.Plan{DepartAt: "07:55", ArriveAt: "08:14", DurationMin: 19, Transfers: 1, Boardings: 1},
	}}
	s := newTestServer(fp, nil)

	reply, failed := s.handlePlan(context.Background(),
		[]byte(`{"origin":{"stop_id":"A"},"destination":{"stop_id":"D"},"depart_at":"07:55","walk_speed_mps":1.4}`))
	assert.False(t, failed)
	assert.Equal(t, "A", fp.got.Origin.StopID)
	assert.Equal(t, "07:55", fp.got.DepartAt)
	assert.Equal(t, 1.4, fp.got.WalkSpeedMPS)

	var out map[string]any
	require.NoError(t, json.Unmarshal(reply, &out))
	assert.Equal(t, true, out["found"])
	assert.Equal(t, "08:14", out["arrive_at"])
	assert.Equal(t, float64(19), out["duration_min"])
	assert.Equal(t, float64(1), out["transfers"])
}

func TestHandlePlan_NotFoundIsNotAFailure(t *testing.T) {
	s := newTestServer(&fakePlanner{resp: &planner.Response{Found: false, Message: "No path found"}}, nil)

	reply, failed := s.handlePlan(context.Background(), []byte(`{"origin":{"stop_id":"A"},"destination":{"stop_id":"C"},"depart_at":"08:30"}`))
	assert.False(t, failed)
	assert.JSONEq(t, `{"found":false,"message":"No path found"}`, string(reply))
}

func TestHandlePlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code string
	}{
		{"bad json", `{"origin":`, nil, "invalid_request"},
		{"invalid request", `{}`, fmt.Errorf("%w: depart_at", planner.ErrInvalidRequest), "invalid_request"},
		{"no snapshot", `{}`, planner.ErrNoSnapshot, "no_snapshot"},
		{"timeout", `{}`, fmt.Errorf("search: %w", context.DeadlineExceeded), "timeout"},
		{"internal", `{}`, errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakePlanner{err: tt.err}, nil)
			reply, failed := s.handlePlan(context.Background(), []byte(tt.body))
			assert.True(t, failed)

			var out errorReply
			require.NoError(t, json.Unmarshal(reply, &out))
			assert.False(t, out.Found)
			assert.Equal(t, tt.code, out.Code)
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestHandleRefresh(t *testing.T) {
	snap, err := snapshot.Build(&gtfs.Feed{StopTimes: []gtfs.StopTimeRow{
		{TripID: "T1", RouteID: "R1", StopID: "A", Sequence: 1, ArrivalTime: "08:00:00", DepartureTime: "08:00:00"},
		{TripID: "T1", RouteID: "R1", StopID: "B", Sequence: 2, ArrivalTime: "08:10:00", DepartureTime: "08:10:00"},
	}})
	require.NoError(t, err)
	snap.Version = 3

	s := newTestServer(nil, fakeRefresher{snap: snap})
	reply, failed := s.handleRefresh(context.Background())
	assert.False(t, failed)
	assert.JSONEq(t, `{"ok":true,"version":3,"stats":{"stops":2,"trips":1,"events":2,"transfers":0}}`, string(reply))
}

func TestHandleRefresh_Failure(t *testing.T) {
	s := newTestServer(nil, fakeRefresher{err: errors.New("data integrity: malformed_time")})
	reply, failed := s.handleRefresh(context.Background())
	assert.True(t, failed)
	assert.JSONEq(t, `{"ok":false,"error":"data integrity: malformed_time"}`, string(reply))
}

func TestPublishRefreshed_NoConnection(t *testing.T) {
	s := newTestServer(nil, nil)
	s.cfg.EventsSubject = "planner.snapshot.events"
	assert.NoError(t, s.PublishRefreshed(&snapshot.Snapshot{}, "sighup"))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "db_switch", subjectToken("db switch"))
	assert.Equal(t, "a_b_c", subjectToken("a.b>c"))
	assert.Equal(t, "_", subjectToken("  "))
}
