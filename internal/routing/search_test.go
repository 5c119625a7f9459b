package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/gtfs"
	"transit-planner/internal/snapshot"
)

func row(trip, route, stop string, seq int, arr, dep string) gtfs.StopTimeRow {
	return gtfs.StopTimeRow{TripID: trip, RouteID: route, StopID: stop, Sequence: seq, ArrivalTime: arr, DepartureTime: dep}
}

func clock(t *testing.T, s string) int {
	t.Helper()
	sec, err := gtfs.ParseClock(s)
	require.NoError(t, err)
	return sec
}

func build(t *testing.T, feed *gtfs.Feed) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Build(feed)
	require.NoError(t, err)
	return snap
}

// basicNetwork: T1 runs A-B-C, and B and D are 300m apart.
func basicNetwork(t *testing.T) *snapshot.Snapshot {
	return build(t, &gtfs.Feed{
		StopTimes: []gtfs.StopTimeRow{
			row("T1", "R1", "A", 1, "08:00:00", "08:00:00"),
			row("T1", "R1", "B", 2, "08:10:00", "08:10:00"),
			row("T1", "R1", "C", 3, "08:25:00", "08:25:00"),
		},
		Transfers: []gtfs.TransferRow{{FromStopID: "B", ToStopID: "D", DistanceM: 300}},
	})
}

// transferNetwork: T1 A-B, walk B-D, T2 D-E-F, plus a slow direct T9 A-F.
func transferNetwork(t *testing.T) *snapshot.Snapshot {
	return build(t, &gtfs.Feed{
		StopTimes: []gtfs.StopTimeRow{
			row("T1", "R1", "A", 1, "08:00:00", "08:00:00"),
			row("T1", "R1", "B", 2, "08:10:00", "08:10:00"),
			row("T2", "R2", "D", 1, "08:20:00", "08:20:00"),
			row("T2", "R2", "E", 2, "08:30:00", "08:31:00"),
			row("T2", "R2", "F", 3, "08:40:00", "08:40:00"),
			row("T9", "R9", "A", 1, "08:05:00", "08:05:00"),
			row("T9", "R9", "F", 2, "09:30:00", "09:30:00"),
			row("T3", "R1", "A", 1, "09:00:00", "09:00:00"),
			row("T3", "R1", "B", 2, "09:10:00", "09:10:00"),
		},
		Transfers: []gtfs.TransferRow{{FromStopID: "B", ToStopID: "D", DistanceM: 240}},
	})
}

func TestSearch_RideThenWalk(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "A", "D", clock(t, "07:55:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:14:10"), res.Arrival)

	d, ok := res.Label("D")
	require.True(t, ok)
	assert.Equal(t, ModeWalk, d.Pred.Mode)
	assert.Equal(t, "B", d.Pred.FromStop)
	assert.Equal(t, 300, d.Pred.DistanceM)
	assert.Equal(t, clock(t, "08:10:00"), d.Pred.BoardTime)

	b, ok := res.Label("B")
	require.True(t, ok)
	assert.Equal(t, ModeRide, b.Pred.Mode)
	assert.Equal(t, "T1", b.Pred.TripID)
	assert.Equal(t, 1, b.Pred.BoardSeq)
	assert.Equal(t, 2, b.Pred.AlightSeq)

	origin, ok := res.Label("A")
	require.True(t, ok)
	assert.Equal(t, clock(t, "07:55:00"), origin.Arrival)
	assert.Equal(t, Predecessor{}, origin.Pred)
}

func TestSearch_NoDepartureAfterQueryTime(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "A", "C", clock(t, "08:30:00"), Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPath, res.Outcome)
	assert.False(t, res.Found())
	_, ok := res.Label("C")
	assert.False(t, ok)
}

func TestSearch_BoardsAtExactDepartureTime(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "A", "C", clock(t, "08:00:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:25:00"), res.Arrival)

	res, err = Search(context.Background(), snap, "A", "C", clock(t, "08:00:01"), Options{})
	require.NoError(t, err)
	assert.False(t, res.Found())
}

func TestSearch_TrivialQuery(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "B", "B", clock(t, "12:00:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "12:00:00"), res.Arrival)
	assert.Equal(t, 1, res.Settled)
}

func TestSearch_UnresolvedStop(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "Z", "C", 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolvedStop, res.Outcome)
	assert.Equal(t, "Z", res.UnresolvedStop)
	_, ok := res.Label("C")
	assert.False(t, ok, "an unresolved search has no labels")
	_, ok = res.Label("Z")
	assert.False(t, ok)
	assert.Equal(t, 0, res.Reached())

	res, err = Search(context.Background(), snap, "A", "Y", 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolvedStop, res.Outcome)
	assert.Equal(t, "Y", res.UnresolvedStop)
	assert.Equal(t, "unresolved_stop", res.Outcome.String())
}

func TestSearch_WalkOnlyUsesBothDirections(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "D", "B", clock(t, "08:00:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:04:10"), res.Arrival)
}

func TestSearch_WalkSpeed(t *testing.T) {
	snap := basicNetwork(t)

	res, err := Search(context.Background(), snap, "B", "D", clock(t, "08:00:00"), Options{WalkSpeed: 0.5})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:10:00"), res.Arrival)
}

func TestWalkSeconds_RoundsToNearest(t *testing.T) {
	assert.Equal(t, 250, walkSeconds(300, 1.2))
	assert.Equal(t, 83, walkSeconds(100, 1.2)) // 83.33
	assert.Equal(t, 84, walkSeconds(101, 1.2)) // 84.17
	assert.Equal(t, 1, walkSeconds(1, 1.2))    // 0.83
	assert.Equal(t, 0, walkSeconds(0, 1.2))
}

func TestSearch_PrefersEarlierArrivalOverEarlierDeparture(t *testing.T) {
	snap := build(t, &gtfs.Feed{StopTimes: []gtfs.StopTimeRow{
		row("SLOW", "R1", "A", 1, "08:00:00", "08:00:00"),
		row("SLOW", "R1", "B", 2, "09:00:00", "09:00:00"),
		row("FAST", "R2", "A", 1, "08:15:00", "08:15:00"),
		row("FAST", "R2", "B", 2, "08:30:00", "08:30:00"),
	}})

	res, err := Search(context.Background(), snap, "A", "B", clock(t, "07:50:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:30:00"), res.Arrival)
	b, _ := res.Label("B")
	assert.Equal(t, "FAST", b.Pred.TripID)
}

func TestSearch_TransferChain(t *testing.T) {
	snap := transferNetwork(t)

	res, err := Search(context.Background(), snap, "A", "F", clock(t, "07:58:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:40:00"), res.Arrival)
}

func TestSearch_OvernightTrip(t *testing.T) {
	snap := build(t, &gtfs.Feed{StopTimes: []gtfs.StopTimeRow{
		row("N1", "R9", "A", 1, "23:50:00", "23:50:00"),
		row("N1", "R9", "B", 2, "24:20:00", "24:20:00"),
	}})

	res, err := Search(context.Background(), snap, "A", "B", clock(t, "23:45:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, 24*3600+20*60, res.Arrival)
}

func TestSearch_LoopTripRiddenOncePerBoarding(t *testing.T) {
	snap := build(t, &gtfs.Feed{StopTimes: []gtfs.StopTimeRow{
		row("L1", "R1", "A", 1, "08:00:00", "08:00:00"),
		row("L1", "R1", "B", 2, "08:05:00", "08:05:00"),
		row("L1", "R1", "A", 3, "08:10:00", "08:10:00"),
		row("L1", "R1", "C", 4, "08:20:00", "08:20:00"),
	}})

	res, err := Search(context.Background(), snap, "A", "C", clock(t, "07:59:00"), Options{})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, clock(t, "08:20:00"), res.Arrival)

	c, ok := res.Label("C")
	require.True(t, ok)
	assert.Equal(t, 1, c.Pred.BoardSeq, "boards at the first visit of A")
	assert.Equal(t, 4, c.Pred.AlightSeq)
}

func TestSearch_Deterministic(t *testing.T) {
	snap := transferNetwork(t)
	departure := clock(t, "07:58:00")

	first, err := Search(context.Background(), snap, "A", "F", departure, Options{})
	require.NoError(t, err)
	want, err := Reconstruct(first)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := Search(context.Background(), snap, "A", "F", departure, Options{})
		require.NoError(t, err)
		got, err := Reconstruct(res)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, first.Settled, res.Settled)
	}
}

func TestSearch_LaterDepartureNeverArrivesEarlier(t *testing.T) {
	snap := transferNetwork(t)

	prev := -1
	for dep := clock(t, "07:00:00"); dep <= clock(t, "09:30:00"); dep += 60 {
		res, err := Search(context.Background(), snap, "A", "F", dep, Options{})
		require.NoError(t, err)
		if !res.Found() {
			continue
		}
		assert.GreaterOrEqual(t, res.Arrival, dep)
		assert.GreaterOrEqual(t, res.Arrival, prev, "departure %s", gtfs.FormatClock(dep))
		prev = res.Arrival
	}
}

func TestSearch_CanceledContext(t *testing.T) {
	snap := transferNetwork(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Search(ctx, snap, "A", "F", clock(t, "07:58:00"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestSearch_ResultOutlivesCacheSwap(t *testing.T) {
	snap := basicNetwork(t)
	res, err := Search(context.Background(), snap, "A", "C", clock(t, "07:00:00"), Options{})
	require.NoError(t, err)

	// A different snapshot being current elsewhere has no effect on res.
	_ = transferNetwork(t)
	it, err := Reconstruct(res)
	require.NoError(t, err)
	require.Len(t, it.Legs, 1)
	assert.Equal(t, "T1", it.Legs[0].TripID)
}
