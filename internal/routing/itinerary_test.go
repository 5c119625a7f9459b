package routing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/gtfs"
)

func TestReconstruct_RideThenWalk(t *testing.T) {
	snap := basicNetwork(t)
	res, err := Search(context.Background(), snap, "A", "D", clock(t, "07:55:00"), Options{})
	require.NoError(t, err)

	it, err := Reconstruct(res)
	require.NoError(t, err)

	require.Len(t, it.Legs, 2)
	assert.Equal(t, Leg{
		Mode: ModeRide, TripID: "T1", RouteID: "R1",
		FromStop: "A", ToStop: "B", FromSeq: 1, ToSeq: 2,
		DepartSec: clock(t, "08:00:00"), ArriveSec: clock(t, "08:10:00"),
		DepartTime: "08:00", ArriveTime: "08:10",
	}, it.Legs[0])
	assert.Equal(t, Leg{
		Mode: ModeWalk, FromStop: "B", ToStop: "D", DistanceM: 300,
		DepartSec: clock(t, "08:10:00"), ArriveSec: clock(t, "08:14:10"),
		DepartTime: "08:10", ArriveTime: "08:14",
	}, it.Legs[1])

	assert.Equal(t, clock(t, "07:55:00"), it.DepartSec)
	assert.Equal(t, clock(t, "08:14:10"), it.ArriveSec)
	assert.Equal(t, 19, it.DurationMin)
	assert.Equal(t, 1, it.Transfers)
	assert.Equal(t, 1, it.Boardings)
}

func TestReconstruct_LegsAreContinuous(t *testing.T) {
	snap := transferNetwork(t)
	res, err := Search(context.Background(), snap, "A", "F", clock(t, "07:58:00"), Options{})
	require.NoError(t, err)

	it, err := Reconstruct(res)
	require.NoError(t, err)
	require.Len(t, it.Legs, 3)

	assert.Equal(t, "A", it.Legs[0].FromStop)
	assert.Equal(t, "F", it.Legs[len(it.Legs)-1].ToStop)
	for i := 1; i < len(it.Legs); i++ {
		assert.Equal(t, it.Legs[i-1].ToStop, it.Legs[i].FromStop)
		assert.LessOrEqual(t, it.Legs[i-1].ArriveSec, it.Legs[i].DepartSec)
	}
	for _, leg := range it.Legs {
		assert.LessOrEqual(t, leg.DepartSec, leg.ArriveSec)
	}

	assert.Equal(t, []Mode{ModeRide, ModeWalk, ModeRide}, []Mode{it.Legs[0].Mode, it.Legs[1].Mode, it.Legs[2].Mode})
	assert.Equal(t, 1, it.Transfers)
	assert.Equal(t, 2, it.Boardings)
	assert.Equal(t, 42, it.DurationMin)

	last := it.Legs[2]
	assert.Equal(t, "T2", last.TripID)
	assert.Equal(t, "D", last.FromStop)
	assert.Equal(t, 1, last.FromSeq)
	assert.Equal(t, 3, last.ToSeq, "rides through E without splitting")
}

func TestReconstruct_TrivialQuery(t *testing.T) {
	snap := basicNetwork(t)
	res, err := Search(context.Background(), snap, "C", "C", clock(t, "10:00:00"), Options{})
	require.NoError(t, err)

	it, err := Reconstruct(res)
	require.NoError(t, err)
	assert.Empty(t, it.Legs)
	assert.NotNil(t, it.Legs)
	assert.Equal(t, 0, it.DurationMin)
	assert.Equal(t, clock(t, "10:00:00"), it.DepartSec)
	assert.Equal(t, clock(t, "10:00:00"), it.ArriveSec)
}

func TestReconstruct_NoPath(t *testing.T) {
	snap := basicNetwork(t)
	res, err := Search(context.Background(), snap, "A", "C", clock(t, "08:30:00"), Options{})
	require.NoError(t, err)

	_, err = Reconstruct(res)
	assert.ErrorIs(t, err, ErrNoItinerary)

	_, err = Reconstruct(nil)
	assert.ErrorIs(t, err, ErrNoItinerary)
}

func TestReconstruct_OvernightDisplayWraps(t *testing.T) {
	snap := build(t, &gtfs.Feed{StopTimes: []gtfs.StopTimeRow{
		row("N1", "R9", "A", 1, "23:50:00", "23:50:00"),
		row("N1", "R9", "B", 2, "24:20:00", "24:20:00"),
	}})
	res, err := Search(context.Background(), snap, "A", "B", clock(t, "23:45:00"), Options{})
	require.NoError(t, err)

	it, err := Reconstruct(res)
	require.NoError(t, err)
	require.Len(t, it.Legs, 1)
	assert.Equal(t, "23:50", it.Legs[0].DepartTime)
	assert.Equal(t, "00:20", it.Legs[0].ArriveTime)
	assert.Equal(t, 24*3600+20*60, it.Legs[0].ArriveSec)
	assert.Equal(t, 35, it.DurationMin)
}

func TestMergeRides(t *testing.T) {
	legs := []Leg{
		{Mode: ModeRide, TripID: "T1", FromStop: "A", ToStop: "B", FromSeq: 1, ToSeq: 2, DepartSec: 100, ArriveSec: 200},
		{Mode: ModeRide, TripID: "T1", FromStop: "B", ToStop: "C", FromSeq: 2, ToSeq: 3, DepartSec: 210, ArriveSec: 300},
		{Mode: ModeWalk, FromStop: "C", ToStop: "D", DepartSec: 300, ArriveSec: 360},
		{Mode: ModeRide, TripID: "T2", FromStop: "D", ToStop: "E", FromSeq: 5, ToSeq: 6, DepartSec: 400, ArriveSec: 500},
		{Mode: ModeRide, TripID: "T3", FromStop: "E", ToStop: "F", FromSeq: 1, ToSeq: 2, DepartSec: 500, ArriveSec: 600},
	}

	merged := mergeRides(legs)
	require.Len(t, merged, 4)
	assert.Equal(t, Leg{Mode: ModeRide, TripID: "T1", FromStop: "A", ToStop: "C", FromSeq: 1, ToSeq: 3, DepartSec: 100, ArriveSec: 300}, merged[0])
	assert.Equal(t, "T2", merged[2].TripID)
	assert.Equal(t, "T3", merged[3].TripID)
}

func TestLeg_JSON(t *testing.T) {
	leg := Leg{Mode: ModeWalk, FromStop: "B", ToStop: "D", DepartSec: 29400, ArriveSec: 29650, DepartTime: "08:10", ArriveTime: "08:14", DistanceM: 300}
	data, err := json.Marshal(leg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"walk","from_stop":"B","to_stop":"D","depart_sec":29400,"arrive_sec":29650,"depart_time":"08:10","arrive_time":"08:14","distance_m":300}`, string(data))
}
