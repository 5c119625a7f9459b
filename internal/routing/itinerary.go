package routing

import (
	"errors"
	"fmt"
	"math"

	"transit-planner/internal/gtfs"
)

var ErrNoItinerary = errors.New("routing: search did not reach the destination")

type Leg struct {
	Mode       Mode   `json:"mode"`
	TripID     string `json:"trip_id,omitempty"`
	RouteID    string `json:"route_id,omitempty"`
	FromStop   string `json:"from_stop"`
	ToStop     string `json:"to_stop"`
	FromSeq    int    `json:"from_seq,omitempty"`
	ToSeq      int    `json:"to_seq,omitempty"`
	DepartSec  int    `json:"depart_sec"`
	ArriveSec  int    `json:"arrive_sec"`
	DepartTime string `json:"depart_time"`
	ArriveTime string `json:"arrive_time"`
	DistanceM  int    `json:"distance_m,omitempty"`
}

// Itinerary is the leg sequence from origin to destination. DepartSec is the
// origin label, so DurationMin includes the initial wait. Transfers counts
// walk legs; Boardings counts ride legs.
type Itinerary struct {
	Origin      string
	Destination string
	DepartSec   int
	ArriveSec   int
	DurationMin int
	Transfers   int
	Boardings   int
	Legs        []Leg
}

// Reconstruct walks the predecessor chain of a successful search back from
// the destination. Consecutive rides on the same trip are merged into one leg.
func Reconstruct(res *Result) (*Itinerary, error) {
	if res == nil || res.Outcome != OutcomeFound {
		return nil, ErrNoItinerary
	}
	snap := res.snap

	var legs []Leg
	cur := res.dest
	for steps := 0; cur != res.origin; steps++ {
		if steps > snap.NumStops() {
			return nil, fmt.Errorf("routing: predecessor cycle at stop %s", snap.StopID(cur))
		}
		p := res.preds[cur]
		leg := Leg{
			FromStop:  snap.StopID(p.from),
			ToStop:    snap.StopID(cur),
			DepartSec: p.boardTime,
			ArriveSec: res.best[cur],
		}
		switch p.mode {
		case ModeRide:
			trip := snap.TripAt(p.trip)
			leg.Mode = ModeRide
			leg.TripID = trip.ID
			leg.RouteID = trip.RouteID
			leg.FromSeq = trip.Events[p.boardPos].Sequence
			leg.ToSeq = trip.Events[p.alightPos].Sequence
		case ModeWalk:
			leg.Mode = ModeWalk
			leg.DistanceM = p.distanceM
		default:
			return nil, fmt.Errorf("routing: no predecessor for stop %s", snap.StopID(cur))
		}
		legs = append(legs, leg)
		cur = p.from
	}

	for i, j := 0, len(legs)-1; i < j; i, j = i+1, j-1 {
		legs[i], legs[j] = legs[j], legs[i]
	}
	legs = mergeRides(legs)

	it := &Itinerary{
		Origin:      res.Origin,
		Destination: res.Destination,
		DepartSec:   res.Departure,
		ArriveSec:   res.Arrival,
		Legs:        legs,
	}
	it.DurationMin = int(math.Round(float64(it.ArriveSec-it.DepartSec) / 60))
	for i := range it.Legs {
		leg := &it.Legs[i]
		leg.DepartTime = gtfs.FormatClock(leg.DepartSec)
		leg.ArriveTime = gtfs.FormatClock(leg.ArriveSec)
		switch leg.Mode {
		case ModeRide:
			it.Boardings++
		case ModeWalk:
			it.Transfers++
		}
	}
	if it.Legs == nil {
		it.Legs = []Leg{}
	}
	return it, nil
}

func mergeRides(legs []Leg) []Leg {
	if len(legs) < 2 {
		return legs
	}
	out := legs[:1]
	for _, leg := range legs[1:] {
		last := &out[len(out)-1]
		if last.Mode == ModeRide && leg.Mode == ModeRide && last.TripID == leg.TripID && last.ToSeq == leg.FromSeq {
			last.ToStop = leg.ToStop
			last.ToSeq = leg.ToSeq
			last.ArriveSec = leg.ArriveSec
			continue
		}
		out = append(out, leg)
	}
	return out
}
