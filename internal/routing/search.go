package routing

import (
	"container/heap"
	"context"
	"math"
	"sort"

	"transit-planner/internal/snapshot"
)

// DefaultWalkSpeed is the walking speed in meters per second.
const DefaultWalkSpeed = 1.2

const unreached = math.MaxInt

// ctxCheckInterval is how many queue pops happen between context checks.
const ctxCheckInterval = 256

type Mode string

const (
	ModeRide Mode = "ride"
	ModeWalk Mode = "walk"
)

type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNoPath
	OutcomeUnresolvedStop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNoPath:
		return "no_path"
	case OutcomeUnresolvedStop:
		return "unresolved_stop"
	default:
		return "unknown"
	}
}

type Options struct {
	WalkSpeed float64 // m/s; <= 0 means DefaultWalkSpeed
}

func (o Options) walkSpeed() float64 {
	if o.WalkSpeed <= 0 {
		return DefaultWalkSpeed
	}
	return o.WalkSpeed
}

// Predecessor describes how a stop's label was reached.
type Predecessor struct {
	FromStop  string
	Mode      Mode
	TripID    string // ride only
	BoardSeq  int    // ride only
	AlightSeq int    // ride only
	BoardTime int    // vehicle departure for rides, label of FromStop for walks
	DistanceM int    // walk only
}

type Label struct {
	Arrival int
	Pred    Predecessor // zero for the origin
}

type pred struct {
	from      int32
	mode      Mode
	trip      int32
	boardPos  int32
	alightPos int32
	boardTime int
	distanceM int
}

// Result holds the labels of one search. It keeps the snapshot it was
// computed on, so it stays valid after the cache has moved on.
type Result struct {
	Outcome        Outcome
	Origin         string
	Destination    string
	Departure      int
	Arrival        int // destination label when found
	Settled        int // stops finalized before the search stopped
	UnresolvedStop string

	snap   *snapshot.Snapshot
	origin int32
	dest   int32
	best   []int
	preds  []pred
}

func (r *Result) Found() bool { return r.Outcome == OutcomeFound }

// Label returns the best arrival found for a stop during this search. A
// search that stopped on an unknown stop has no labels.
func (r *Result) Label(stopID string) (Label, bool) {
	if r.snap == nil || r.best == nil {
		return Label{}, false
	}
	i, ok := r.snap.StopIndex(stopID)
	if !ok || r.best[i] == unreached {
		return Label{}, false
	}
	return Label{Arrival: r.best[i], Pred: r.predecessor(i)}, true
}

// Reached counts stops that received a label.
func (r *Result) Reached() int {
	n := 0
	for _, b := range r.best {
		if b != unreached {
			n++
		}
	}
	return n
}

func (r *Result) predecessor(i int32) Predecessor {
	p := r.preds[i]
	switch p.mode {
	case ModeRide:
		trip := r.snap.TripAt(p.trip)
		return Predecessor{
			FromStop:  r.snap.StopID(p.from),
			Mode:      ModeRide,
			TripID:    trip.ID,
			BoardSeq:  trip.Events[p.boardPos].Sequence,
			AlightSeq: trip.Events[p.alightPos].Sequence,
			BoardTime: p.boardTime,
		}
	case ModeWalk:
		return Predecessor{
			FromStop:  r.snap.StopID(p.from),
			Mode:      ModeWalk,
			BoardTime: p.boardTime,
			DistanceM: p.distanceM,
		}
	}
	return Predecessor{}
}

// Search finds the earliest arrival at dest leaving origin no earlier than
// departure (seconds since midnight of the service day). Unknown stops and
// unreachable destinations are reported through Result.Outcome; an error is
// returned only when ctx is done before the search finishes.
func Search(ctx context.Context, snap *snapshot.Snapshot, origin, dest string, departure int, opts Options) (*Result, error) {
	res := &Result{
		Outcome:     OutcomeNoPath,
		Origin:      origin,
		Destination: dest,
		Departure:   departure,
		snap:        snap,
	}
	o, ok := snap.StopIndex(origin)
	if !ok {
		res.Outcome, res.UnresolvedStop = OutcomeUnresolvedStop, origin
		return res, nil
	}
	d, ok := snap.StopIndex(dest)
	if !ok {
		res.Outcome, res.UnresolvedStop = OutcomeUnresolvedStop, dest
		return res, nil
	}
	res.origin, res.dest = o, d

	speed := opts.walkSpeed()
	best := make([]int, snap.NumStops())
	for i := range best {
		best[i] = unreached
	}
	preds := make([]pred, snap.NumStops())
	res.best, res.preds = best, preds

	// (stop, trip) pairs already ridden forward.
	expanded := make(map[uint64]struct{})

	q := &labelQueue{}
	best[o] = departure
	heap.Push(q, queueItem{time: departure, stop: o})

	for pops := 0; q.Len() > 0; pops++ {
		if pops%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		it := heap.Pop(q).(queueItem)
		u, t := it.stop, it.time
		if t != best[u] {
			continue
		}
		res.Settled++
		if u == d {
			break
		}

		deps := snap.Departures(u)
		first := sort.Search(len(deps), func(k int) bool { return deps[k].Departure >= t })
		for _, dep := range deps[first:] {
			key := uint64(uint32(u))<<32 | uint64(uint32(dep.Trip))
			if _, seen := expanded[key]; seen {
				continue
			}
			expanded[key] = struct{}{}

			trip := snap.TripAt(dep.Trip)
			for j := int(dep.Pos) + 1; j < len(trip.Events); j++ {
				v := trip.StopIndexAt(j)
				arr := trip.Events[j].Arrival
				if arr < best[v] {
					best[v] = arr
					preds[v] = pred{
						from:      u,
						mode:      ModeRide,
						trip:      dep.Trip,
						boardPos:  dep.Pos,
						alightPos: int32(j),
						boardTime: dep.Departure,
					}
					heap.Push(q, queueItem{time: arr, stop: v})
				}
			}
		}

		for _, e := range snap.Transfers(u) {
			arr := t + walkSeconds(e.DistanceM, speed)
			if arr < best[e.To] {
				best[e.To] = arr
				preds[e.To] = pred{from: u, mode: ModeWalk, boardTime: t, distanceM: e.DistanceM}
				heap.Push(q, queueItem{time: arr, stop: e.To})
			}
		}
	}

	if best[d] != unreached {
		res.Outcome = OutcomeFound
		res.Arrival = best[d]
	}
	return res, nil
}

// walkSeconds converts a distance to whole seconds at speed m/s, rounded to nearest.
func walkSeconds(distanceM int, speed float64) int {
	return int(math.Round(float64(distanceM) / speed))
}
