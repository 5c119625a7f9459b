package snapshot

import (
	"time"

	"transit-planner/internal/gtfs"
)

// Trip is one scheduled vehicle run. Events are ordered by stop sequence
// and point into the snapshot's shared event slab.
type Trip struct {
	ID      string
	RouteID string
	Events  []gtfs.StopEvent

	stops []int32 // interned stop index per event
}

// StopIndexAt returns the interned stop index of the event at position pos.
func (t *Trip) StopIndexAt(pos int) int32 { return t.stops[pos] }

// DepartureEntry is one boarding opportunity at a stop.
type DepartureEntry struct {
	Trip      int32 // trip index
	Pos       int32 // event index within the trip
	Departure int
	Sequence  int
}

// TransferEdge is a walking link from a stop to a neighbour.
type TransferEdge struct {
	To        int32
	DistanceM int
}

// Neighbor is the string-keyed form of TransferEdge.
type Neighbor struct {
	StopID    string
	DistanceM int
}

type Stats struct {
	Stops     int `json:"stops"`
	Trips     int `json:"trips"`
	Events    int `json:"events"`
	Transfers int `json:"transfers"` // directed edges
}

// Snapshot is an immutable in-memory schedule graph. All methods are safe
// for concurrent use; nothing mutates a snapshot after Build returns.
type Snapshot struct {
	Version uint64
	BuiltAt time.Time

	events []gtfs.StopEvent // one slab for every trip

	stopIDs   []string
	stopIndex map[string]int32

	trips     []Trip
	tripIndex map[string]int32

	departures [][]DepartureEntry // by stop index, sorted by departure
	transfers  [][]TransferEdge   // by stop index
}

func (s *Snapshot) NumStops() int { return len(s.stopIDs) }

func (s *Snapshot) NumTrips() int { return len(s.trips) }

// StopIndex resolves a stop id to its interned index.
func (s *Snapshot) StopIndex(id string) (int32, bool) {
	i, ok := s.stopIndex[id]
	return i, ok
}

func (s *Snapshot) HasStop(id string) bool {
	_, ok := s.stopIndex[id]
	return ok
}

func (s *Snapshot) StopID(i int32) string { return s.stopIDs[i] }

func (s *Snapshot) TripAt(i int32) *Trip { return &s.trips[i] }

func (s *Snapshot) TripByID(id string) (*Trip, bool) {
	i, ok := s.tripIndex[id]
	if !ok {
		return nil, false
	}
	return &s.trips[i], true
}

// Departures returns the departure index of a stop. Callers must not modify it.
func (s *Snapshot) Departures(stop int32) []DepartureEntry { return s.departures[stop] }

// Transfers returns the walking neighbours of a stop. Callers must not modify it.
func (s *Snapshot) Transfers(stop int32) []TransferEdge { return s.transfers[stop] }

func (s *Snapshot) DeparturesByStop(id string) []DepartureEntry {
	i, ok := s.stopIndex[id]
	if !ok {
		return nil
	}
	return s.departures[i]
}

func (s *Snapshot) TransfersByStop(id string) []Neighbor {
	i, ok := s.stopIndex[id]
	if !ok {
		return nil
	}
	out := make([]Neighbor, 0, len(s.transfers[i]))
	for _, e := range s.transfers[i] {
		out = append(out, Neighbor{StopID: s.stopIDs[e.To], DistanceM: e.DistanceM})
	}
	return out
}

func (s *Snapshot) Stats() Stats {
	st := Stats{Stops: len(s.stopIDs), Trips: len(s.trips), Events: len(s.events)}
	for _, edges := range s.transfers {
		st.Transfers += len(edges)
	}
	return st
}
