package snapshot

import (
	"fmt"
	"sort"
	"time"

	"transit-planner/internal/gtfs"
)

// Build turns raw schedule rows into a snapshot. Rows may arrive in any
// order. Any integrity problem fails the whole build with a
// *DataIntegrityError; a partial snapshot is never returned.
func Build(feed *gtfs.Feed) (*Snapshot, error) {
	if feed == nil {
		feed = &gtfs.Feed{}
	}

	byTrip := make(map[string][]gtfs.StopTimeRow)
	for _, r := range feed.StopTimes {
		if r.TripID == "" {
			return nil, &DataIntegrityError{Kind: KindMissingID, StopID: r.StopID, Detail: "stop time without trip_id"}
		}
		if r.StopID == "" {
			return nil, &DataIntegrityError{Kind: KindMissingID, TripID: r.TripID, Sequence: r.Sequence, Detail: "stop time without stop_id"}
		}
		byTrip[r.TripID] = append(byTrip[r.TripID], r)
	}
	tripIDs := make([]string, 0, len(byTrip))
	for id := range byTrip {
		tripIDs = append(tripIDs, id)
	}
	sort.Strings(tripIDs)

	events := make([]gtfs.StopEvent, 0, len(feed.StopTimes))
	bounds := make([][2]int, 0, len(tripIDs))
	routes := make([]string, 0, len(tripIDs))
	for _, tripID := range tripIDs {
		start := len(events)
		var err error
		var routeID string
		events, routeID, err = appendTrip(events, tripID, byTrip[tripID])
		if err != nil {
			return nil, err
		}
		bounds = append(bounds, [2]int{start, len(events)})
		routes = append(routes, routeID)
	}

	// Intern stops in sorted order so indices do not depend on input order.
	stopSet := make(map[string]struct{})
	for _, ev := range events {
		stopSet[ev.StopID] = struct{}{}
	}
	for _, tr := range feed.Transfers {
		if tr.FromStopID == "" || tr.ToStopID == "" {
			return nil, &DataIntegrityError{Kind: KindMissingID, StopID: tr.FromStopID + tr.ToStopID, Detail: "transfer with empty stop id"}
		}
		if tr.DistanceM < 0 {
			return nil, &DataIntegrityError{Kind: KindNegativeDistance, StopID: tr.FromStopID, Detail: fmt.Sprintf("transfer to %s has distance %d", tr.ToStopID, tr.DistanceM)}
		}
		stopSet[tr.FromStopID] = struct{}{}
		stopSet[tr.ToStopID] = struct{}{}
	}
	stopIDs := make([]string, 0, len(stopSet))
	for id := range stopSet {
		stopIDs = append(stopIDs, id)
	}
	sort.Strings(stopIDs)
	stopIndex := make(map[string]int32, len(stopIDs))
	for i, id := range stopIDs {
		stopIndex[id] = int32(i)
	}

	s := &Snapshot{
		BuiltAt:    time.Now(),
		events:     events,
		stopIDs:    stopIDs,
		stopIndex:  stopIndex,
		trips:      make([]Trip, len(tripIDs)),
		tripIndex:  make(map[string]int32, len(tripIDs)),
		departures: make([][]DepartureEntry, len(stopIDs)),
		transfers:  make([][]TransferEdge, len(stopIDs)),
	}

	stopSlab := make([]int32, len(events))
	for i, ev := range events {
		stopSlab[i] = stopIndex[ev.StopID]
	}
	for ti, tripID := range tripIDs {
		b := bounds[ti]
		s.trips[ti] = Trip{
			ID:      tripID,
			RouteID: routes[ti],
			Events:  events[b[0]:b[1]:b[1]],
			stops:   stopSlab[b[0]:b[1]:b[1]],
		}
		s.tripIndex[tripID] = int32(ti)
		for pos, ev := range s.trips[ti].Events {
			stop := s.trips[ti].stops[pos]
			s.departures[stop] = append(s.departures[stop], DepartureEntry{
				Trip:      int32(ti),
				Pos:       int32(pos),
				Departure: ev.Departure,
				Sequence:  ev.Sequence,
			})
		}
	}
	for _, deps := range s.departures {
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].Departure != deps[j].Departure {
				return deps[i].Departure < deps[j].Departure
			}
			if deps[i].Sequence != deps[j].Sequence {
				return deps[i].Sequence < deps[j].Sequence
			}
			return deps[i].Trip < deps[j].Trip
		})
	}

	buildTransfers(s, feed.Transfers)
	return s, nil
}

// appendTrip validates one trip's rows and appends its events in sequence order.
func appendTrip(events []gtfs.StopEvent, tripID string, rows []gtfs.StopTimeRow) ([]gtfs.StopEvent, string, error) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Sequence < rows[j].Sequence })

	var routeID string
	prevDep := -1
	for i, r := range rows {
		if i > 0 && r.Sequence == rows[i-1].Sequence {
			return nil, "", &DataIntegrityError{Kind: KindDuplicateSequence, TripID: tripID, StopID: r.StopID, Sequence: r.Sequence}
		}
		if r.RouteID == "" {
			return nil, "", &DataIntegrityError{Kind: KindMissingRoute, TripID: tripID, Detail: "trip has no route"}
		}
		if routeID == "" {
			routeID = r.RouteID
		} else if r.RouteID != routeID {
			return nil, "", &DataIntegrityError{Kind: KindMissingRoute, TripID: tripID, Detail: fmt.Sprintf("trip linked to routes %s and %s", routeID, r.RouteID)}
		}
		arr, err := gtfs.ParseClock(r.ArrivalTime)
		if err != nil {
			return nil, "", &DataIntegrityError{Kind: KindMalformedTime, TripID: tripID, StopID: r.StopID, Sequence: r.Sequence, Err: err}
		}
		dep, err := gtfs.ParseClock(r.DepartureTime)
		if err != nil {
			return nil, "", &DataIntegrityError{Kind: KindMalformedTime, TripID: tripID, StopID: r.StopID, Sequence: r.Sequence, Err: err}
		}
		if dep < arr {
			return nil, "", &DataIntegrityError{Kind: KindTimeOrder, TripID: tripID, StopID: r.StopID, Sequence: r.Sequence, Detail: "departure before arrival"}
		}
		if arr < prevDep {
			return nil, "", &DataIntegrityError{Kind: KindTimeOrder, TripID: tripID, StopID: r.StopID, Sequence: r.Sequence, Detail: "arrival before previous departure"}
		}
		prevDep = dep
		events = append(events, gtfs.StopEvent{
			TripID:    tripID,
			RouteID:   r.RouteID,
			StopID:    r.StopID,
			Arrival:   arr,
			Departure: dep,
			Sequence:  r.Sequence,
		})
	}
	return events, routeID, nil
}

// buildTransfers stores every transfer in both directions. When the same
// pair is listed more than once the shortest distance wins.
func buildTransfers(s *Snapshot, rows []gtfs.TransferRow) {
	shortest := make(map[[2]int32]int)
	add := func(from, to int32, d int) {
		key := [2]int32{from, to}
		if cur, ok := shortest[key]; !ok || d < cur {
			shortest[key] = d
		}
	}
	for _, tr := range rows {
		a := s.stopIndex[tr.FromStopID]
		b := s.stopIndex[tr.ToStopID]
		if a == b {
			continue
		}
		add(a, b, tr.DistanceM)
		add(b, a, tr.DistanceM)
	}
	for key, d := range shortest {
		s.transfers[key[0]] = append(s.transfers[key[0]], TransferEdge{To: key[1], DistanceM: d})
	}
	for _, edges := range s.transfers {
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	}
}
