package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"transit-planner/internal/gtfs"
)

// ScheduleSource loads stop times and walking transfers from a GTFS import.
// The handle can be swapped while the service runs (see SetDB).
type ScheduleSource struct {
	db atomic.Pointer[sql.DB]
}

func NewScheduleSource(db *sql.DB) *ScheduleSource {
	s := &ScheduleSource{}
	s.db.Store(db)
	return s
}

func (s *ScheduleSource) DB() *sql.DB { return s.db.Load() }

// SetDB replaces the handle used by later loads and returns the previous one.
func (s *ScheduleSource) SetDB(db *sql.DB) *sql.DB { return s.db.Swap(db) }

// Trips without a trips row come back with an empty route id so the
// snapshot builder can reject them instead of silently dropping them.
const stopTimesQuery = `
SELECT st.trip_id,
       COALESCE(t.route_id, ''),
       st.stop_id,
       st.stop_sequence,
       COALESCE(st.arrival_time::text, ''),
       COALESCE(st.departure_time::text, '')
FROM stop_times st
LEFT JOIN trips t ON t.trip_id = st.trip_id
ORDER BY st.trip_id, st.stop_sequence`

const transfersQuery = `
SELECT from_stop_id, to_stop_id, COALESCE(distance_m, 0)::integer
FROM transfers
WHERE from_stop_id IS NOT NULL AND to_stop_id IS NOT NULL`

func (s *ScheduleSource) LoadFeed(ctx context.Context) (*gtfs.Feed, error) {
	db := s.db.Load()
	if db == nil {
		return nil, fmt.Errorf("schedule source has no database")
	}

	feed := &gtfs.Feed{}
	rows, err := db.QueryContext(ctx, stopTimesQuery)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r gtfs.StopTimeRow
		if err := rows.Scan(&r.TripID, &r.RouteID, &r.StopID, &r.Sequence, &r.ArrivalTime, &r.DepartureTime); err != nil {
			return nil, fmt.Errorf("scan stop_times: %w", err)
		}
		feed.StopTimes = append(feed.StopTimes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stop_times: %w", err)
	}

	transfers, err := loadTransfers(ctx, db)
	if err != nil {
		return nil, err
	}
	feed.Transfers = transfers
	return feed, nil
}

// loadTransfers reads the walking links. Imports without a transfers table,
// or with one lacking distance_m, yield no walking links.
func loadTransfers(ctx context.Context, db *sql.DB) ([]gtfs.TransferRow, error) {
	ok, err := hasTable(ctx, db, "public", "transfers")
	if err != nil {
		return nil, fmt.Errorf("introspect transfers: %w", err)
	}
	if !ok {
		return nil, nil
	}
	cols, err := hasColumns(ctx, db, "public", "transfers", "distance_m")
	if err != nil {
		return nil, fmt.Errorf("introspect transfers columns: %w", err)
	}
	if !cols["distance_m"] {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, transfersQuery)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()
	var out []gtfs.TransferRow
	for rows.Next() {
		var t gtfs.TransferRow
		if err := rows.Scan(&t.FromStopID, &t.ToStopID, &t.DistanceM); err != nil {
			return nil, fmt.Errorf("scan transfers: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
