package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// StopLocator finds the stop closest to a coordinate with PostGIS.
type StopLocator struct {
	source *ScheduleSource

	mu      sync.Mutex
	queryDB *sql.DB
	query   string
}

// NewStopLocator shares the schedule source's handle, so a database switch
// moves both.
func NewStopLocator(source *ScheduleSource) *StopLocator {
	return &StopLocator{source: source}
}

// NearestStop returns the closest stop and its great-circle distance in
// meters, or an empty id when the stops table is empty.
func (l *StopLocator) NearestStop(ctx context.Context, lat, lon float64) (string, int, error) {
	db := l.source.DB()
	if db == nil {
		return "", 0, fmt.Errorf("stop locator has no database")
	}
	q, err := l.queryFor(ctx, db)
	if err != nil {
		return "", 0, err
	}

	var (
		stopID string
		dist   int
	)
	if err := db.QueryRowContext(ctx, q, lon, lat).Scan(&stopID, &dist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("query nearest stop: %w", err)
	}
	return stopID, dist, nil
}

// queryFor picks the query matching the stops table layout: a geom column,
// a stop_loc geography, or plain stop_lat/stop_lon.
func (l *StopLocator) queryFor(ctx context.Context, db *sql.DB) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryDB == db && l.query != "" {
		return l.query, nil
	}

	cols, err := hasColumns(ctx, db, "public", "stops", "geom", "stop_loc", "stop_lat", "stop_lon")
	if err != nil {
		return "", fmt.Errorf("introspect stops columns: %w", err)
	}
	q, err := nearestStopQuery(cols)
	if err != nil {
		return "", err
	}
	l.queryDB, l.query = db, q
	return q, nil
}

func nearestStopQuery(cols map[string]bool) (string, error) {
	var point string
	switch {
	case cols["geom"]:
		point = "geom::geometry"
	case cols["stop_loc"]:
		point = "stop_loc::geometry"
	case cols["stop_lat"] && cols["stop_lon"]:
		point = "ST_SetSRID(ST_MakePoint(stop_lon, stop_lat), 4326)"
	default:
		return "", fmt.Errorf("stops table missing expected columns (geom, stop_loc or stop_lat/lon)")
	}
	return `SELECT stop_id,
       CAST(ST_DistanceSphere(` + point + `, ST_SetSRID(ST_MakePoint($1, $2), 4326)) AS integer) AS dist
FROM stops
ORDER BY dist ASC
LIMIT 1`, nil
}
