package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoImport is returned when the meta database lists no usable import for a city.
var ErrNoImport = errors.New("no gtfs import for city")

// Each successful GTFS import lands in its own database; the meta database
// keeps one row per import in public.latest_successful_imports.
const latestImportQuery = `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`

// LatestCityDatabase names the newest import database whose name contains city.
func LatestCityDatabase(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city is required")
	}
	var name sql.NullString
	err := meta.QueryRowContext(ctx, latestImportQuery, city).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("%w %q", ErrNoImport, city)
	case err != nil:
		return "", fmt.Errorf("latest import for %q: %w", city, err)
	case !name.Valid || name.String == "":
		return "", fmt.Errorf("%w %q: empty db_name", ErrNoImport, city)
	}
	return name.String, nil
}
