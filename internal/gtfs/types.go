package gtfs

// StopTimeRow is one stop_times row joined with its trip's route.
// Times are raw GTFS strings; they are parsed when a snapshot is built.
type StopTimeRow struct {
	TripID        string `yaml:"trip_id" validate:"required"`
	RouteID       string `yaml:"route_id"`
	StopID        string `yaml:"stop_id" validate:"required"`
	Sequence      int    `yaml:"stop_sequence" validate:"gte=0"`
	ArrivalTime   string `yaml:"arrival_time"`   // HH:MM:SS, hours may be >= 24
	DepartureTime string `yaml:"departure_time"` // HH:MM:SS, hours may be >= 24
}

// TransferRow is a walking connection between two stops. The direction
// of the row is not significant.
type TransferRow struct {
	FromStopID string `yaml:"from_stop_id" validate:"required"`
	ToStopID   string `yaml:"to_stop_id" validate:"required"`
	DistanceM  int    `yaml:"distance_m" validate:"gte=0"`
}

// Feed is everything a snapshot is built from.
type Feed struct {
	StopTimes []StopTimeRow `yaml:"stop_times" validate:"dive"`
	Transfers []TransferRow `yaml:"transfers" validate:"dive"`
}

type StopEvent struct {
	TripID    string
	RouteID   string
	StopID    string
	Arrival   int // seconds since midnight (can exceed 24h)
	Departure int // seconds since midnight (can exceed 24h)
	Sequence  int
}
