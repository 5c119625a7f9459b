package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// Integrity error kinds.
const (
	KindMalformedTime     = "malformed_time"
	KindDuplicateSequence = "duplicate_sequence"
	KindMissingRoute      = "missing_route"
	KindTimeOrder         = "time_order"
	KindMissingID         = "missing_id"
	KindNegativeDistance  = "negative_distance"
	KindMalformedFeed     = "malformed_feed"
)

// DataIntegrityError reports schedule data that cannot be turned into a
// snapshot. A build that hits one fails as a whole.
type DataIntegrityError struct {
	Kind     string
	TripID   string
	StopID   string
	Sequence int
	Detail   string
	Err      error
}

func (e *DataIntegrityError) Error() string {
	var b strings.Builder
	b.WriteString("data integrity: ")
	b.WriteString(e.Kind)
	if e.TripID != "" {
		fmt.Fprintf(&b, " trip=%s", e.TripID)
	}
	if e.StopID != "" {
		fmt.Fprintf(&b, " stop=%s", e.StopID)
	}
	if e.Sequence != 0 {
		fmt.Fprintf(&b, " seq=%d", e.Sequence)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

// IsIntegrityError reports whether err is, or wraps, a DataIntegrityError.
func IsIntegrityError(err error) bool {
	var ie *DataIntegrityError
	return errors.As(err, &ie)
}
