// Package schedfile reads a schedule from a YAML file shaped like:
//
//	stop_times:
//	  - {trip_id: T1, route_id: R1, stop_id: A, stop_sequence: 1, arrival_time: "08:00:00", departure_time: "08:00:00"}
//	transfers:
//	  - {from_stop_id: B, to_stop_id: D, distance_m: 300}
//
// The file is re-read on every load, so a refresh picks up edits.
package schedfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transit-planner/internal/gtfs"
	"transit-planner/internal/snapshot"
)

type Source struct {
	path     string
	validate *validator.Validate
}

func New(path string) *Source {
	return &Source{path: path, validate: validator.New()}
}

func (s *Source) Path() string { return s.path }

func (s *Source) LoadFeed(ctx context.Context) (*gtfs.Feed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return s.Decode(data)
}

// Decode parses and validates a schedule document. Malformed documents are
// reported as data integrity errors so they are not retried.
func (s *Source) Decode(data []byte) (*gtfs.Feed, error) {
	var feed gtfs.Feed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&feed); err != nil && !errors.Is(err, io.EOF) {
		return nil, &snapshot.DataIntegrityError{Kind: snapshot.KindMalformedFeed, Detail: s.path, Err: err}
	}
	if err := s.validate.Struct(feed); err != nil {
		return nil, &snapshot.DataIntegrityError{Kind: snapshot.KindMalformedFeed, Detail: s.path, Err: err}
	}
	return &feed, nil
}
