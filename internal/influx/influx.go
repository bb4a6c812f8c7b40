// Package influx wraps access to the InfluxDB time-series store. Clients
// are created per destination because every account's events are written
// with that account's admin-issued token.
package influx

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"example.com/backstage/services/audit/internal/audit"
)

// Destination describes where a batch of points is written to or read from
type Destination struct {
	URL          string `json:"url"`
	Token        string `json:"token"`
	Organization string `json:"organization"`
	Bucket       string `json:"bucket"`
}

// Store is the interface for time-series store operations
type Store interface {
	WriteBatch(ctx context.Context, dest Destination, points []*write.Point) error
	QueryRows(ctx context.Context, dest Destination, query string) ([]audit.Row, error)
}

// store implements the Store interface
type store struct{}

// NewStore creates a new time-series store accessor
func NewStore() Store {
	return &store{}
}

// WriteBatch persists one encoded batch with a single blocking write call.
// Point order within the batch is preserved.
func (s *store) WriteBatch(ctx context.Context, dest Destination, points []*write.Point) error {
	client := influxdb2.NewClient(dest.URL, dest.Token)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(dest.Organization, dest.Bucket)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		return errors.Wrapf(err, "failed to write %d points to bucket %s", len(points), dest.Bucket)
	}
	return nil
}

// QueryRows runs a Flux query and returns the flattened result records
func (s *store) QueryRows(ctx context.Context, dest Destination, query string) ([]audit.Row, error) {
	client := influxdb2.NewClient(dest.URL, dest.Token)
	defer client.Close()

	queryAPI := client.QueryAPI(dest.Organization)
	result, err := queryAPI.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}

	var rows []audit.Row
	for result.Next() {
		rows = append(rows, audit.Row(result.Record().Values()))
	}
	if result.Err() != nil {
		return nil, errors.Wrap(result.Err(), "failed to read query result")
	}
	return rows, nil
}
