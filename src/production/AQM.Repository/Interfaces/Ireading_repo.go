package interfaces

import (
	"context"
	"time"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
)

// ReadingWriter is the subscriber's view of the store
type ReadingWriter interface {
	// Append only; readings are never updated or deleted
	InsertReading(ctx context.Context, reading aqmmodels.Reading) error
}

// ReadingRepository is the store client shared by the subscriber, the dashboard and the CLI.
// Every read returns readings newest first.
type ReadingRepository interface {
	ReadingWriter
	Ping(ctx context.Context) error

	// GetLatestReading returns nil, nil when the collection is empty
	GetLatestReading(ctx context.Context) (*aqmmodels.Reading, error)
	// GetReadingsBetween covers [from, to)
	GetReadingsBetween(ctx context.Context, from, to time.Time, limit int) ([]aqmmodels.Reading, error)
	GetReadings(ctx context.Context, params aqmmodels.ReadingQueryParams) (*aqmmodels.ReadingQueryResult, error)

	// Full history
	StreamReadings(ctx context.Context, fn func(aqmmodels.Reading) error) error
}
