package implementation

import (
	"context"
	"sort"
	"sync"
	"time"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryReadingRepository keeps readings in process. It mirrors the Mongo
// repository's ordering and paging and is used wherever a store is needed without a server.
type MemoryReadingRepository struct {
	mu       sync.RWMutex
	readings []aqmmodels.Reading // newest first

	// PingErr and ReadErr let callers simulate an unavailable store
	PingErr error
	ReadErr error
}

func NewMemoryReadingRepository(readings ...aqmmodels.Reading) *MemoryReadingRepository {
	r := &MemoryReadingRepository{}
	for _, reading := range readings {
		r.add(reading)
	}
	return r
}

func (r *MemoryReadingRepository) add(reading aqmmodels.Reading) {
	if reading.ID.IsZero() {
		reading.ID = primitive.NewObjectID()
	}
	reading.Timestamp = reading.Timestamp.UTC().Truncate(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
	sort.SliceStable(r.readings, func(i, j int) bool {
		return r.readings[i].Timestamp.After(r.readings[j].Timestamp)
	})
}

func (r *MemoryReadingRepository) Ping(ctx context.Context) error {
	return r.PingErr
}

func (r *MemoryReadingRepository) InsertReading(ctx context.Context, reading aqmmodels.Reading) error {
	if r.ReadErr != nil {
		return r.ReadErr
	}
	r.add(reading)
	return nil
}

func (r *MemoryReadingRepository) GetLatestReading(ctx context.Context) (*aqmmodels.Reading, error) {
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.readings) == 0 {
		return nil, nil
	}
	latest := r.readings[0]
	return &latest, nil
}

func (r *MemoryReadingRepository) GetReadingsBetween(ctx context.Context, from, to time.Time, limit int) ([]aqmmodels.Reading, error) {
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}
	items := r.filter(&from, &to)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryReadingRepository) GetReadings(ctx context.Context, params aqmmodels.ReadingQueryParams) (*aqmmodels.ReadingQueryResult, error) {
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}

	page, limit := pageBounds(params)

	all := r.filter(params.From, params.To)
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	return &aqmmodels.ReadingQueryResult{
		Items: all[start:end],
		Page:  page,
		Limit: limit,
		Total: int64(len(all)),
	}, nil
}

func (r *MemoryReadingRepository) StreamReadings(ctx context.Context, fn func(aqmmodels.Reading) error) error {
	if r.ReadErr != nil {
		return r.ReadErr
	}
	for _, reading := range r.filter(nil, nil) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(reading); err != nil {
			return err
		}
	}
	return nil
}

// filter returns a copy of the readings in [from, to), newest first
func (r *MemoryReadingRepository) filter(from, to *time.Time) []aqmmodels.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]aqmmodels.Reading, 0, len(r.readings))
	for _, reading := range r.readings {
		if from != nil && reading.Timestamp.Before(*from) {
			continue
		}
		if to != nil && !reading.Timestamp.Before(*to) {
			continue
		}
		items = append(items, reading)
	}
	return items
}
