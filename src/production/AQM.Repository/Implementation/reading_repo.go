package implementation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

var newestFirst = bson.D{{Key: "timestamp", Value: -1}}

type MongoReadingRepository struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoReadingRepository(coll *mongo.Collection, timeout time.Duration) *MongoReadingRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoReadingRepository{coll: coll, timeout: timeout}
}

// EnsureIndexes creates the descending timestamp index used by every read
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    newestFirst,
		Options: options.Index().SetName("idx_timestamp_desc"),
	})
	if err != nil {
		return fmt.Errorf("failed to create timestamp index: %w", err)
	}
	return nil
}

func (r *MongoReadingRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.coll.Database().Client().Ping(ctx, nil)
}

func (r *MongoReadingRepository) InsertReading(ctx context.Context, reading aqmmodels.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// BSON dates carry milliseconds; truncate so reads return exactly what was written
	reading.ID = primitive.NilObjectID
	reading.Timestamp = reading.Timestamp.UTC().Truncate(time.Millisecond)

	if _, err := r.coll.InsertOne(ctx, reading); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func (r *MongoReadingRepository) GetLatestReading(ctx context.Context) (*aqmmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var reading aqmmodels.Reading
	err := r.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(newestFirst)).Decode(&reading)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return &reading, nil
}

func (r *MongoReadingRepository) GetReadingsBetween(ctx context.Context, from, to time.Time, limit int) ([]aqmmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	filter := bson.D{{Key: "timestamp", Value: bson.D{
		{Key: "$gte", Value: from.UTC()},
		{Key: "$lt", Value: to.UTC()},
	}}}
	opts := options.Find().SetSort(newestFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return decodeAll(ctx, cursor)
}

func (r *MongoReadingRepository) GetReadings(ctx context.Context, params aqmmodels.ReadingQueryParams) (*aqmmodels.ReadingQueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page, limit := pageBounds(params)

	filter := rangeFilter(params.From, params.To)
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	opts := options.Find().
		SetSort(newestFirst).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	items, err := decodeAll(ctx, cursor)
	if err != nil {
		return nil, err
	}

	return &aqmmodels.ReadingQueryResult{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	}, nil
}

// StreamReadings walks the whole collection newest first. It only uses the
// caller's context so long exports are not cut off by the operation timeout.
func (r *MongoReadingRepository) StreamReadings(ctx context.Context, fn func(aqmmodels.Reading) error) error {
	cursor, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(newestFirst))
	if err != nil {
		return fmt.Errorf("failed to query readings: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var reading aqmmodels.Reading
		if err := cursor.Decode(&reading); err != nil {
			return fmt.Errorf("failed to decode reading: %w", err)
		}
		if err := fn(reading); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// pageBounds applies the paging defaults. Page is capped so the skip
// (page-1)*limit cannot overflow.
func pageBounds(params aqmmodels.ReadingQueryParams) (page, limit int) {
	limit = params.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	page = params.Page
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}

func rangeFilter(from, to *time.Time) bson.D {
	bounds := bson.D{}
	if from != nil {
		bounds = append(bounds, bson.E{Key: "$gte", Value: from.UTC()})
	}
	if to != nil {
		bounds = append(bounds, bson.E{Key: "$lt", Value: to.UTC()})
	}
	if len(bounds) == 0 {
		return bson.D{}
	}
	return bson.D{{Key: "timestamp", Value: bounds}}
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]aqmmodels.Reading, error) {
	readings := make([]aqmmodels.Reading, 0)
	if err := cursor.All(ctx, &readings); err != nil {
		return nil, fmt.Errorf("failed to decode readings: %w", err)
	}
	return readings, nil
}
