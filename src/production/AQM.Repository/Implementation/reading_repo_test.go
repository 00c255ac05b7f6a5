package implementation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func readingDoc(id primitive.ObjectID, ts time.Time, co, moisture int) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "timestamp", Value: primitive.NewDateTimeFromTime(ts)},
		{Key: "co_ppm", Value: int32(co)},
		{Key: "moisture", Value: int32(moisture)},
	}
}

func TestMongoReadingRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := "test.sensor_readings"

	mt.Run("round trip keeps values", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		ts := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

		mt.AddMockResponses(mtest.CreateSuccessResponse())
		if err := repo.InsertReading(context.Background(), aqmmodels.Reading{Timestamp: ts, COPPM: 949, Moisture: 94}); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}

		inserted := mt.GetStartedEvent()
		if inserted == nil || inserted.CommandName != "insert" {
			t.Fatalf("expected insert command, got %+v", inserted)
		}
		doc := inserted.Command.Lookup("documents").Array().Index(0).Value().Document()
		if _, err := doc.LookupErr("_id"); err != nil {
			t.Errorf("expected driver-assigned _id: %v", err)
		}
		storedTS := doc.Lookup("timestamp").Time()
		if !storedTS.Equal(ts.Truncate(time.Millisecond)) {
			t.Errorf("stored timestamp = %v, want millisecond truncation of %v", storedTS, ts)
		}

		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, readingDoc(id, storedTS, 949, 94)))
		var got []aqmmodels.Reading
		err := repo.StreamReadings(context.Background(), func(r aqmmodels.Reading) error {
			got = append(got, r)
			return nil
		})
		if err != nil {
			t.Fatalf("StreamReadings: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d readings, want 1", len(got))
		}
		if got[0].COPPM != 949 || got[0].Moisture != 94 || got[0].ID != id {
			t.Errorf("got %+v", got[0])
		}
		if !got[0].Timestamp.Equal(ts.Truncate(time.Millisecond)) {
			t.Errorf("timestamp = %v", got[0].Timestamp)
		}
	})

	mt.Run("insert failure is wrapped", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 91, Message: "shutting down"}))

		err := repo.InsertReading(context.Background(), aqmmodels.Reading{Timestamp: time.Now(), COPPM: 1, Moisture: 2})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	mt.Run("latest on empty collection", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		got, err := repo.GetLatestReading(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("got %+v, want nil", got)
		}
	})

	mt.Run("latest sorts newest first", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, readingDoc(primitive.NewObjectID(), ts, 420, 51)))

		got, err := repo.GetLatestReading(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.COPPM != 420 {
			t.Fatalf("got %+v", got)
		}

		started := mt.GetStartedEvent()
		sort := started.Command.Lookup("sort").Document()
		if v := sort.Lookup("timestamp").AsInt64(); v != -1 {
			t.Errorf("sort timestamp = %d, want -1", v)
		}
	})

	mt.Run("readings between bounds", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		from := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
		to := from.Add(24 * time.Hour)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			readingDoc(primitive.NewObjectID(), from.Add(2*time.Hour), 2, 20),
			readingDoc(primitive.NewObjectID(), from.Add(time.Hour), 1, 10),
		))

		got, err := repo.GetReadingsBetween(context.Background(), from, to, 50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].COPPM != 2 {
			t.Fatalf("got %+v", got)
		}

		started := mt.GetStartedEvent()
		if limit := started.Command.Lookup("limit").AsInt64(); limit != 50 {
			t.Errorf("limit = %d, want 50", limit)
		}
		bounds := started.Command.Lookup("filter", "timestamp").Document()
		if !bounds.Lookup("$gte").Time().Equal(from) || !bounds.Lookup("$lt").Time().Equal(to) {
			t.Errorf("unexpected bounds %v", bounds)
		}
	})

	mt.Run("paged history", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(3)}}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, readingDoc(primitive.NewObjectID(), ts, 7, 70)),
		)

		got, err := repo.GetReadings(context.Background(), aqmmodels.ReadingQueryParams{Page: 2, Limit: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Total != 3 || got.Page != 2 || got.Limit != 2 || len(got.Items) != 1 {
			t.Fatalf("got %+v", got)
		}

		mt.GetStartedEvent() // aggregate for the count
		find := mt.GetStartedEvent()
		if skip := find.Command.Lookup("skip").AsInt64(); skip != 2 {
			t.Errorf("skip = %d, want 2", skip)
		}
	})

	mt.Run("huge page keeps skip non-negative", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(3)}}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch),
		)

		got, err := repo.GetReadings(context.Background(), aqmmodels.ReadingQueryParams{Page: math.MaxInt, Limit: 10})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got.Items) != 0 {
			t.Errorf("items = %+v", got.Items)
		}

		mt.GetStartedEvent()
		find := mt.GetStartedEvent()
		if skip := find.Command.Lookup("skip").AsInt64(); skip < 0 {
			t.Errorf("skip = %d, want non-negative", skip)
		}
	})

	mt.Run("stream stops on callback error", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			readingDoc(primitive.NewObjectID(), ts, 1, 1),
			readingDoc(primitive.NewObjectID(), ts, 2, 2),
		))

		stop := errors.New("stop")
		calls := 0
		err := repo.StreamReadings(context.Background(), func(aqmmodels.Reading) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Fatalf("err = %v, want stop", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	mt.Run("ping", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Second)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		if err := repo.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		name      string
		params    aqmmodels.ReadingQueryParams
		wantPage  int
		wantLimit int
	}{
		{name: "defaults", params: aqmmodels.ReadingQueryParams{}, wantPage: 1, wantLimit: defaultPageLimit},
		{name: "limit capped", params: aqmmodels.ReadingQueryParams{Page: 2, Limit: 5000}, wantPage: 2, wantLimit: maxPageLimit},
		{name: "negative page", params: aqmmodels.ReadingQueryParams{Page: -4, Limit: 10}, wantPage: 1, wantLimit: 10},
		{name: "huge page", params: aqmmodels.ReadingQueryParams{Page: math.MaxInt, Limit: 10}, wantPage: math.MaxInt / 10, wantLimit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := pageBounds(tt.params)
			if page != tt.wantPage || limit != tt.wantLimit {
				t.Errorf("pageBounds = (%d, %d), want (%d, %d)", page, limit, tt.wantPage, tt.wantLimit)
			}
			if (page-1)*limit < 0 {
				t.Errorf("skip overflowed: page=%d limit=%d", page, limit)
			}
		})
	}
}
