package aqmmodels

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Reading is one CO / moisture sample as received from the broker.
type Reading struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	COPPM     int                `bson:"co_ppm" json:"co_ppm"`
	Moisture  int                `bson:"moisture" json:"moisture"`
}

// ReadingQueryParams selects a page of history, newest first
type ReadingQueryParams struct {
	From  *time.Time
	To    *time.Time
	Limit int
	Page  int
}

// ReadingQueryResult represents one page of readings
type ReadingQueryResult struct {
	Items []Reading `json:"items"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
	Total int64     `json:"total"`
}
