package database

import (
	"time"

	"github.com/google/uuid"
)

const (
	ClassEarthworm = "earthworm"
	ClassFlatworm  = "flatworm"
)

// Prediction is a single classification event. Rows are append-only: nothing
// in the service updates or deletes them after insertion.
type Prediction struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PredictedClass string  `gorm:"size:20;not null"`
	Confidence     float64 `gorm:"not null"`

	// Fixed-offset (UTC+5:30) wall clock string, second precision.
	Timestamp string `gorm:"size:32;not null"`

	// Unauthenticated free-text link to an account; may reference no real user.
	Username string

	CreationTime time.Time
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Email        string

	CreationTime time.Time
}
