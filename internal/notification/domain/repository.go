package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AttemptOutcome is the state an event moves to after a claimed attempt.
type AttemptOutcome struct {
	Attempt     Attempt
	Status      EventStatus
	NextRetryAt time.Time
	Now         time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	ListByIntent(ctx context.Context, db *gorm.DB, intentID snowflake.ID) ([]*Event, error)
	ListAttempts(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]*Attempt, error)

	// ListDue returns PENDING events whose retry time has passed, oldest first,
	// leaving out any event queued behind an earlier undelivered one of the same intent.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Event, error)
	// Claim moves PENDING to RETRYING and reports whether this caller won.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// Complete records the attempt and settles a claimed event.
	Complete(ctx context.Context, db *gorm.DB, outcome AttemptOutcome) (bool, error)
	// ReleaseStale settles RETRYING events claimed before cutoff. Each expired
	// claim counts as an attempt: the event returns to PENDING, or FAILED once
	// maxAttempts is reached.
	ReleaseStale(ctx context.Context, db *gorm.DB, cutoff, now time.Time, maxAttempts int) (ReleaseResult, error)
	CountBacklog(ctx context.Context, db *gorm.DB) (int64, error)
}
