package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusRetrying  EventStatus = "RETRYING"
	EventStatusDelivered EventStatus = "DELIVERED"
	EventStatusFailed    EventStatus = "FAILED"
)

// Event is one outbox row. Payload holds the exact bytes sent to the merchant.
type Event struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	IntentID       snowflake.ID `gorm:"not null;index:idx_notification_events_intent,priority:1" json:"intent_id"`
	MerchantID     snowflake.ID `gorm:"not null" json:"merchant_id"`
	EventType      EventType    `gorm:"type:text;not null" json:"type"`
	SchemaVersion  string       `gorm:"not null" json:"version"`
	Payload        []byte       `gorm:"not null" json:"-"`
	Status         EventStatus  `gorm:"type:text;not null;index:idx_notification_events_due,priority:1" json:"status"`
	AttemptCount   int          `gorm:"not null;default:0" json:"attempt_count"`
	NextRetryAt    time.Time    `gorm:"not null;index:idx_notification_events_due,priority:2" json:"next_retry_at"`
	ClaimedAt      *time.Time   `json:"claimed_at,omitempty"`
	LastAttemptAt  *time.Time   `json:"last_attempt_at,omitempty"`
	LastStatusCode *int         `json:"last_status_code,omitempty"`
	LastError      *string      `json:"last_error,omitempty"`
	DeliveredAt    *time.Time   `json:"delivered_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;index:idx_notification_events_intent,priority:2" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Event) TableName() string {
	return "notification_events"
}

// Attempt records a single delivery try.
type Attempt struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	EventID     snowflake.ID `gorm:"not null;uniqueIndex:ux_notification_attempts_event,priority:1" json:"event_id"`
	Attempt     int          `gorm:"not null;uniqueIndex:ux_notification_attempts_event,priority:2" json:"attempt"`
	StatusCode  *int         `json:"status_code,omitempty"`
	Error       *string      `json:"error,omitempty"`
	DurationMS  int64        `gorm:"not null;default:0" json:"duration_ms"`
	Succeeded   bool         `gorm:"not null;default:false" json:"succeeded"`
	AttemptedAt time.Time    `gorm:"not null" json:"attempted_at"`
}

func (Attempt) TableName() string {
	return "notification_attempts"
}

// ReleaseResult counts the stale claims a recovery sweep settled.
type ReleaseResult struct {
	Released int64
	Failed   int64
}
