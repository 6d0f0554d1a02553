package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/notification/domain"
	"gorm.io/gorm"
)

const eventColumns = `id, intent_id, merchant_id, event_type, schema_version, payload, status, attempt_count,
	next_retry_at, claimed_at, last_attempt_at, last_status_code, last_error, delivered_at, created_at, updated_at`

// errLostClaim rolls back the attempt row when the event was released or settled elsewhere.
var errLostClaim = errors.New("lost_claim")

// claimExpiredError is recorded when a claim outlives the claim timeout; the
// expired claim counts as an attempt.
const claimExpiredError = "claim expired before the attempt was recorded"

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_events (id, intent_id, merchant_id, event_type, schema_version, payload,
		 status, attempt_count, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.IntentID,
		event.MerchantID,
		event.EventType,
		event.SchemaVersion,
		event.Payload,
		event.Status,
		event.AttemptCount,
		event.NextRetryAt,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var event domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM notification_events WHERE id = ?`,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) ListByIntent(ctx context.Context, db *gorm.DB, intentID snowflake.ID) ([]*domain.Event, error) {
	var events []*domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM notification_events
		 WHERE intent_id = ?
		 ORDER BY created_at ASC, id ASC`,
		intentID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListAttempts(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]*domain.Attempt, error) {
	var attempts []*domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, attempt, status_code, error, duration_ms, succeeded, attempted_at
		 FROM notification_attempts
		 WHERE event_id = ?
		 ORDER BY attempt ASC`,
		eventID,
	).Scan(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Event, error) {
	var events []*domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM notification_events e
		 WHERE e.status = ? AND e.next_retry_at <= ?
		 AND NOT EXISTS (
			SELECT 1 FROM notification_events prior
			WHERE prior.intent_id = e.intent_id
			AND prior.status IN (?, ?)
			AND (prior.created_at < e.created_at OR (prior.created_at = e.created_at AND prior.id < e.id))
		 )
		 ORDER BY e.created_at ASC, e.id ASC
		 LIMIT ?`,
		domain.EventStatusPending,
		now,
		domain.EventStatusPending,
		domain.EventStatusRetrying,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_events
		 SET status = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.EventStatusRetrying,
		now,
		now,
		id,
		domain.EventStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, outcome domain.AttemptOutcome) (bool, error) {
	var settled bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt := outcome.Attempt
		if err := tx.Exec(
			`INSERT INTO notification_attempts (id, event_id, attempt, status_code, error, duration_ms, succeeded, attempted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			attempt.ID,
			attempt.EventID,
			attempt.Attempt,
			attempt.StatusCode,
			attempt.Error,
			attempt.DurationMS,
			attempt.Succeeded,
			attempt.AttemptedAt,
		).Error; err != nil {
			return err
		}

		var deliveredAt *time.Time
		if outcome.Status == domain.EventStatusDelivered {
			deliveredAt = &outcome.Now
		}

		// attempt_count only grows: the guard rejects a stale or replayed attempt number.
		res := tx.Exec(
			`UPDATE notification_events
			 SET status = ?, attempt_count = ?, next_retry_at = ?, claimed_at = NULL,
			     last_attempt_at = ?, last_status_code = ?, last_error = ?, delivered_at = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND attempt_count < ?`,
			outcome.Status,
			attempt.Attempt,
			outcome.NextRetryAt,
			attempt.AttemptedAt,
			attempt.StatusCode,
			attempt.Error,
			deliveredAt,
			outcome.Now,
			attempt.EventID,
			domain.EventStatusRetrying,
			attempt.Attempt,
		)
		if res.Error != nil {
			return res.Error
		}
		settled = res.RowsAffected == 1
		if !settled {
			return errLostClaim
		}
		return nil
	})
	if errors.Is(err, errLostClaim) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return settled, nil
}

func (r *repo) ReleaseStale(ctx context.Context, db *gorm.DB, cutoff, now time.Time, maxAttempts int) (domain.ReleaseResult, error) {
	var result domain.ReleaseResult
	lastError := claimExpiredError
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE notification_events
			 SET status = ?, attempt_count = attempt_count + 1, claimed_at = NULL, last_error = ?, updated_at = ?
			 WHERE status = ? AND claimed_at < ? AND attempt_count + 1 >= ?`,
			domain.EventStatusFailed,
			lastError,
			now,
			domain.EventStatusRetrying,
			cutoff,
			maxAttempts,
		)
		if res.Error != nil {
			return res.Error
		}
		result.Failed = res.RowsAffected

		res = tx.Exec(
			`UPDATE notification_events
			 SET status = ?, attempt_count = attempt_count + 1, claimed_at = NULL, last_error = ?,
			     next_retry_at = ?, updated_at = ?
			 WHERE status = ? AND claimed_at < ?`,
			domain.EventStatusPending,
			lastError,
			now,
			now,
			domain.EventStatusRetrying,
			cutoff,
		)
		if res.Error != nil {
			return res.Error
		}
		result.Released = res.RowsAffected
		return nil
	})
	return result, err
}

func (r *repo) CountBacklog(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM notification_events WHERE status IN (?, ?)`,
		domain.EventStatusPending,
		domain.EventStatusRetrying,
	).Scan(&count).Error
	return count, err
}
