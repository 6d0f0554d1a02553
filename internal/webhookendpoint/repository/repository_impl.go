package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByMerchant(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (*domain.Endpoint, error) {
	var endpoint domain.Endpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, url, secret, is_active, created_at, updated_at
		 FROM webhook_endpoints
		 WHERE merchant_id = ?`,
		merchantID,
	).Scan(&endpoint).Error
	if err != nil {
		return nil, err
	}
	if endpoint.ID == 0 {
		return nil, nil
	}
	return &endpoint, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, endpoint *domain.Endpoint) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "secret", "is_active", "updated_at"}),
		}).
		Create(endpoint).Error
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, active bool, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_endpoints SET is_active = ?, updated_at = ? WHERE merchant_id = ?`,
		active,
		now,
		merchantID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
