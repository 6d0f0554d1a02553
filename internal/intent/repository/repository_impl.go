package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/intent/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

const intentColumns = `id, merchant_id, fiat_amount, fiat_currency, crypto_amount, crypto_currency, chain,
	destination_address, status, tx_ref, observed_amount, observed_block_height, failure_reason,
	quote_as_of, expires_at, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.MerchantID,
		intent.FiatAmount,
		intent.FiatCurrency,
		intent.CryptoAmount.String(),
		intent.CryptoCurrency,
		intent.Chain,
		intent.DestinationAddress,
		intent.Status,
		intent.TxRef,
		intent.ObservedAmount,
		intent.ObservedBlockHeight,
		intent.FailureReason,
		intent.QuoteAsOf,
		intent.ExpiresAt,
		intent.Metadata,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = ?`,
		id,
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter domain.ListIntentFilter, page pagination.Pagination) ([]*domain.PaymentIntent, error) {
	var intents []*domain.PaymentIntent
	stmt := db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("merchant_id = ?", merchantID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", createdAt.UTC(), createdAt.UTC(), id)
	}
	limit := page.PageSize
	if limit <= 0 {
		limit = 20
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, p domain.TransitionParams) (bool, error) {
	updates := map[string]any{
		"status":     p.To,
		"updated_at": p.Now,
	}
	if p.TxRef != nil {
		updates["tx_ref"] = *p.TxRef
	}
	if p.ObservedAmount != nil {
		updates["observed_amount"] = p.ObservedAmount.String()
	}
	if p.ObservedBlockHeight != nil {
		updates["observed_block_height"] = *p.ObservedBlockHeight
	}
	if p.FailureReason != nil {
		updates["failure_reason"] = *p.FailureReason
	}

	stmt := db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id = ? AND status = ?", p.ID, p.From)
	if p.OpenAt != nil {
		stmt = stmt.Where("expires_at > ?", *p.OpenAt)
	}
	if p.ExpiredAt != nil {
		stmt = stmt.Where("expires_at < ?", *p.ExpiredAt)
	}

	res := stmt.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindOpenByAddress(ctx context.Context, db *gorm.DB, chain, address string, now time.Time) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE chain = ? AND destination_address = ? AND status = ? AND expires_at > ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		chain,
		address,
		domain.StatusRequiresPayment,
		now,
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) FindLatestByAddress(ctx context.Context, db *gorm.DB, chain, address string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE chain = ? AND destination_address = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		chain,
		address,
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM payment_intents
		 WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusRequiresPayment,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListProcessing(ctx context.Context, db *gorm.DB, chain string, limit int) ([]*domain.PaymentIntent, error) {
	var intents []*domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE chain = ? AND status = ?
		 ORDER BY observed_block_height ASC, id ASC
		 LIMIT ?`,
		chain,
		domain.StatusProcessing,
		limit,
	).Scan(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}
