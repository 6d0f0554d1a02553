package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/addresspool/domain"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIgnore(ctx context.Context, db *gorm.DB, address *domain.DepositAddress) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(address)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB, chain string, cooldownCutoff time.Time, limit int) ([]*domain.DepositAddress, error) {
	var addresses []*domain.DepositAddress
	err := db.WithContext(ctx).Raw(
		`SELECT d.id, d.chain, d.address, d.assigned_intent_id, d.assigned_at, d.version, d.created_at, d.updated_at
		 FROM deposit_addresses d
		 WHERE d.chain = ?
		 AND NOT EXISTS (
			SELECT 1 FROM payment_intents p
			WHERE p.chain = d.chain AND p.destination_address = d.address
			AND (p.status IN (?, ?) OR p.updated_at > ?)
		 )
		 ORDER BY d.assigned_at IS NOT NULL, d.assigned_at ASC, d.id ASC
		 LIMIT ?`,
		chain,
		intentdomain.StatusRequiresPayment,
		intentdomain.StatusProcessing,
		cooldownCutoff,
		limit,
	).Scan(&addresses).Error
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

func (r *repo) Assign(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, intentID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE deposit_addresses
		 SET assigned_intent_id = ?, assigned_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		intentID,
		now,
		now,
		id,
		version,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListAddresses(ctx context.Context, db *gorm.DB, chain string) ([]string, error) {
	var addresses []string
	err := db.WithContext(ctx).Raw(
		`SELECT address FROM deposit_addresses WHERE chain = ? ORDER BY id ASC`,
		chain,
	).Scan(&addresses).Error
	if err != nil {
		return nil, err
	}
	return addresses, nil
}
