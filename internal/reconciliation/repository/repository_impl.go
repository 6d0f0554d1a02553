package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/reconciliation/domain"
	"gorm.io/gorm"
)

const transferColumns = `id, chain, tx_ref, to_address, asset, amount, block_height, position,
	intent_id, disposition, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindTransfer(ctx context.Context, db *gorm.DB, chain, txRef string) (*domain.LedgerTransfer, error) {
	var transfer domain.LedgerTransfer
	err := db.WithContext(ctx).Raw(
		`SELECT `+transferColumns+` FROM ledger_transfers WHERE chain = ? AND tx_ref = ?`,
		chain,
		txRef,
	).Scan(&transfer).Error
	if err != nil {
		return nil, err
	}
	if transfer.ID == 0 {
		return nil, nil
	}
	return &transfer, nil
}

func (r *repo) InsertTransfer(ctx context.Context, db *gorm.DB, transfer *domain.LedgerTransfer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transfers (`+transferColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.ID,
		transfer.Chain,
		transfer.TxRef,
		transfer.ToAddress,
		transfer.Asset,
		transfer.Amount.String(),
		transfer.BlockHeight,
		transfer.Position,
		transfer.IntentID,
		transfer.Disposition,
		transfer.CreatedAt,
	).Error
}

func (r *repo) ListTransfersByIntent(ctx context.Context, db *gorm.DB, intentID snowflake.ID) ([]*domain.LedgerTransfer, error) {
	var transfers []*domain.LedgerTransfer
	err := db.WithContext(ctx).Raw(
		`SELECT `+transferColumns+` FROM ledger_transfers
		 WHERE intent_id = ?
		 ORDER BY block_height ASC, position ASC`,
		intentID,
	).Scan(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

func (r *repo) Watermark(ctx context.Context, db *gorm.DB, chain string) (uint64, bool, error) {
	var rows []domain.Watermark
	err := db.WithContext(ctx).Raw(
		`SELECT chain, height, updated_at FROM reconciliation_watermarks WHERE chain = ?`,
		chain,
	).Scan(&rows).Error
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Height, true, nil
}

func (r *repo) AdvanceWatermark(ctx context.Context, db *gorm.DB, chain string, height uint64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reconciliation_watermarks (chain, height, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (chain) DO UPDATE
		 SET height = excluded.height, updated_at = excluded.updated_at
		 WHERE reconciliation_watermarks.height < excluded.height`,
		chain,
		height,
		now,
	).Error
}
