package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindTransfer(ctx context.Context, db *gorm.DB, chain, txRef string) (*LedgerTransfer, error)
	InsertTransfer(ctx context.Context, db *gorm.DB, transfer *LedgerTransfer) error
	ListTransfersByIntent(ctx context.Context, db *gorm.DB, intentID snowflake.ID) ([]*LedgerTransfer, error)

	// Watermark returns the stored height and whether a row exists.
	Watermark(ctx context.Context, db *gorm.DB, chain string) (uint64, bool, error)
	// AdvanceWatermark moves the watermark forward and never backwards.
	AdvanceWatermark(ctx context.Context, db *gorm.DB, chain string, height uint64, now time.Time) error
}
