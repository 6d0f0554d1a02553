package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIgnore adds an address, skipping one that already exists.
	InsertIgnore(ctx context.Context, db *gorm.DB, address *DepositAddress) (bool, error)
	// ListAvailable returns addresses with no open intent and no intent closed after cooldownCutoff.
	ListAvailable(ctx context.Context, db *gorm.DB, chain string, cooldownCutoff time.Time, limit int) ([]*DepositAddress, error)
	// Assign binds an address to an intent if its version is unchanged.
	Assign(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, intentID snowflake.ID, now time.Time) (bool, error)
	ListAddresses(ctx context.Context, db *gorm.DB, chain string) ([]string, error)
}
