package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByMerchant(ctx context.Context, db *gorm.DB, merchantID snowflake.ID) (*Endpoint, error)
	Upsert(ctx context.Context, db *gorm.DB, endpoint *Endpoint) error
	SetActive(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, active bool, now time.Time) (bool, error)
}
