package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

// TransitionParams is a conditional status write. The row is only updated
// while it is still in From; the optional window predicates pin the update
// to one side of the expiry boundary.
type TransitionParams struct {
	ID   snowflake.ID
	From Status
	To   Status
	Now  time.Time

	// OpenAt requires expires_at > OpenAt.
	OpenAt *time.Time
	// ExpiredAt requires expires_at < ExpiredAt.
	ExpiredAt *time.Time

	TxRef               *string
	ObservedAmount      *decimal.Decimal
	ObservedBlockHeight *uint64
	FailureReason       *string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter ListIntentFilter, page pagination.Pagination) ([]*PaymentIntent, error)

	// Transition applies p and reports whether a row changed.
	Transition(ctx context.Context, db *gorm.DB, p TransitionParams) (bool, error)

	// FindOpenByAddress returns the intent awaiting payment on address, if any.
	FindOpenByAddress(ctx context.Context, db *gorm.DB, chain, address string, now time.Time) (*PaymentIntent, error)
	// FindLatestByAddress returns the most recently created intent for address.
	FindLatestByAddress(ctx context.Context, db *gorm.DB, chain, address string) (*PaymentIntent, error)

	ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	ListProcessing(ctx context.Context, db *gorm.DB, chain string, limit int) ([]*PaymentIntent, error)
}
