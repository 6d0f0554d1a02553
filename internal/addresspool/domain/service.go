package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Assign reserves an address for intentID inside tx.
	Assign(ctx context.Context, tx *gorm.DB, chain string, intentID snowflake.ID) (string, error)
	// Register loads addresses into the pool and returns how many were new.
	Register(ctx context.Context, chain string, addresses []string) (int, error)
	// Watched returns the set of pool addresses for chain.
	Watched(ctx context.Context, chain string) (map[string]struct{}, error)
}

var (
	ErrNoAddressAvailable = errors.New("no_address_available")
	ErrInvalidAddress     = errors.New("invalid_address")
	ErrInvalidChain       = errors.New("invalid_chain")
)
