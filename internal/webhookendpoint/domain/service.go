package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpsertRequest struct {
	MerchantID snowflake.ID
	URL        string
	Secret     string
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (Endpoint, error)
	SetActive(ctx context.Context, merchantID snowflake.ID, active bool) error
	// Resolve returns the active endpoint of a merchant with its secret opened.
	Resolve(ctx context.Context, merchantID snowflake.ID) (Target, error)
}

var (
	ErrInvalidMerchant      = errors.New("invalid_merchant")
	ErrInvalidURL           = errors.New("invalid_url")
	ErrInvalidSecret        = errors.New("invalid_secret")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrSealedSecretInvalid  = errors.New("sealed_secret_invalid")
	ErrNotFound             = errors.New("endpoint_not_found")
)
