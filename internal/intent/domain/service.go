package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
)

type CreateIntentRequest struct {
	MerchantID     snowflake.ID
	FiatAmount     int64
	FiatCurrency   string
	CryptoCurrency string
	Metadata       map[string]any
	// TTL falls back to the policy default when zero.
	TTL time.Duration
}

type GetIntentRequest struct {
	// MerchantID scopes the lookup when non-zero.
	MerchantID snowflake.ID
	ID         string
}

type CancelIntentRequest struct {
	MerchantID snowflake.ID
	ID         string
}

type ListIntentRequest struct {
	MerchantID snowflake.ID
	Status     string
	PageToken  string
	PageSize   int32
}

type ListIntentFilter struct {
	Status Status
}

type ListIntentResponse struct {
	pagination.PageInfo
	Intents []PaymentIntent `json:"payment_intents"`
}

type Service interface {
	Create(context.Context, CreateIntentRequest) (PaymentIntent, error)
	Get(context.Context, GetIntentRequest) (PaymentIntent, error)
	Cancel(context.Context, CancelIntentRequest) (PaymentIntent, error)
	List(context.Context, ListIntentRequest) (ListIntentResponse, error)
	// ExpireOverdue moves up to limit overdue intents to EXPIRED and returns how many moved.
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidMerchant        = errors.New("invalid_merchant")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidTTL             = errors.New("invalid_ttl")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrMetadataTooLarge       = errors.New("metadata_too_large")
	ErrQuoteUnavailable       = errors.New("quote_unavailable")
	ErrNoAddressAvailable     = errors.New("no_address_available")
	ErrInvalidID              = errors.New("invalid_id")
	ErrNotFound               = errors.New("not_found")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
)
