package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Request struct {
	// FiatAmount is in minor units.
	FiatAmount     int64
	FiatCurrency   string
	CryptoCurrency string
}

type Quote struct {
	CryptoAmount decimal.Decimal
	Rate         decimal.Decimal
	AsOf         time.Time
	Source       string
}

// Provider converts a fiat amount into the crypto amount a payer must send.
type Provider interface {
	Quote(ctx context.Context, req Request) (Quote, error)
}

// Rate is the fiat price of one unit of the base asset.
type Rate struct {
	Base  string
	Quote string
	Value decimal.Decimal
	AsOf  time.Time
}

type RateSource interface {
	Name() string
	Rate(ctx context.Context, base, quote string) (Rate, error)
}

var (
	ErrUnavailable     = errors.New("quote_unavailable")
	ErrStale           = errors.New("quote_stale")
	ErrUnsupportedPair = errors.New("unsupported_pair")
)
