package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusRequiresPayment Status = "REQUIRES_PAYMENT"
	StatusProcessing      Status = "PROCESSING"
	StatusSucceeded       Status = "SUCCEEDED"
	StatusCanceled        Status = "CANCELED"
	StatusFailed          Status = "FAILED"
	StatusExpired         Status = "EXPIRED"
)

// Failure reasons recorded on FAILED intents.
const (
	FailureAmountMismatch   = "amount_mismatch"
	FailureTransferNotFound = "transfer_not_found"
)

var transitions = map[Status][]Status{
	StatusRequiresPayment: {StatusProcessing, StatusCanceled, StatusFailed, StatusExpired},
	StatusProcessing:      {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseStatus(value string) (Status, bool) {
	switch status := Status(value); status {
	case StatusRequiresPayment, StatusProcessing, StatusSucceeded,
		StatusCanceled, StatusFailed, StatusExpired:
		return status, true
	}
	return "", false
}

// IsOpen reports whether an intent in this status still holds its address.
func (s Status) IsOpen() bool {
	return s == StatusRequiresPayment || s == StatusProcessing
}

func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

type PaymentIntent struct {
	ID                  snowflake.ID        `gorm:"primaryKey" json:"id"`
	MerchantID          snowflake.ID        `gorm:"not null;index:idx_payment_intents_merchant_status,priority:1" json:"merchant_id"`
	FiatAmount          int64               `gorm:"not null" json:"fiat_amount"`
	FiatCurrency        string              `gorm:"type:varchar(3);not null" json:"fiat_currency"`
	CryptoAmount        decimal.Decimal     `gorm:"type:text;not null" json:"crypto_amount"`
	CryptoCurrency      string              `gorm:"not null" json:"crypto_currency"`
	Chain               string              `gorm:"not null;index:idx_payment_intents_address,priority:1" json:"chain"`
	DestinationAddress  string              `gorm:"not null;index:idx_payment_intents_address,priority:2" json:"destination_address"`
	Status              Status              `gorm:"type:text;not null;index:idx_payment_intents_merchant_status,priority:2;index:idx_payment_intents_status_expires,priority:1" json:"status"`
	TxRef               *string             `json:"tx_ref,omitempty"`
	ObservedAmount      decimal.NullDecimal `gorm:"type:text" json:"observed_amount"`
	ObservedBlockHeight *uint64             `json:"observed_block_height,omitempty"`
	FailureReason       *string             `json:"failure_reason,omitempty"`
	QuoteAsOf           time.Time           `gorm:"not null" json:"quote_as_of"`
	ExpiresAt           time.Time           `gorm:"not null;index:idx_payment_intents_status_expires,priority:2" json:"expires_at"`
	Metadata            datatypes.JSONMap   `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt           time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// IsExpiredAt reports whether the payment window closed before now.
func (p PaymentIntent) IsExpiredAt(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
