package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
)

// SchemaVersion is stamped on every payload. Bump it when IntentSnapshot changes shape.
const SchemaVersion = "2026-01-01"

type EventType string

const (
	EventPaymentIntentProcessing EventType = "payment_intent.processing"
	EventPaymentIntentSucceeded  EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed     EventType = "payment_intent.failed"
	EventPaymentIntentCanceled   EventType = "payment_intent.canceled"
	EventPaymentIntentExpired    EventType = "payment_intent.expired"
)

// EventTypeFor maps the status an intent entered to the event announcing it.
func EventTypeFor(status intentdomain.Status) (EventType, bool) {
	switch status {
	case intentdomain.StatusProcessing:
		return EventPaymentIntentProcessing, true
	case intentdomain.StatusSucceeded:
		return EventPaymentIntentSucceeded, true
	case intentdomain.StatusFailed:
		return EventPaymentIntentFailed, true
	case intentdomain.StatusCanceled:
		return EventPaymentIntentCanceled, true
	case intentdomain.StatusExpired:
		return EventPaymentIntentExpired, true
	}
	return "", false
}

type Envelope struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Version   string         `json:"version"`
	EmittedAt time.Time      `json:"emitted_at"`
	Data      IntentSnapshot `json:"data"`
}

// IntentSnapshot is the intent as it stood right after the transition.
type IntentSnapshot struct {
	ID                  string         `json:"id"`
	MerchantID          string         `json:"merchant_id"`
	Status              string         `json:"status"`
	FiatAmount          int64          `json:"fiat_amount"`
	FiatCurrency        string         `json:"fiat_currency"`
	CryptoAmount        string         `json:"crypto_amount"`
	CryptoCurrency      string         `json:"crypto_currency"`
	Chain               string         `json:"chain"`
	DestinationAddress  string         `json:"destination_address"`
	TxRef               *string        `json:"tx_ref,omitempty"`
	ObservedAmount      *string        `json:"observed_amount,omitempty"`
	ObservedBlockHeight *uint64        `json:"observed_block_height,omitempty"`
	FailureReason       *string        `json:"failure_reason,omitempty"`
	ExpiresAt           time.Time      `json:"expires_at"`
	Metadata            map[string]any `json:"metadata"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func SnapshotOf(intent intentdomain.PaymentIntent) IntentSnapshot {
	snapshot := IntentSnapshot{
		ID:                  intent.ID.String(),
		MerchantID:          intent.MerchantID.String(),
		Status:              string(intent.Status),
		FiatAmount:          intent.FiatAmount,
		FiatCurrency:        intent.FiatCurrency,
		CryptoAmount:        intent.CryptoAmount.String(),
		CryptoCurrency:      intent.CryptoCurrency,
		Chain:               intent.Chain,
		DestinationAddress:  intent.DestinationAddress,
		TxRef:               intent.TxRef,
		ObservedBlockHeight: intent.ObservedBlockHeight,
		FailureReason:       intent.FailureReason,
		ExpiresAt:           intent.ExpiresAt.UTC(),
		Metadata:            map[string]any(intent.Metadata),
		CreatedAt:           intent.CreatedAt.UTC(),
		UpdatedAt:           intent.UpdatedAt.UTC(),
	}
	if intent.ObservedAmount.Valid {
		observed := intent.ObservedAmount.Decimal.String()
		snapshot.ObservedAmount = &observed
	}
	if snapshot.Metadata == nil {
		snapshot.Metadata = map[string]any{}
	}
	return snapshot
}

// NewEvent serializes the post-transition snapshot once. The bytes are never
// rebuilt from later intent state.
func NewEvent(id snowflake.ID, intent intentdomain.PaymentIntent, now time.Time) (*Event, error) {
	eventType, ok := EventTypeFor(intent.Status)
	if !ok {
		return nil, ErrUnsupportedEventType
	}

	payload, err := json.Marshal(Envelope{
		ID:        id.String(),
		Type:      eventType,
		Version:   SchemaVersion,
		EmittedAt: now.UTC(),
		Data:      SnapshotOf(intent),
	})
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            id,
		IntentID:      intent.ID,
		MerchantID:    intent.MerchantID,
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Payload:       payload,
		Status:        EventStatusPending,
		NextRetryAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
