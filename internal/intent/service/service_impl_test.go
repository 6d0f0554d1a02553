package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	quotedomain "github.com/smallbiznis/settlement/internal/quote/domain"
	"github.com/smallbiznis/settlement/internal/settlementtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

const addrA = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
const addrB = "14ShUZUYUR35RBZW6uVVt1zXDxmSQddkeDdXf1JkMA6P721N"

func TestCreateQuotesAndAssignsAddress(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA)

	intent := h.CreateIntent(t, 5*time.Minute)

	assert.Equal(t, domain.StatusRequiresPayment, intent.Status)
	assert.Equal(t, "0.1", intent.CryptoAmount.String())
	assert.Equal(t, "DOT", intent.CryptoCurrency)
	assert.Equal(t, "polkadot", intent.Chain)
	assert.Equal(t, addrA, intent.DestinationAddress)
	assert.Equal(t, t0.Add(5*time.Minute), intent.ExpiresAt)

	stored := h.Intent(t, intent.ID)
	assert.Equal(t, addrA, stored.DestinationAddress)
	assert.True(t, stored.CryptoAmount.Equal(intent.CryptoAmount))
	assert.Empty(t, h.EventsFor(t, intent.ID), "creation is not a transition")
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA)

	tooMany := map[string]any{}
	for i := 0; i < 21; i++ {
		tooMany[strings.Repeat("k", i+1)] = "v"
	}

	cases := []struct {
		name string
		req  domain.CreateIntentRequest
		want error
	}{
		{name: "zero amount", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 0, FiatCurrency: "USD", CryptoCurrency: "DOT"}, want: domain.ErrInvalidAmount},
		{name: "above ceiling", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 100_000_001, FiatCurrency: "USD", CryptoCurrency: "DOT"}, want: domain.ErrInvalidAmount},
		{name: "fiat currency", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 10, FiatCurrency: "XYZ", CryptoCurrency: "DOT"}, want: domain.ErrInvalidCurrency},
		{name: "crypto currency", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 10, FiatCurrency: "USD", CryptoCurrency: "BTC"}, want: domain.ErrInvalidCurrency},
		{name: "metadata keys", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 10, FiatCurrency: "USD", CryptoCurrency: "DOT", Metadata: tooMany}, want: domain.ErrMetadataTooLarge},
		{name: "metadata value", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 10, FiatCurrency: "USD", CryptoCurrency: "DOT", Metadata: map[string]any{"order": strings.Repeat("x", 501)}}, want: domain.ErrMetadataTooLarge},
		{name: "ttl", req: domain.CreateIntentRequest{MerchantID: 1, FiatAmount: 10, FiatCurrency: "USD", CryptoCurrency: "DOT", TTL: time.Second}, want: domain.ErrInvalidTTL},
		{name: "merchant", req: domain.CreateIntentRequest{FiatAmount: 10, FiatCurrency: "USD", CryptoCurrency: "DOT"}, want: domain.ErrInvalidMerchant},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Service.Create(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	assert.Zero(t, h.Quotes.Calls, "input errors are rejected before quoting")
}

func TestCreateSurfacesQuoteUnavailable(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA)
	h.Quotes.Err = quotedomain.ErrStale

	_, err := h.Service.Create(context.Background(), domain.CreateIntentRequest{
		MerchantID: 1, FiatAmount: 1000, FiatCurrency: "USD", CryptoCurrency: "DOT",
	})
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)
}

func TestCreateWithoutFreeAddress(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA)
	h.CreateIntent(t, 0)

	_, err := h.Service.Create(context.Background(), domain.CreateIntentRequest{
		MerchantID: 1, FiatAmount: 1000, FiatCurrency: "USD", CryptoCurrency: "DOT",
	})
	assert.ErrorIs(t, err, domain.ErrNoAddressAvailable)
}

func TestCancelEmitsExactlyOneEvent(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA)
	intent := h.CreateIntent(t, 0)

	h.Clock.Advance(time.Minute)
	canceled, err := h.Service.Cancel(context.Background(), domain.CancelIntentRequest{MerchantID: settlementtest.MerchantID, ID: intent.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)

	_, err = h.Service.Cancel(context.Background(), domain.CancelIntentRequest{ID: intent.ID.String()})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	events := h.EventsFor(t, intent.ID)
	require.Len(t, events, 1)
	assert.Equal(t, notificationdomain.EventPaymentIntentCanceled, events[0].EventType)
	assert.Equal(t, notificationdomain.EventStatusPending, events[0].Status)

	var envelope notificationdomain.Envelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	assert.Equal(t, events[0].ID.String(), envelope.ID)
	assert.Equal(t, "CANCELED", envelope.Data.Status)
	assert.Equal(t, notificationdomain.SchemaVersion, envelope.Version)
}

func TestCancelUnknownOrForeignIntent(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA)
	intent := h.CreateIntent(t, 0)

	_, err := h.Service.Cancel(context.Background(), domain.CancelIntentRequest{MerchantID: 999, ID: intent.ID.String()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.Service.Get(context.Background(), domain.GetIntentRequest{ID: "12345"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.Service.Get(context.Background(), domain.GetIntentRequest{ID: "not-an-id"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestExpireOverdueOnlyTouchesLapsedIntents(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA, addrB)

	short := h.CreateIntent(t, 5*time.Minute)
	long := h.CreateIntent(t, time.Hour)

	h.Clock.Advance(6 * time.Minute)
	expired, err := h.Service.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, domain.StatusExpired, h.Intent(t, short.ID).Status)
	assert.Equal(t, domain.StatusRequiresPayment, h.Intent(t, long.ID).Status)

	events := h.EventsFor(t, short.ID)
	require.Len(t, events, 1)
	assert.Equal(t, notificationdomain.EventPaymentIntentExpired, events[0].EventType)

	again, err := h.Service.ExpireOverdue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, h.EventsFor(t, short.ID), 1)
}

func TestListFiltersByStatusAndPages(t *testing.T) {
	h := settlementtest.New(t, t0)
	h.RegisterAddresses(t, addrA, addrB, "16ZL8yLyXv3V3L3z9ofR1ovFLziyXaN1DPq4yffMAZ9czzBD")

	first := h.CreateIntent(t, 0)
	h.Clock.Advance(time.Second)
	h.CreateIntent(t, 0)
	h.Clock.Advance(time.Second)
	h.CreateIntent(t, 0)

	_, err := h.Service.Cancel(context.Background(), domain.CancelIntentRequest{ID: first.ID.String()})
	require.NoError(t, err)

	page, err := h.Service.List(context.Background(), domain.ListIntentRequest{MerchantID: settlementtest.MerchantID, Status: "requires_payment", PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Intents, 1)
	assert.True(t, page.HasMore)

	next, err := h.Service.List(context.Background(), domain.ListIntentRequest{MerchantID: settlementtest.MerchantID, Status: "REQUIRES_PAYMENT", PageSize: 1, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Intents, 1)
	assert.False(t, next.HasMore)
	assert.NotEqual(t, page.Intents[0].ID, next.Intents[0].ID)

	_, err = h.Service.List(context.Background(), domain.ListIntentRequest{MerchantID: settlementtest.MerchantID, Status: "PAID"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}
