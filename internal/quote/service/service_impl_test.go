package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/quote/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) Rate(ctx context.Context, base, quote string) (domain.Rate, error) {
	args := m.Called(ctx, base, quote)
	return args.Get(0).(domain.Rate), args.Error(1)
}

type blockingSource struct{}

func (blockingSource) Name() string { return "blocking" }

func (blockingSource) Rate(ctx context.Context, _, _ string) (domain.Rate, error) {
	<-ctx.Done()
	return domain.Rate{}, ctx.Err()
}

func testPolicy() *config.PolicyHolder {
	return config.NewStaticPolicyHolder(config.Policy{
		FiatCurrencies: []config.FiatCurrency{{Code: "USD", Exponent: 2}, {Code: "JPY", Exponent: 0}},
		Assets:         []config.AssetPolicy{{Code: "DOT", Chain: "polkadot", Decimals: 10}},
		Chains:         []config.ChainPolicy{{Name: "polkadot", ConfirmationDepth: 2, ToleranceBps: 50}},
	})
}

func newService(t *testing.T, src domain.RateSource, clk clock.Clock, quoteCfg config.QuoteConfig) *Service {
	t.Helper()
	return New(Params{
		Config: config.Config{Quote: quoteCfg},
		Policy: testPolicy(),
		Source: src,
		Clock:  clk,
		Log:    zap.NewNop(),
	}).(*Service)
}

func TestQuoteConvertsMinorUnits(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &mockSource{}
	src.On("Rate", mock.Anything, "DOT", "USD").Return(domain.Rate{Value: decimal.RequireFromString("100"), AsOf: now}, nil)

	svc := newService(t, src, clock.NewFakeClock(now), config.QuoteConfig{Timeout: time.Second, MaxAge: time.Minute})

	quote, err := svc.Quote(context.Background(), domain.Request{FiatAmount: 1000, FiatCurrency: "usd", CryptoCurrency: "dot"})
	require.NoError(t, err)
	assert.Equal(t, "0.1", quote.CryptoAmount.String())
	assert.Equal(t, now, quote.AsOf)
	src.AssertExpectations(t)
}

func TestQuoteRejectsStaleRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &mockSource{}
	src.On("Rate", mock.Anything, "DOT", "USD").Return(domain.Rate{Value: decimal.RequireFromString("7.25"), AsOf: now.Add(-5 * time.Minute)}, nil)

	svc := newService(t, src, clock.NewFakeClock(now), config.QuoteConfig{MaxAge: time.Minute})

	_, err := svc.Quote(context.Background(), domain.Request{FiatAmount: 1000, FiatCurrency: "USD", CryptoCurrency: "DOT"})
	assert.ErrorIs(t, err, domain.ErrStale)
}

func TestQuoteFailsFastOnSlowSource(t *testing.T) {
	svc := newService(t, blockingSource{}, clock.NewFakeClock(time.Now().UTC()), config.QuoteConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := svc.Quote(context.Background(), domain.Request{FiatAmount: 1000, FiatCurrency: "USD", CryptoCurrency: "DOT"})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQuoteUnsupportedCurrency(t *testing.T) {
	svc := newService(t, &mockSource{}, clock.NewFakeClock(time.Now().UTC()), config.QuoteConfig{})

	_, err := svc.Quote(context.Background(), domain.Request{FiatAmount: 1000, FiatCurrency: "GBP", CryptoCurrency: "DOT"})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedPair))
}

func TestCryptoAmountRoundsUp(t *testing.T) {
	cases := []struct {
		name     string
		minor    int64
		exponent int32
		rate     string
		decimals int32
		want     string
	}{
		{name: "exact", minor: 1000, exponent: 2, rate: "100", decimals: 10, want: "0.1"},
		{name: "zero exponent", minor: 1500, exponent: 0, rate: "3000", decimals: 6, want: "0.5"},
		{name: "repeating", minor: 100, exponent: 2, rate: "3", decimals: 6, want: "0.333334"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CryptoAmount(tc.minor, tc.exponent, decimal.RequireFromString(tc.rate), tc.decimals)
			if got.String() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.String())
			}
		})
	}
}
