// Package settlementtest wires the intent, address pool and outbox stores on
// an in-memory database for worker tests.
package settlementtest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	addressdomain "github.com/smallbiznis/settlement/internal/addresspool/domain"
	addressrepository "github.com/smallbiznis/settlement/internal/addresspool/repository"
	addressservice "github.com/smallbiznis/settlement/internal/addresspool/service"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	intentrepository "github.com/smallbiznis/settlement/internal/intent/repository"
	intentservice "github.com/smallbiznis/settlement/internal/intent/service"
	"github.com/smallbiznis/settlement/internal/intent/transition"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	notificationrepository "github.com/smallbiznis/settlement/internal/notification/repository"
	quotedomain "github.com/smallbiznis/settlement/internal/quote/domain"
	"github.com/smallbiznis/settlement/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const MerchantID snowflake.ID = 1001

type Harness struct {
	DB          *gorm.DB
	Clock       *clock.FakeClock
	GenID       *snowflake.Node
	Policy      *config.PolicyHolder
	Log         *zap.Logger
	Quotes      *StaticQuotes
	Intents     intentdomain.Repository
	Events      notificationdomain.Repository
	Addresses   addressdomain.Service
	Transitions *transition.Transitioner
	Service     intentdomain.Service
}

// Policy is a polkadot-only policy: DOT with 10 decimals, 3 confirmations,
// 50 bps tolerance and no address cooldown worth waiting for.
func Policy() config.Policy {
	return config.Policy{
		FiatCurrencies: []config.FiatCurrency{{Code: "USD", Exponent: 2}},
		Assets:         []config.AssetPolicy{{Code: "DOT", Chain: "polkadot", Decimals: 10}},
		Chains: []config.ChainPolicy{{
			Name:              "polkadot",
			ConfirmationDepth: 3,
			ToleranceBps:      50,
			MaxBlocksPerCycle: 10,
		}},
		Intent: config.IntentPolicy{AddressCooldown: time.Second},
	}
}

// New migrates the core tables plus extra models and wires the services.
func New(t testing.TB, now time.Time, extra ...any) *Harness {
	t.Helper()

	models := append([]any{
		&intentdomain.PaymentIntent{},
		&notificationdomain.Event{},
		&notificationdomain.Attempt{},
		&addressdomain.DepositAddress{},
	}, extra...)
	db := dbtest.Open(t, models...)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	h := &Harness{
		DB:      db,
		Clock:   clock.NewFakeClock(now),
		GenID:   node,
		Policy:  config.NewStaticPolicyHolder(Policy()),
		Log:     zap.NewNop(),
		Quotes:  &StaticQuotes{Amount: decimal.RequireFromString("0.1")},
		Intents: intentrepository.Provide(),
		Events:  notificationrepository.Provide(),
	}
	h.Addresses = addressservice.New(addressservice.Params{
		DB:     db,
		Log:    h.Log,
		GenID:  node,
		Clock:  h.Clock,
		Policy: h.Policy,
		Repo:   addressrepository.Provide(),
	})
	h.Transitions = transition.New(transition.Params{
		DB:      db,
		Log:     h.Log,
		GenID:   node,
		Intents: h.Intents,
		Events:  h.Events,
	})
	h.Service = intentservice.New(intentservice.Params{
		DB:          db,
		Log:         h.Log,
		GenID:       node,
		Clock:       h.Clock,
		Policy:      h.Policy,
		Repo:        h.Intents,
		Quotes:      h.Quotes,
		Addresses:   h.Addresses,
		Transitions: h.Transitions,
	})
	return h
}

func (h *Harness) RegisterAddresses(t testing.TB, addresses ...string) {
	t.Helper()
	if _, err := h.Addresses.Register(context.Background(), "polkadot", addresses); err != nil {
		t.Fatalf("register addresses: %v", err)
	}
}

// CreateIntent opens a 10.00 USD intent quoted at the harness quote.
func (h *Harness) CreateIntent(t testing.TB, ttl time.Duration) intentdomain.PaymentIntent {
	t.Helper()
	intent, err := h.Service.Create(context.Background(), intentdomain.CreateIntentRequest{
		MerchantID:     MerchantID,
		FiatAmount:     1000,
		FiatCurrency:   "USD",
		CryptoCurrency: "DOT",
		TTL:            ttl,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return intent
}

func (h *Harness) Intent(t testing.TB, id snowflake.ID) intentdomain.PaymentIntent {
	t.Helper()
	intent, err := h.Intents.FindByID(context.Background(), h.DB, id)
	if err != nil || intent == nil {
		t.Fatalf("load intent %s: %v", id, err)
	}
	return *intent
}

func (h *Harness) EventsFor(t testing.TB, id snowflake.ID) []*notificationdomain.Event {
	t.Helper()
	events, err := h.Events.ListByIntent(context.Background(), h.DB, id)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return events
}

// StaticQuotes answers every quote with Amount, or Err when set.
type StaticQuotes struct {
	Amount decimal.Decimal
	Err    error
	Calls  int
}

func (q *StaticQuotes) Quote(_ context.Context, _ quotedomain.Request) (quotedomain.Quote, error) {
	q.Calls++
	if q.Err != nil {
		return quotedomain.Quote{}, q.Err
	}
	return quotedomain.Quote{
		CryptoAmount: q.Amount,
		Rate:         decimal.NewFromInt(100),
		AsOf:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:       "static",
	}, nil
}
