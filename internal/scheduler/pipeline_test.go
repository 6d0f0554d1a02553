package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/chain"
	"github.com/smallbiznis/settlement/internal/chain/buffer"
	chaindomain "github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/delivery"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	reconciliationdomain "github.com/smallbiznis/settlement/internal/reconciliation/domain"
	reconciliationengine "github.com/smallbiznis/settlement/internal/reconciliation/engine"
	reconciliationrepository "github.com/smallbiznis/settlement/internal/reconciliation/repository"
	"github.com/smallbiznis/settlement/internal/settlementtest"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	webhookrepository "github.com/smallbiznis/settlement/internal/webhookendpoint/repository"
	webhookservice "github.com/smallbiznis/settlement/internal/webhookendpoint/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pipelineAddress = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
	pipelineSecret  = "whsec_pipeline_secret"
)

type hook struct {
	body      []byte
	signature string
	eventType string
}

type hookSink struct {
	mu    sync.Mutex
	hooks []hook
}

func (s *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.hooks = append(s.hooks, hook{
		body:      body,
		signature: r.Header.Get(delivery.HeaderSignature),
		eventType: r.Header.Get(delivery.HeaderEventType),
	})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *hookSink) received() []hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hook(nil), s.hooks...)
}

type pipeline struct {
	*settlementtest.Harness
	ledger    *buffer.Buffer
	sink      *hookSink
	scheduler *Scheduler
}

// newPipeline wires the real stores, reconciler and outbox behind the
// scheduler, with the buffer ledger standing in for a chain node.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	h := settlementtest.New(t, now,
		&reconciliationdomain.LedgerTransfer{},
		&reconciliationdomain.Watermark{},
		&webhookdomain.Endpoint{},
	)
	h.RegisterAddresses(t, pipelineAddress)

	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		WebhookSecretKey: "pipeline-master-key",
		Delivery: config.DeliveryConfig{
			MaxAttempts:    3,
			BaseBackoff:    time.Second,
			MaxBackoff:     time.Minute,
			RequestTimeout: 2 * time.Second,
			Workers:        2,
			BatchSize:      10,
			ClaimTimeout:   time.Minute,
		},
	}
	endpoints := webhookservice.New(webhookservice.Params{
		DB:    h.DB,
		Log:   h.Log,
		GenID: h.GenID,
		Clock: h.Clock,
		Cfg:   cfg,
		Repo:  webhookrepository.Provide(),
	})
	_, err := endpoints.Upsert(context.Background(), webhookdomain.UpsertRequest{
		MerchantID: settlementtest.MerchantID,
		URL:        srv.URL + "/settlement",
		Secret:     pipelineSecret,
	})
	require.NoError(t, err)

	ledger := buffer.New("polkadot", 0)
	reconciler := reconciliationengine.New(reconciliationengine.Params{
		DB:          h.DB,
		Log:         h.Log,
		GenID:       h.GenID,
		Clock:       h.Clock,
		Policy:      h.Policy,
		Readers:     chain.NewRegistry(ledger),
		Repo:        reconciliationrepository.Provide(),
		Intents:     h.Intents,
		Addresses:   h.Addresses,
		Transitions: h.Transitions,
	})
	outbox := delivery.New(delivery.Params{
		DB:        h.DB,
		Log:       h.Log,
		GenID:     h.GenID,
		Clock:     h.Clock,
		Cfg:       cfg,
		Events:    h.Events,
		Endpoints: endpoints,
	})

	s, err := New(Params{
		Log:        h.Log,
		GenID:      h.GenID,
		Clock:      h.Clock,
		Policy:     h.Policy,
		Intents:    h.Service,
		Reconciler: reconciler,
		Outbox:     outbox,
	})
	require.NoError(t, err)

	return &pipeline{Harness: h, ledger: ledger, sink: sink, scheduler: s}
}

func TestPipelinePaymentIsSettledAndAnnounced(t *testing.T) {
	p := newPipeline(t)
	intent := p.CreateIntent(t, 0)

	p.ledger.Push(1, []chaindomain.Transfer{{
		TxRef:     "0xfeed",
		ToAddress: pipelineAddress,
		Asset:     "DOT",
		Amount:    decimal.RequireFromString("0.1"),
		Position:  1,
	}})
	p.ledger.Push(2, nil)
	p.ledger.Push(3, nil)

	require.NoError(t, p.scheduler.RunOnce(context.Background()))
	assert.Len(t, p.sink.received(), 1, "succeeded waits until processing is delivered")

	require.NoError(t, p.scheduler.RunOnce(context.Background()))

	settled := p.Intent(t, intent.ID)
	assert.Equal(t, intentdomain.StatusSucceeded, settled.Status)
	require.NotNil(t, settled.TxRef)
	assert.Equal(t, "0xfeed", *settled.TxRef)

	hooks := p.sink.received()
	require.Len(t, hooks, 2)
	wantTypes := []notificationdomain.EventType{
		notificationdomain.EventPaymentIntentProcessing,
		notificationdomain.EventPaymentIntentSucceeded,
	}
	for i, got := range hooks {
		assert.True(t, delivery.Verify([]byte(pipelineSecret), got.body, got.signature))
		assert.Equal(t, string(wantTypes[i]), got.eventType)

		var envelope notificationdomain.Envelope
		require.NoError(t, json.Unmarshal(got.body, &envelope))
		assert.Equal(t, wantTypes[i], envelope.Type)
		assert.Equal(t, intent.ID.String(), envelope.Data.ID)
	}

	for _, event := range p.EventsFor(t, intent.ID) {
		assert.Equal(t, notificationdomain.EventStatusDelivered, event.Status)
	}
}

func TestPipelineReplayIsQuiet(t *testing.T) {
	p := newPipeline(t)
	intent := p.CreateIntent(t, 0)

	p.ledger.Push(1, []chaindomain.Transfer{{
		TxRef:     "0xbeef",
		ToAddress: pipelineAddress,
		Asset:     "DOT",
		Amount:    decimal.RequireFromString("0.1"),
		Position:  1,
	}})
	p.ledger.Push(2, nil)
	p.ledger.Push(3, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.scheduler.RunOnce(context.Background()))
	}

	assert.Equal(t, intentdomain.StatusSucceeded, p.Intent(t, intent.ID).Status)
	assert.Len(t, p.EventsFor(t, intent.ID), 2)
	assert.Len(t, p.sink.received(), 2)
}

func TestPipelineCanceledIntentIgnoresLatePayment(t *testing.T) {
	p := newPipeline(t)
	intent := p.CreateIntent(t, 0)

	_, err := p.Service.Cancel(context.Background(), intentdomain.CancelIntentRequest{
		MerchantID: settlementtest.MerchantID,
		ID:         intent.ID.String(),
	})
	require.NoError(t, err)

	p.ledger.Push(1, []chaindomain.Transfer{{
		TxRef:     "0xlate",
		ToAddress: pipelineAddress,
		Asset:     "DOT",
		Amount:    decimal.RequireFromString("0.1"),
		Position:  1,
	}})

	require.NoError(t, p.scheduler.RunOnce(context.Background()))

	assert.Equal(t, intentdomain.StatusCanceled, p.Intent(t, intent.ID).Status)
	hooks := p.sink.received()
	require.Len(t, hooks, 1)
	assert.Equal(t, string(notificationdomain.EventPaymentIntentCanceled), hooks[0].eventType)
}
