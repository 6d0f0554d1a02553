package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/delivery"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	reconciliationdomain "github.com/smallbiznis/settlement/internal/reconciliation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIntents struct {
	intentdomain.Service
	calls  atomic.Int32
	limits []int
	mu     sync.Mutex
}

func (f *fakeIntents) ExpireOverdue(_ context.Context, limit int) (int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	return 2, nil
}

type fakeReconciler struct {
	mu        sync.Mutex
	reconcile []string
	confirm   []string
	err       error
}

func (f *fakeReconciler) Reconcile(_ context.Context, chain string) (reconciliationdomain.CycleSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcile = append(f.reconcile, chain)
	return reconciliationdomain.CycleSummary{Chain: chain, Matched: 1}, f.err
}

func (f *fakeReconciler) Confirm(_ context.Context, chain string, _ int) (reconciliationdomain.ConfirmSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirm = append(f.confirm, chain)
	return reconciliationdomain.ConfirmSummary{Chain: chain}, nil
}

type fakeOutbox struct {
	drains   atomic.Int32
	recovers atomic.Int32
	block    bool
}

func (f *fakeOutbox) Drain(ctx context.Context) (delivery.DrainSummary, error) {
	f.drains.Add(1)
	if f.block {
		<-ctx.Done()
		return delivery.DrainSummary{}, ctx.Err()
	}
	return delivery.DrainSummary{Claimed: 1, Delivered: 1}, nil
}

func (f *fakeOutbox) Recover(context.Context) (int64, error) {
	f.recovers.Add(1)
	return 0, nil
}

type upstreamErr struct{}

func (upstreamErr) Error() string  { return "rpc unavailable" }
func (upstreamErr) Upstream() bool { return true }

type fixture struct {
	sched      *Scheduler
	intents    *fakeIntents
	reconciler *fakeReconciler
	outbox     *fakeOutbox
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	policy := config.DefaultPolicy()
	policy.Chains = append(policy.Chains, config.ChainPolicy{Name: "polkadot", ConfirmationDepth: 3})

	f := &fixture{
		intents:    &fakeIntents{},
		reconciler: &fakeReconciler{},
		outbox:     &fakeOutbox{},
	}
	f.sched, err = New(Params{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Policy:     config.NewStaticPolicyHolder(policy),
		Intents:    f.intents,
		Reconciler: f.reconciler,
		Outbox:     f.outbox,
		Config:     cfg,
	})
	require.NoError(t, err)
	return f
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	f := newFixture(t, Config{ExpiryBatchSize: 7})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.ElementsMatch(t, []string{"ethereum", "polkadot"}, f.reconciler.reconcile)
	assert.ElementsMatch(t, []string{"ethereum", "polkadot"}, f.reconciler.confirm)
	assert.Equal(t, []int{7}, f.intents.limits)
	assert.Equal(t, int32(1), f.outbox.drains.Load())
	assert.Equal(t, int32(1), f.outbox.recovers.Load())
}

func TestEnabledJobsFilterByKindOrName(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"reconcile:polkadot", JobExpireIntents}})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, []string{"polkadot"}, f.reconciler.reconcile)
	assert.Empty(t, f.reconciler.confirm)
	assert.Equal(t, int32(1), f.intents.calls.Load())
	assert.Zero(t, f.outbox.drains.Load())
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.reconciler.err = errors.New("boom")

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// Later jobs still ran.
	assert.Equal(t, int32(1), f.outbox.drains.Load())
}

func TestJobTimeoutIsSoft(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobDeliverEvents}, JobTimeout: 20 * time.Millisecond})
	f.outbox.block = true

	err := f.sched.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(1), f.outbox.drains.Load())
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{
		EnabledJobs:      []string{JobDeliverEvents, JobExpireIntents},
		DeliveryInterval: 5 * time.Millisecond,
		ExpiryInterval:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.sched.Start(ctx)

	require.Eventually(t, func() bool {
		return f.outbox.drains.Load() >= 3 && f.intents.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		f.sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler loops did not stop")
	}
}

func TestTransientErrorsBackOff(t *testing.T) {
	f := newFixture(t, Config{
		EnabledJobs:       []string{"reconcile:ethereum"},
		ReconcileInterval: 5 * time.Millisecond,
		MaxRetryBackoff:   time.Hour,
	})
	f.reconciler.err = upstreamErr{}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	f.sched.Start(ctx)
	f.sched.Wait()

	f.reconciler.mu.Lock()
	calls := len(f.reconciler.reconcile)
	f.reconciler.mu.Unlock()

	// A fixed 5ms interval would give ~30 runs; backing off leaves far fewer.
	assert.GreaterOrEqual(t, calls, 2)
	assert.Less(t, calls, 15)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = Config{ExpiryBatchSize: 9}.withDefaults()
	assert.Equal(t, 9, cfg.ExpiryBatchSize)
}

func TestProvideConfigMapsEveryWorkerSetting(t *testing.T) {
	cfg := ProvideConfig(config.Config{Workers: config.WorkerConfig{
		EnabledJobs:      []string{JobConfirm},
		ConfirmBatchSize: 25,
		MaxRetryBackoff:  45 * time.Second,
		ExpiryBatchSize:  7,
		JobTimeout:       time.Second,
	}})

	assert.Equal(t, []string{JobConfirm}, cfg.EnabledJobs)
	assert.Equal(t, 25, cfg.ConfirmBatchSize)
	assert.Equal(t, 45*time.Second, cfg.MaxRetryBackoff)
	assert.Equal(t, 7, cfg.ExpiryBatchSize)
	assert.Equal(t, time.Second, cfg.JobTimeout)
}
