package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/delivery"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	"github.com/smallbiznis/settlement/internal/lock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/settlement/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcile         = "reconcile"
	JobConfirm           = "confirm"
	JobExpireIntents     = "expire_intents"
	JobDeliverEvents     = "deliver_events"
	JobRecoverDeliveries = "recover_deliveries"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Intents    intentdomain.Service
	Reconciler reconciliationdomain.Engine
	Outbox     delivery.Outbox
	Locker     *lock.Locker                 `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

// Scheduler runs the settlement background loops. Each job has its own
// goroutine so a slow chain never delays expiry or delivery.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyHolder
	intents    intentdomain.Service
	reconciler reconciliationdomain.Engine
	outbox     delivery.Outbox
	locker     *lock.Locker
	metrics    *obsmetrics.SchedulerMetrics

	wg sync.WaitGroup
}

type job struct {
	name     string
	kind     string
	interval time.Duration
	batch    int
	lockKey  string
	run      func(ctx context.Context) (int, error)
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Policy == nil ||
		p.Intents == nil || p.Reconciler == nil || p.Outbox == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		intents:    p.Intents,
		reconciler: p.Reconciler,
		outbox:     p.Outbox,
		locker:     p.Locker,
		metrics:    p.Metrics,
	}, nil
}

func (s *Scheduler) jobs() []job {
	var jobs []job
	for _, chain := range s.policy.Get().Chains {
		name := chain.Name
		jobs = append(jobs,
			job{
				name:     JobReconcile + ":" + name,
				kind:     JobReconcile,
				interval: s.cfg.ReconcileInterval,
				lockKey:  "reconcile:" + name,
				run: func(ctx context.Context) (int, error) {
					summary, err := s.reconciler.Reconcile(ctx, name)
					return summary.Matched + summary.Mismatched + summary.Unexpected, err
				},
			},
			job{
				name:     JobConfirm + ":" + name,
				kind:     JobConfirm,
				interval: s.cfg.ConfirmInterval,
				batch:    s.cfg.ConfirmBatchSize,
				lockKey:  "confirm:" + name,
				run: func(ctx context.Context) (int, error) {
					summary, err := s.reconciler.Confirm(ctx, name, s.cfg.ConfirmBatchSize)
					return summary.Succeeded + summary.Vetoed, err
				},
			},
		)
	}

	jobs = append(jobs,
		job{
			name:     JobExpireIntents,
			kind:     JobExpireIntents,
			interval: s.cfg.ExpiryInterval,
			batch:    s.cfg.ExpiryBatchSize,
			run: func(ctx context.Context) (int, error) {
				return s.intents.ExpireOverdue(ctx, s.cfg.ExpiryBatchSize)
			},
		},
		job{
			name:     JobDeliverEvents,
			kind:     JobDeliverEvents,
			interval: s.cfg.DeliveryInterval,
			run: func(ctx context.Context) (int, error) {
				summary, err := s.outbox.Drain(ctx)
				return summary.Claimed, err
			},
		},
		job{
			name:     JobRecoverDeliveries,
			kind:     JobRecoverDeliveries,
			interval: s.cfg.RecoveryInterval,
			run: func(ctx context.Context) (int, error) {
				released, err := s.outbox.Recover(ctx)
				return int(released), err
			},
		},
	)

	enabled := jobs[:0]
	for _, j := range jobs {
		if s.isJobEnabled(j) {
			enabled = append(enabled, j)
		}
	}
	return enabled
}

// RunOnce runs every enabled job a single time, in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range s.jobs() {
		if err := s.runJob(ctx, j); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

// Start launches one loop per enabled job. Loops stop when ctx is done;
// Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	jobs := s.jobs()
	s.log.Info("scheduler started", zap.Int("jobs", len(jobs)))
	for _, j := range jobs {
		s.wg.Add(1)
		go func(j job) {
			defer s.wg.Done()
			s.loop(ctx, j)
		}(j)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = j.interval
	retry.MaxInterval = s.cfg.MaxRetryBackoff

	timer := time.NewTimer(0)
	defer timer.Stop()
	due := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.metrics.ObserveRunLoopLag(j.name, time.Since(due))

		wait := j.interval
		if err := s.runJob(ctx, j); err != nil && obsmetrics.IsSchedulerErrorRetryable(err) {
			wait = retry.NextBackOff()
		} else {
			retry.Reset()
		}
		due = time.Now().Add(wait)
		timer.Reset(wait)
	}
}

func (s *Scheduler) runJob(parent context.Context, j job) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx, run := s.startJobRun(ctx, j.name, j.batch)

	if j.lockKey != "" && s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(ctx, j.lockKey, s.cfg.ReconcileLockTTL)
		if err != nil {
			s.metrics.IncJobError(j.name, err)
			s.logJobError(ctx, run, err, zap.String("lock_key", j.lockKey))
			return err
		}
		if !ok {
			s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", j.name), zap.String("reason", "lock_held"))
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), j.lockKey, token); err != nil {
				s.logger(ctx).Warn("scheduler.lock.release_failed", zap.String("lock_key", j.lockKey), zap.Error(err))
			}
		}()
	}

	s.metrics.IncJobRun(j.name)
	started := time.Now()
	processed, err := j.run(ctx)
	s.metrics.ObserveJobDuration(j.name, time.Since(started))
	run.AddProcessed(processed)
	if processed > 0 {
		s.metrics.AddBatchProcessed(j.kind, resourceFor(j.kind), processed)
	}

	defer s.logJobFinish(ctx, run)

	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		// Work committed before the deadline stands; the next tick resumes.
		s.metrics.IncJobTimeout(j.name)
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", j.name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	s.metrics.IncJobError(j.name, err)
	s.logJobError(ctx, run, err)
	return err
}

func (s *Scheduler) isJobEnabled(j job) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, name := range s.cfg.EnabledJobs {
		if name == j.name || name == j.kind {
			return true
		}
	}
	return false
}

func resourceFor(kind string) string {
	switch kind {
	case JobReconcile:
		return "ledger_transfers"
	case JobConfirm, JobExpireIntents:
		return "payment_intents"
	default:
		return "notification_events"
	}
}
