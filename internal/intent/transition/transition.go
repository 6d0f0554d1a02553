package transition

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Intents   intentdomain.Repository
	Events    notificationdomain.Repository
	Metrics   *metrics.Metrics          `optional:"true"`
	Scheduler *metrics.SchedulerMetrics `optional:"true"`
}

// Transitioner is the only writer of intent status. Each status write and the
// event announcing it commit together or not at all.
type Transitioner struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	intents   intentdomain.Repository
	events    notificationdomain.Repository
	metrics   *metrics.Metrics
	scheduler *metrics.SchedulerMetrics
}

func New(p Params) *Transitioner {
	return &Transitioner{
		db:        p.DB,
		log:       p.Log.Named("intent.transition"),
		genID:     p.GenID,
		intents:   p.Intents,
		events:    p.Events,
		metrics:   p.Metrics,
		scheduler: p.Scheduler,
	}
}

type Result struct {
	Intent intentdomain.PaymentIntent
	Event  notificationdomain.Event
}

// Apply runs inside the caller's transaction. It returns
// ErrInvalidStateTransition when the row is no longer in req.From or falls
// outside the requested expiry window.
func (t *Transitioner) Apply(ctx context.Context, tx *gorm.DB, req intentdomain.TransitionParams) (Result, error) {
	if !intentdomain.CanTransition(req.From, req.To) {
		return Result{}, intentdomain.ErrInvalidStateTransition
	}

	changed, err := t.intents.Transition(ctx, tx, req)
	if err != nil {
		return Result{}, fmt.Errorf("update intent %s: %w", req.ID, err)
	}
	if !changed {
		return Result{}, intentdomain.ErrInvalidStateTransition
	}

	intent, err := t.intents.FindByID(ctx, tx, req.ID)
	if err != nil {
		return Result{}, err
	}
	if intent == nil {
		return Result{}, intentdomain.ErrNotFound
	}

	event, err := notificationdomain.NewEvent(t.genID.Generate(), *intent, req.Now)
	if err != nil {
		return Result{}, err
	}
	if err := t.events.Insert(ctx, tx, event); err != nil {
		return Result{}, fmt.Errorf("enqueue %s: %w", event.EventType, err)
	}

	return Result{Intent: *intent, Event: *event}, nil
}

// Run applies req in its own transaction and records the transition once committed.
func (t *Transitioner) Run(ctx context.Context, req intentdomain.TransitionParams) (Result, error) {
	var result Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := t.Apply(ctx, tx, req)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	t.Committed(ctx, req.From, result)
	return result, nil
}

// Committed reports a transition after its transaction commits.
func (t *Transitioner) Committed(ctx context.Context, from intentdomain.Status, result Result) {
	t.metrics.RecordIntentTransition(ctx, string(from), string(result.Intent.Status))
	t.scheduler.IncIntentTransition(string(from), string(result.Intent.Status))
	t.log.Info("intent transitioned",
		zap.String("intent_id", result.Intent.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(result.Intent.Status)),
		zap.String("event_id", result.Event.ID.String()),
		zap.String("event_type", string(result.Event.EventType)),
	)
}
