package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/observability/tracing"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	userAgent       = "settlement-webhooks/1"
	maxResponseBody = 64 << 10
	maxErrorLength  = 500

	bookkeepingTimeout = 5 * time.Second
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       config.Config
	Events    notificationdomain.Repository
	Endpoints webhookdomain.Service
	Client    *http.Client              `optional:"true"`
	Metrics   *metrics.Metrics          `optional:"true"`
	Scheduler *metrics.SchedulerMetrics `optional:"true"`
}

// Engine drains the notification outbox to merchant endpoints. Only the
// worker that wins the PENDING to RETRYING claim sends an event.
type Engine struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       config.DeliveryConfig
	events    notificationdomain.Repository
	endpoints webhookdomain.Service
	client    *http.Client
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	scheduler *metrics.SchedulerMetrics
}

type DrainSummary struct {
	Due       int
	Claimed   int
	Delivered int
	Retrying  int
	Failed    int
	LostClaim int
}

func New(p Params) *Engine {
	cfg := p.Cfg.Delivery
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Engine{
		db:        p.DB,
		log:       p.Log.Named("delivery.engine"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       cfg,
		events:    p.Events,
		endpoints: p.Endpoints,
		client:    client,
		tracer:    otel.Tracer("settlement/delivery"),
		metrics:   p.Metrics,
		scheduler: p.Scheduler,
	}
}

// Drain sends due events. Due events are split into partitions by intent so
// one intent's events never go out concurrently, and each event is claimed
// only right before its send. Once ctx is done no further event is claimed;
// unclaimed events stay PENDING for the next drain.
func (e *Engine) Drain(ctx context.Context) (DrainSummary, error) {
	var summary DrainSummary

	due, err := e.events.ListDue(ctx, e.db, e.clock.Now(), e.cfg.BatchSize)
	if err != nil {
		return summary, err
	}
	summary.Due = len(due)

	partitions := make([][]*notificationdomain.Event, e.cfg.Workers)
	for _, event := range due {
		slot := partitionOf(event.IntentID, len(partitions))
		partitions[slot] = append(partitions[slot], event)
	}

	results := make([]partitionResult, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i := range partitions {
		if len(partitions[i]) == 0 {
			continue
		}
		g.Go(func() error {
			results[i] = e.drainPartition(gctx, partitions[i])
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		summary.Claimed += res.claimed
		summary.Delivered += res.delivered
		summary.Retrying += res.retrying
		summary.Failed += res.failed
		summary.LostClaim += res.lost
		errs = append(errs, res.errs...)
	}

	bookCtx, cancel := e.bookkeepingContext(ctx)
	defer cancel()
	if backlog, err := e.events.CountBacklog(bookCtx, e.db); err == nil {
		e.scheduler.SetOutboxBacklog(int(backlog))
	}
	return summary, errors.Join(errs...)
}

type partitionResult struct {
	claimed   int
	delivered int
	retrying  int
	failed    int
	lost      int
	errs      []error
}

func (e *Engine) drainPartition(ctx context.Context, events []*notificationdomain.Event) partitionResult {
	var res partitionResult
	for _, event := range events {
		if ctx.Err() != nil {
			return res
		}

		won, err := e.events.Claim(ctx, e.db, event.ID, e.clock.Now())
		if err != nil {
			if ctx.Err() != nil {
				return res
			}
			res.errs = append(res.errs, fmt.Errorf("claim %s: %w", event.ID, err))
			continue
		}
		if !won {
			continue
		}
		res.claimed++
		event.Status = notificationdomain.EventStatusRetrying

		status, settled, err := e.deliver(ctx, event)
		if err != nil {
			e.log.Error("delivery bookkeeping failed",
				zap.String("event_id", event.ID.String()),
				zap.String("intent_id", event.IntentID.String()),
				zap.Int("attempt", event.AttemptCount+1),
				zap.Error(err),
			)
			res.errs = append(res.errs, fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		if !settled {
			res.lost++
			continue
		}
		switch status {
		case notificationdomain.EventStatusDelivered:
			res.delivered++
		case notificationdomain.EventStatusFailed:
			res.failed++
		default:
			res.retrying++
		}
	}
	return res
}

// bookkeepingContext outlives a cancelled drain so an attempt that was
// already made is still recorded.
func (e *Engine) bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// deliver makes one attempt for a claimed event and records its outcome.
func (e *Engine) deliver(ctx context.Context, event *notificationdomain.Event) (notificationdomain.EventStatus, bool, error) {
	attempt := event.AttemptCount + 1
	ctx, span := e.tracer.Start(ctx, "webhook.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			attribute.String("event_id", event.ID.String()),
			attribute.String("intent_id", event.IntentID.String()),
			attribute.String("event_type", string(event.EventType)),
			attribute.Int("attempt", attempt),
		)...),
	)
	defer span.End()

	started := time.Now()
	statusCode, sendErr := e.send(ctx, event, attempt)
	elapsed := time.Since(started)
	if sendErr != nil {
		span.RecordError(tracing.SafeError(sendErr))
		span.SetStatus(codes.Error, "delivery failed")
	}
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}

	now := e.clock.Now()
	record := notificationdomain.Attempt{
		ID:          e.genID.Generate(),
		EventID:     event.ID,
		Attempt:     attempt,
		DurationMS:  elapsed.Milliseconds(),
		Succeeded:   sendErr == nil,
		AttemptedAt: now,
	}
	if statusCode > 0 {
		code := statusCode
		record.StatusCode = &code
	}
	if sendErr != nil {
		msg := truncate(sendErr.Error(), maxErrorLength)
		record.Error = &msg
	}

	outcome := notificationdomain.AttemptOutcome{
		Attempt:     record,
		Status:      notificationdomain.EventStatusDelivered,
		NextRetryAt: now,
		Now:         now,
	}
	label := metrics.DeliveryOutcomeDelivered
	switch {
	case sendErr == nil:
	case attempt >= e.cfg.MaxAttempts:
		outcome.Status = notificationdomain.EventStatusFailed
		label = metrics.DeliveryOutcomeFailed
	default:
		outcome.Status = notificationdomain.EventStatusPending
		outcome.NextRetryAt = now.Add(Backoff(attempt, e.cfg.BaseBackoff, e.cfg.MaxBackoff))
		label = metrics.DeliveryOutcomeRetrying
	}

	bookCtx, cancel := e.bookkeepingContext(ctx)
	defer cancel()
	settled, err := e.events.Complete(bookCtx, e.db, outcome)
	if err != nil {
		return "", false, err
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("intent_id", event.IntentID.String()),
		zap.String("event_type", string(event.EventType)),
		zap.Int("attempt", attempt),
		zap.Int("status_code", statusCode),
		zap.Duration("duration", elapsed),
	}
	if !settled {
		e.log.Warn("delivery claim lost before completion", fields...)
		return outcome.Status, false, nil
	}

	e.scheduler.ObserveDelivery(label, elapsed)
	e.metrics.RecordWebhookDelivery(ctx, string(event.EventType), label)
	switch outcome.Status {
	case notificationdomain.EventStatusDelivered:
		e.log.Info("event delivered", fields...)
	case notificationdomain.EventStatusFailed:
		e.log.Error("event delivery exhausted", append(fields, zap.Error(sendErr))...)
	default:
		e.log.Warn("event delivery failed, will retry",
			append(fields, zap.Time("next_retry_at", outcome.NextRetryAt), zap.Error(sendErr))...)
	}
	return outcome.Status, true, nil
}

// send POSTs the stored payload bytes. It returns the response status, if
// any, and a non-nil error for anything but a 2xx.
func (e *Engine) send(ctx context.Context, event *notificationdomain.Event, attempt int) (int, error) {
	target, err := e.endpoints.Resolve(ctx, event.MerchantID)
	if err != nil {
		return 0, fmt.Errorf("resolve endpoint: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return 0, err
	}
	eventID := event.ID.String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, Sign(target.Secret, event.Payload))
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderIdempotencyKey, eventID)
	req.Header.Set(HeaderEventType, string(event.EventType))
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// Recover settles events stuck in RETRYING past the claim timeout, which is
// what a crashed worker leaves behind. An expired claim counts as an attempt,
// so an event that keeps crashing its worker still reaches FAILED.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	timeout := e.cfg.ClaimTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	now := e.clock.Now()
	result, err := e.events.ReleaseStale(ctx, e.db, now.Add(-timeout), now, e.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if result.Released > 0 || result.Failed > 0 {
		e.log.Warn("settled stale delivery claims",
			zap.Int64("released", result.Released),
			zap.Int64("failed", result.Failed),
		)
	}
	return result.Released + result.Failed, nil
}

func partitionOf(intentID snowflake.ID, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(intentID.String()))
	return int(h.Sum32() % uint32(n))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
