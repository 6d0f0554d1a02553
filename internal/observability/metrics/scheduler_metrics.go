package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUpstream         = "upstream"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUpstream             = "upstream_unavailable"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	DeliveryOutcomeDelivered = "delivered"
	DeliveryOutcomeRetrying  = "retrying"
	DeliveryOutcomeFailed    = "failed"
)

// upstreamError is implemented by errors from ledger readers and quote sources
// that mark an external dependency as temporarily unavailable.
type upstreamError interface {
	Upstream() bool
}

// SchedulerMetrics captures worker loop health for reconciliation and delivery SLOs.
type SchedulerMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	batchProcessed   *prometheus.CounterVec
	runLoopLag       *prometheus.HistogramVec
	watermark        *prometheus.GaugeVec
	chainHead        *prometheus.GaugeVec
	stuckBlock       *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	deliveryOutcomes *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec
	outboxBacklog    prometheus.Gauge
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton worker metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton worker metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the singleton so tests can swap registerers.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "settlement"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_job_runs_total",
			Help:        "Worker job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "settlement_scheduler_job_duration_seconds",
			Help:        "Worker job latency.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_job_timeouts_total",
			Help:        "Worker jobs that hit their iteration timeout.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_job_errors_total",
			Help:        "Worker job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_batch_processed_total",
			Help:        "Items processed by worker jobs.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
		runLoopLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "settlement_scheduler_runloop_lag_seconds",
			Help:        "Delay between a loop's scheduled tick and its actual start.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "settlement_reconciliation_watermark_height",
			Help:        "Highest fully processed block per chain.",
			ConstLabels: constLabels,
		}, []string{"chain"}),
		chainHead: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "settlement_reconciliation_chain_head_height",
			Help:        "Latest height reported by the ledger reader per chain.",
			ConstLabels: constLabels,
		}, []string{"chain"}),
		stuckBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "settlement_reconciliation_stuck_block_height",
			Help:        "Height of a block that could not be decoded; zero when healthy.",
			ConstLabels: constLabels,
		}, []string{"chain"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_intent_transition_total",
			Help:        "Payment intent status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		deliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_webhook_delivery_total",
			Help:        "Webhook delivery attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "settlement_webhook_delivery_duration_seconds",
			Help:        "Merchant endpoint response time.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "settlement_outbox_backlog",
			Help:        "Notification events pending delivery at the last drain.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.runLoopLag,
		m.watermark,
		m.chainHead,
		m.stuckBlock,
		m.transitions,
		m.deliveryOutcomes,
		m.deliveryLatency,
		m.outboxBacklog,
	)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *SchedulerMetrics) ObserveRunLoopLag(job string, lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.WithLabelValues(job).Observe(lag.Seconds())
}

func (m *SchedulerMetrics) SetWatermark(chain string, height uint64) {
	if m == nil {
		return
	}
	m.watermark.WithLabelValues(chain).Set(float64(height))
}

func (m *SchedulerMetrics) SetChainHead(chain string, height uint64) {
	if m == nil {
		return
	}
	m.chainHead.WithLabelValues(chain).Set(float64(height))
}

// SetStuckBlock flags a block the reconciler refuses to skip. Pass zero to clear.
func (m *SchedulerMetrics) SetStuckBlock(chain string, height uint64) {
	if m == nil {
		return
	}
	m.stuckBlock.WithLabelValues(chain).Set(float64(height))
}

func (m *SchedulerMetrics) IncIntentTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *SchedulerMetrics) ObserveDelivery(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryOutcomes.WithLabelValues(outcome).Inc()
	m.deliveryLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) SetOutboxBacklog(count int) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(count))
}

// ClassifySchedulerErrorType returns a low-cardinality error type for logging.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerErrorTypeDeadlineExceeded
	case isUpstreamError(err):
		return SchedulerErrorTypeUpstream
	case isDBError(err):
		return SchedulerErrorTypeDB
	default:
		return SchedulerErrorTypeBusinessRule
	}
}

// IsSchedulerErrorRetryable reports whether the next loop iteration may succeed.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isUpstreamError(err) || isDBError(err)
}

// ClassifySchedulerJobReason maps job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case isUpstreamError(err):
		return SchedulerJobReasonUpstream
	case hasPGCode(err, "55P03"):
		return SchedulerJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SchedulerJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return SchedulerJobReasonUniqueViolation
	default:
		return SchedulerJobReasonUnknown
	}
}

func isUpstreamError(err error) bool {
	var upstream upstreamError
	return errors.As(err, &upstream) && upstream.Upstream()
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	return errors.Is(err, gorm.ErrInvalidTransaction) || errors.Is(err, gorm.ErrDuplicatedKey)
}
