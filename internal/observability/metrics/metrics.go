package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes settlement domain instruments exported over OTLP.
type Metrics struct {
	intentsCreated    metric.Int64Counter
	intentTransitions metric.Int64Counter
	transfersObserved metric.Int64Counter
	quoteRequests     metric.Int64Counter
	webhookDeliveries metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "settlement"
	}
	meter := provider.Meter(name)

	intentsCreated, err := meter.Int64Counter("settlement_intents_created_total")
	if err != nil {
		return nil, err
	}
	intentTransitions, err := meter.Int64Counter("settlement_intent_transitions_total")
	if err != nil {
		return nil, err
	}
	transfersObserved, err := meter.Int64Counter("settlement_transfers_observed_total")
	if err != nil {
		return nil, err
	}
	quoteRequests, err := meter.Int64Counter("settlement_quote_requests_total")
	if err != nil {
		return nil, err
	}
	webhookDeliveries, err := meter.Int64Counter("settlement_webhook_deliveries_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		intentsCreated:    intentsCreated,
		intentTransitions: intentTransitions,
		transfersObserved: transfersObserved,
		quoteRequests:     quoteRequests,
		webhookDeliveries: webhookDeliveries,
	}, nil
}

func (m *Metrics) RecordIntentCreated(ctx context.Context, cryptoCurrency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(cryptoCurrency)))
	m.intentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIntentTransition counts a committed status change.
func (m *Metrics) RecordIntentTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.intentTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransferObserved counts ledger transfers by how reconciliation disposed of them.
func (m *Metrics) RecordTransferObserved(ctx context.Context, chain, disposition string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("chain", chain),
		attribute.String("disposition", disposition),
	)
	m.transfersObserved.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordQuote(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	)
	m.quoteRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookDelivery(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"currency":    {},
	"from":        {},
	"to":          {},
	"chain":       {},
	"disposition": {},
	"source":      {},
	"outcome":     {},
	"event_type":  {},
	"route":       {},
	"method":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
