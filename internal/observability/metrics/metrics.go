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
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

// Outcomes recorded on ledger mutations.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomeUnavailable  = "unavailable"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the ledger and gate instruments. A nil *Metrics records nothing.
type Metrics struct {
	mutations     metric.Int64Counter
	coins         metric.Int64Counter
	gateDecisions metric.Int64Counter
	lockTimeouts  metric.Int64Counter
}

// NewProvider installs the global meter provider. With metrics disabled it is a no-op
// provider so instruments can still be created.
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
	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", serviceName(cfg)),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
	}
	if log != nil {
		log.Info("otel metrics exporting",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
			zap.Duration("interval", exportInterval),
		)
	}
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(serviceName(cfg))

	var (
		m    Metrics
		errs []error
	)
	counter := func(dst *metric.Int64Counter, name, unit, description string) {
		c, err := meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = c
	}
	counter(&m.mutations, "wowcoin_ledger_mutations_total", "{mutation}", "Ledger writes by operation, reason and outcome.")
	counter(&m.coins, "wowcoin_ledger_coins_total", "{coin}", "Coins moved by successful ledger writes.")
	counter(&m.gateDecisions, "wowcoin_usage_gate_decisions_total", "{decision}", "Usage gate results per feature.")
	counter(&m.lockTimeouts, "wowcoin_ledger_lock_timeouts_total", "{timeout}", "Account lock waits that ran out.")
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &m, nil
}

// RecordLedgerMutation counts one ledger write attempt. amount is added to the coin
// counter only for successful writes.
func (m *Metrics) RecordLedgerMutation(ctx context.Context, operation, reason, outcome string, amount int64) {
	if m == nil {
		return
	}
	opt := labels(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
		attribute.String("outcome", outcome),
	)
	m.mutations.Add(ctx, 1, opt)
	if outcome == OutcomeOK && amount > 0 {
		m.coins.Add(ctx, amount, opt)
	}
}

func (m *Metrics) RecordGateDecision(ctx context.Context, feature, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.Add(ctx, 1, labels(
		attribute.String("feature", feature),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordLockTimeout(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.lockTimeouts.Add(ctx, 1, labels(attribute.String("operation", operation)))
}

func labels(attrs ...attribute.KeyValue) metric.AddOption {
	for i, attr := range attrs {
		if attr.Value.Type() == attribute.STRING {
			attrs[i] = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
		}
	}
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

func serviceName(cfg Config) string {
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		return name
	}
	return "wowcoin"
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// lowCardinality lists the only label keys instruments may carry. User ids in
// particular never become labels.
var lowCardinality = map[attribute.Key]bool{
	"operation":   true,
	"reason":      true,
	"outcome":     true,
	"feature":     true,
	"endpoint":    true,
	"method":      true,
	"status_code": true,
}

// FilterAttributes drops every attribute whose key is not a known low-cardinality label.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if lowCardinality[attr.Key] {
			kept = append(kept, attr)
		}
	}
	return kept
}
