package observability

import (
	"github.com/smallbiznis/wowcoin/internal/observability/logger"
	"github.com/smallbiznis/wowcoin/internal/observability/metrics"
	"github.com/smallbiznis/wowcoin/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.loggerConfig,
		Config.tracingConfig,
		Config.metricsConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// The tracer provider has no consumers in the graph; it only installs itself globally.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
