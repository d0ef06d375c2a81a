package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "deduct"),
		attribute.String("user_id", "u-1"),
		attribute.String("reason", "card-scan"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("operation"), attrs[0].Key)
	assert.Equal(t, attribute.Key("reason"), attrs[1].Key)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordLedgerMutation(context.Background(), "deduct", "card-scan", OutcomeOK, 1)
	m.RecordGateDecision(context.Background(), "export", "denied")
	m.RecordLockTimeout(context.Background(), "credit")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordLedgerMutation(context.Background(), "credit", "bonus", OutcomeOK, 20)
}
