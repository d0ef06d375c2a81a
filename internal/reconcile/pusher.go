package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/wowcoin/internal/config"
	obstracing "github.com/smallbiznis/wowcoin/internal/observability/tracing"
)

const (
	ExporterPushgateway = "pushgateway"
	ExporterRemoteWrite = "remote_write"

	pushTimeout = 5 * time.Second
)

// Pusher ships the metrics of one reconcile run. A run is a short-lived batch job, so
// nothing would be around to serve a scrape.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// NewPusher builds the configured pusher. It returns nil, nil when pushing is off.
func NewPusher(cfg config.Config) (Pusher, error) {
	rc := cfg.Reconcile
	switch rc.PushExporter {
	case "":
		return nil, nil
	case ExporterPushgateway:
		if rc.PushEndpoint == "" {
			return nil, errors.New("RECONCILE_PUSH_ENDPOINT is required for pushgateway")
		}
		return NewPushgatewayPusher(rc.PushEndpoint, "wowcoin_reconcile", map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
		}), nil
	case ExporterRemoteWrite:
		if _, err := url.ParseRequestURI(rc.PushEndpoint); err != nil {
			return nil, fmt.Errorf("invalid RECONCILE_PUSH_ENDPOINT: %w", err)
		}
		return NewRemoteWritePusher(rc.PushEndpoint, rc.PushAuthToken, time.Now), nil
	default:
		return nil, fmt.Errorf("unsupported reconcile exporter %q", rc.PushExporter)
	}
}

// RemoteWritePusher writes gauges and counters straight into a Prometheus
// compatible remote_write endpoint.
type RemoteWritePusher struct {
	endpoint  string
	authToken string
	client    *http.Client
	now       func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string, now func() time.Time) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(authToken),
		client:    obstracing.WrapHTTPClient(&http.Client{Timeout: pushTimeout}),
		now:       now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	series := remoteWriteSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{Timeseries: series}
	payload, err := req.Marshal()
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

// PushgatewayPusher replaces the job's metric group on a Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{endpoint: endpoint, job: job, grouping: grouping}
}

func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	pusher := push.New(p.endpoint, p.job).
		Gatherer(registry).
		Client(obstracing.WrapHTTPClient(&http.Client{Timeout: pushTimeout}))
	for key, value := range p.grouping {
		if key = strings.TrimSpace(key); key != "" && strings.TrimSpace(value) != "" {
			pusher = pusher.Grouping(key, strings.TrimSpace(value))
		}
	}
	return pusher.PushContext(ctx)
}

// remoteWriteSeries flattens counters and gauges into one sample per series.
// Histograms and summaries are not produced by reconcile runs.
func remoteWriteSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			var value float64
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = metric.GetGauge().GetValue()
			default:
				continue
			}

			labels := []prompb.Label{{Name: "__name__", Value: family.GetName()}}
			for _, label := range metric.GetLabel() {
				labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
			}
			sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

			series = append(series, prompb.TimeSeries{
				Labels:  labels,
				Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
			})
		}
	}
	return series
}
