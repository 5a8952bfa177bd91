// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/perfsampler/agent/metrics"

// MetricID is the type for metric IDs.
type MetricID uint16

// MetricValue is the type for metric values.
type MetricValue int64

// Metric is the type for a metric id/value pair.
type Metric struct {
	ID    MetricID
	Value MetricValue
}

// MetricType distinguishes monotonic counters from gauges.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// MetricDefinition is the JSON representation of one entry in metrics.json.
type MetricDefinition struct {
	Description string     `json:"description"`
	Type        MetricType `json:"type"`
	Name        string     `json:"name"`
	Field       string     `json:"field"`
	ID          MetricID   `json:"id"`
	Unit        string     `json:"unit,omitempty"`
	Obsolete    bool       `json:"obsolete,omitempty"`
}

// MetricsReporter receives the metrics of one second in a single call.
type MetricsReporter interface {
	ReportMetrics(timestamp uint32, ids []uint32, values []int64)
}
