// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	result chan []Metric
}

func (f fakeReporter) ReportMetrics(_ uint32, ids []uint32, values []int64) {
	metricsResult := make([]Metric, len(ids))

	for j := range ids {
		metricsResult[j].ID = MetricID(ids[j])
		metricsResult[j].Value = MetricValue(values[j])
	}

	f.result <- metricsResult
}

func TestMetrics(t *testing.T) {
	reporter := &fakeReporter{result: make(chan []Metric, 128)}
	SetReporter(reporter)
	defer SetReporter(nil)

	// Make sure the Add/AddSlice calls below happen within the same second.
	time.Sleep(1*time.Second - time.Duration(time.Now().Nanosecond()))

	inputMetrics := []Metric{
		{IDCookiesIssued, MetricValue(33)},
		{IDCookieCacheHit, MetricValue(55)},
		{IDDeferredEnqueued, MetricValue(66)},
		{IDExternalBytes, MetricValue(20)},
		{IDDeferredDropped, MetricValue(0)},
	}

	AddSlice(inputMetrics[0:2])                    // 33, 55
	Add(inputMetrics[1].ID, inputMetrics[1].Value) // 55, dropped
	Add(inputMetrics[2].ID, inputMetrics[2].Value) // 66
	AddSlice(inputMetrics[3:4])                    // 20
	AddSlice(inputMetrics[2:5])                    // 66 dropped, 20 dropped, 0 dropped

	// Counters with a 0 value never show up.
	inputMetrics = inputMetrics[:4]

	time.Sleep(1 * time.Second)
	AddSlice(nil)

	select {
	case outputMetrics := <-reporter.result:
		assert.Equal(t, inputMetrics, outputMetrics)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for metrics")
	}
}

func TestDefinitionsMatchIDs(t *testing.T) {
	defs := GetDefinitions()
	require.Len(t, defs, IDMax-1)
	seen := map[MetricID]bool{}
	for _, d := range defs {
		assert.Greater(t, d.ID, MetricID(IDInvalid))
		assert.Less(t, d.ID, MetricID(IDMax))
		assert.False(t, seen[d.ID], "duplicate id %d", d.ID)
		seen[d.ID] = true
	}
}
