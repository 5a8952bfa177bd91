// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfsampler/agent/internal/controller"

import (
	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/metrics"
)

// logReporter dumps every metric batch at debug level.
type logReporter struct{}

var metricNames = func() map[uint32]string {
	names := make(map[uint32]string)
	for _, md := range metrics.GetDefinitions() {
		names[uint32(md.ID)] = md.Name
	}
	return names
}()

func (logReporter) ReportMetrics(timestamp uint32, ids []uint32, values []int64) {
	for i, id := range ids {
		log.Debugf("Metric %s=%d at %d", metricNames[id], values[i], timestamp)
	}
}
