// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics collects internal counters of the agent (cookie cache behaviour, deferred
resolution, external producer relaying) and exports them through OpenTelemetry.

Metrics are buffered per second: every Add/AddSlice call with a new timestamp flushes the
values collected for the previous second. Each metric ID is reported at most once per
second, so producers are expected to pre-aggregate (for example by swapping an atomic
counter to zero) before calling AddSlice.

	metrics
	├── doc.go          // this file
	├── ids.go          // metric IDs
	├── metrics.go      // Add(), AddSlice() and the OTel export
	├── metrics.json    // metric definitions, keyed by ID
	└── types.go        // Metric, MetricID, MetricValue
*/
package metrics // import "github.com/perfsampler/agent/metrics"
