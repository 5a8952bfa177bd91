// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package times provides monotonic timestamps and the rate conversions used when talking to
// external counter producers.
package times // import "github.com/perfsampler/agent/times"

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/perfsampler/agent/periodiccaller"
)

// Number of timing samples to use when retrieving system boot time.
const sampleSize = 5

// Monotonic-to-unixtime delta that can be added to a KTime to convert it to time since epoch.
var bootTimeUnixNano atomic.Int64

// StartRealtimeSync computes the delta between the monotonic and the realtime clock. If
// syncInterval is greater than zero the delta is refreshed periodically until ctx is done.
func StartRealtimeSync(ctx context.Context, syncInterval time.Duration) {
	bootTimeUnixNano.Store(getBootTimeUnixNano())

	if syncInterval > 0 {
		periodiccaller.Start(ctx, syncInterval, func() {
			bootTimeUnixNano.Store(getBootTimeUnixNano())
		})
	}
}

// getBootTimeUnixNano returns system boot time in nanoseconds since the epoch, temporarily
// locking the calling goroutine to its OS thread.
func getBootTimeUnixNano() int64 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	samples := make([]struct {
		t1    time.Time
		ktime int64
		t2    time.Time
	}, sampleSize)

	for i := range samples {
		samples[i].t1 = time.Now()
		samples[i].ktime = int64(GetKTime())
		samples[i].t2 = time.Now()
	}

	// Pick the measurement with the smallest bracket to reduce scheduling noise.
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].t2.Sub(samples[i].t1).Abs() < samples[j].t2.Sub(samples[j].t1).Abs()
	})

	return samples[0].t1.UnixNano() - samples[0].ktime
}

// MillisPerSample converts a sampling rate in samples per second into the sampling period in
// milliseconds. A rate of zero or less yields zero (sampling disabled).
func MillisPerSample(samplesPerSecond int) uint32 {
	if samplesPerSecond <= 0 {
		return 0
	}
	return uint32(1000 / samplesPerSecond)
}

// MillisPerFlush converts a flush period given in nanoseconds into milliseconds.
func MillisPerFlush(liveRateNanos int64) uint32 {
	if liveRateNanos <= 0 {
		return 0
	}
	return uint32(liveRateNanos / int64(time.Millisecond))
}
