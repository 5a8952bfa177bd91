// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateConversions(t *testing.T) {
	tests := map[string]struct {
		rate     int
		liveRate int64
		sample   uint32
		flush    uint32
	}{
		"default":      {rate: 100, liveRate: 2_000_000, sample: 10, flush: 2},
		"fast":         {rate: 10000, liveRate: 100 * int64(time.Millisecond), sample: 0, flush: 100},
		"one per sec":  {rate: 1, liveRate: int64(time.Second), sample: 1000, flush: 1000},
		"disabled":     {rate: 0, liveRate: 0, sample: 0, flush: 0},
		"sub-ms flush": {rate: 1000, liveRate: 999_999, sample: 1, flush: 0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.sample, MillisPerSample(tc.rate))
			assert.Equal(t, tc.flush, MillisPerFlush(tc.liveRate))
		})
	}
}

func TestKTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRealtimeSync(ctx, 0)

	now := GetKTime()
	assert.WithinDuration(t, time.Now(), now.Time(), time.Second)
	assert.GreaterOrEqual(t, Since(now), time.Duration(0))
}
