// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times // import "github.com/perfsampler/agent/times"

import (
	"time"
	_ "unsafe" // required to use //go:linkname for runtime.nanotime
)

// KTime stores a CLOCK_MONOTONIC timestamp in nanoseconds, the same clock the kernel uses
// for bpf_ktime_get_ns() and perf sample timestamps.
type KTime int64

// GetKTime returns the current monotonic time. runtime.nanotime reads CLOCK_MONOTONIC through
// the vDSO, so this does not enter the kernel.
//
//go:noescape
//go:linkname GetKTime runtime.nanotime
func GetKTime() KTime

// Time converts the monotonic timestamp into wall clock time.
func (t KTime) Time() time.Time {
	return time.Unix(0, t.UnixNano())
}

// UnixNano converts the monotonic timestamp to nanoseconds since the epoch.
func (t KTime) UnixNano() int64 {
	return int64(t) + bootTimeUnixNano.Load()
}

// Since returns the time elapsed since t.
func Since(t KTime) time.Duration {
	return time.Duration(GetKTime() - t)
}
