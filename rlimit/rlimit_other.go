//go:build !linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rlimit // import "github.com/perfsampler/agent/rlimit"

import (
	"fmt"
	"runtime"
)

// WithMemlock fails on systems without eBPF support. load is not called.
func WithMemlock(func() error) error {
	return fmt.Errorf("eBPF counters are not supported on %s", runtime.GOOS)
}
