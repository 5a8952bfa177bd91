//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package rlimit raises the locked memory limit for loading eBPF maps and programs on
// kernels that still account them against RLIMIT_MEMLOCK.
package rlimit // import "github.com/perfsampler/agent/rlimit"

import (
	"golang.org/x/sys/unix"

	log "github.com/sirupsen/logrus"
)

// WithMemlock runs load with the memlock limit raised to RLIM_INFINITY and restores the
// previous limit afterwards. Without CAP_SYS_RESOURCE the limit stays as it is and load
// runs anyway: kernels since 5.11 charge eBPF memory to the cgroup instead.
func WithMemlock(load func() error) error {
	var oldLimit unix.Rlimit
	tmpLimit := unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}

	if err := unix.Prlimit(0, unix.RLIMIT_MEMLOCK, &tmpLimit, &oldLimit); err != nil {
		log.Debugf("Loading eBPF objects with the current memlock limit: %v", err)
		return load()
	}
	defer func() {
		if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &oldLimit); err != nil {
			log.Warnf("Failed to restore memlock limit: %v", err)
		}
	}()
	return load()
}
