//go:build linux
// +build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package linux probes the kernel features the counter providers depend on.
package linux // import "github.com/perfsampler/agent/internal/linux"

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// KernelVersion is the release of the running kernel.
type KernelVersion struct {
	Major, Minor, Patch uint32
}

func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is major.minor or newer.
func (v KernelVersion) AtLeast(major, minor uint32) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// parseRelease parses the leading major.minor.patch of a kernel release string such as
// "6.8.0-45-generic". Missing components are zero.
func parseRelease(release string) (KernelVersion, error) {
	var parts [3]uint32
	fields := strings.SplitN(release, ".", 3)
	for i, f := range fields {
		end := 0
		for end < len(f) && f[end] >= '0' && f[end] <= '9' {
			end++
		}
		if end == 0 {
			if i == 0 {
				return KernelVersion{}, fmt.Errorf("invalid kernel release %q", release)
			}
			break
		}
		v, err := strconv.ParseUint(f[:end], 10, 32)
		if err != nil {
			return KernelVersion{}, fmt.Errorf("invalid kernel release %q: %w", release, err)
		}
		parts[i] = uint32(v)
		if end < len(f) {
			break
		}
	}
	return KernelVersion{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

var getKernelVersion = sync.OnceValues(func() (KernelVersion, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return KernelVersion{}, err
	}
	return parseRelease(string(bytes.TrimRight(uname.Release[:], "\x00")))
})

// GetCurrentKernelVersion returns the version of the running kernel from the utsname struct.
func GetCurrentKernelVersion() (KernelVersion, error) {
	return getKernelVersion()
}

// ProbeBPFSyscall checks if the syscall EBPF is available on the system.
func ProbeBPFSyscall() error {
	_, _, errNo := unix.Syscall(unix.SYS_BPF, uintptr(unix.BPF_PROG_TYPE_UNSPEC), uintptr(0), 0)
	if errNo == unix.ENOSYS {
		return errors.New("eBPF syscall is not available on your system")
	}
	return nil
}

// ProbePerfEvents checks whether unprivileged or privileged perf events can be opened at
// all. A kernel without perf events has no perf_event_paranoid file.
func ProbePerfEvents() error {
	if _, err := os.Stat("/proc/sys/kernel/perf_event_paranoid"); err != nil {
		return fmt.Errorf("perf events are not available on your system: %w", err)
	}
	return nil
}
