// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package counters defines the counter descriptor shared by every counter provider, the
// contract providers implement and the Set that owns the counters of a capture session.
package counters // import "github.com/perfsampler/agent/counters"

import (
	"errors"
)

var (
	// ErrProviderUnsupported is returned by Setup when a counter requests a feature its
	// provider cannot deliver, such as event based sampling without a sample count
	// attribute. It aborts the session.
	ErrProviderUnsupported = errors.New("counter feature not supported by provider")
	// ErrProviderUnavailable is returned when a provider cannot enumerate its counters
	// at all. It aborts the session.
	ErrProviderUnavailable = errors.New("counter provider unavailable")
)

// Counter describes one configured counter.
type Counter struct {
	// Title is the group the counter is shown under.
	Title string
	// Name is the human readable counter name.
	Name string
	// Type identifies the counter to the providers, e.g. the entry name below the kernel
	// events root. Providers claim counters by type.
	Type string
	// Key is the runtime key assigned by the claiming provider. Counter frames refer to
	// the counter by key.
	Key int32
	// Event is the provider specific event selector.
	Event int32
	// EBSCapable marks counters that can drive event based sampling.
	EBSCapable bool
	// Count is the requested event based sampling period; 0 disables sampling.
	Count int
	// PerCPU marks counters reported separately for every collection unit.
	PerCPU bool
	// Display, Units and Modifier describe how values are presented.
	Display  string
	Units    string
	Modifier int
	// AverageSelection averages values over a selection instead of summing them.
	AverageSelection bool
	Description      string
	// Enabled is set while the counter is collected.
	Enabled bool
}

// NewCounter returns an enabled counter of the given type with default presentation.
func NewCounter(typ string) Counter {
	return Counter{
		Type:     typ,
		Modifier: 1,
		Enabled:  true,
	}
}

func (c *Counter) String() string {
	if c.Title == "" {
		return c.Type
	}
	return c.Title + ":" + c.Name
}
