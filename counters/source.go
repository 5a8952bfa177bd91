// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package counters // import "github.com/perfsampler/agent/counters"

import "context"

// DescriptorSink receives the names of all counters a provider knows.
type DescriptorSink interface {
	AddCounter(name string)
}

// Source is a provider of counters.
type Source interface {
	// Name identifies the provider in logs.
	Name() string
	// Claim reports whether the provider owns the counter.
	Claim(c *Counter) bool
	// Setup prepares a claimed counter for collection. It assigns the counter key and
	// disables the counter if the provider cannot collect it.
	Setup(c *Counter) error
	// ResetAll disables every counter of the provider.
	ResetAll() error
	// WriteDescriptors adds all counters the provider knows to sink and returns their
	// number.
	WriteDescriptors(sink DescriptorSink) (int, error)
	// CountEnabled returns the number of counters enabled by Setup.
	CountEnabled() int
}

// Reader is implemented by providers that are polled for values.
type Reader interface {
	// Start begins collection on the given number of units.
	Start(ctx context.Context, units int) error
	// Read calls fn for every counter value of unit that changed since the last Read.
	Read(unit int, fn func(key int32, value int64)) error
	// Stop ends collection and releases kernel resources.
	Stop() error
}

// Sample is one event based sample taken on a unit.
type Sample struct {
	Unit int
	Pid  uint32
	IP   uint64
}

// Sampler is implemented by readers whose counters drive event based sampling.
type Sampler interface {
	// Samples calls fn for every sample taken after Start until ctx is done. Samples of
	// one unit are delivered in order; different units may call fn concurrently.
	Samples(ctx context.Context, fn func(s Sample)) error
}
