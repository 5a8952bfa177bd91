// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package counters // import "github.com/perfsampler/agent/counters"

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Handle addresses a counter within its Set.
type Handle int

// noSource marks counters no provider claimed.
const noSource = -1

// Set owns the counters of a capture session and the providers collecting them. Providers
// are consulted in the order given to NewSet; the first one claiming a counter owns it.
type Set struct {
	counters []Counter
	owners   []int
	sources  []Source
}

// NewSet returns an empty set using the given providers.
func NewSet(sources ...Source) *Set {
	return &Set{sources: sources}
}

// Add adds c to the set.
func (s *Set) Add(c Counter) Handle {
	s.counters = append(s.counters, c)
	s.owners = append(s.owners, noSource)
	return Handle(len(s.counters) - 1)
}

// Get returns the counter behind h. The pointer is valid until the next Add.
func (s *Set) Get(h Handle) *Counter {
	return &s.counters[h]
}

// Len returns the number of counters in the set.
func (s *Set) Len() int { return len(s.counters) }

// Sources returns the providers of the set.
func (s *Set) Sources() []Source { return s.sources }

// Setup hands every enabled counter to the first provider claiming it. Counters nobody
// claims are disabled. A provider reporting ErrProviderUnsupported aborts the setup; other
// provider errors only disable the counter concerned.
func (s *Set) Setup() error {
	for i := range s.counters {
		c := &s.counters[i]
		if !c.Enabled {
			continue
		}

		owner := noSource
		for j, src := range s.sources {
			if src.Claim(c) {
				owner = j
				break
			}
		}
		s.owners[i] = owner
		if owner == noSource {
			log.Warnf("No provider for counter %s, disabling it", c)
			c.Enabled = false
			continue
		}

		src := s.sources[owner]
		if err := src.Setup(c); err != nil {
			if errors.Is(err, ErrProviderUnsupported) {
				return fmt.Errorf("%s: %w", src.Name(), err)
			}
			log.Warnf("Failed to set up counter %s with %s: %v", c, src.Name(), err)
			c.Enabled = false
			continue
		}
		if c.Enabled {
			log.Debugf("Counter %s enabled by %s with key %d", c, src.Name(), c.Key)
		}
	}
	return nil
}

// ResetAll disables the counters of every provider.
func (s *Set) ResetAll() error {
	var errs []error
	for _, src := range s.sources {
		if err := src.ResetAll(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	for i := range s.counters {
		s.counters[i].Enabled = false
	}
	return errors.Join(errs...)
}

// WriteDescriptors adds the counters of every provider to sink.
func (s *Set) WriteDescriptors(sink DescriptorSink) (int, error) {
	total := 0
	for _, src := range s.sources {
		n, err := src.WriteDescriptors(sink)
		if err != nil {
			return total, fmt.Errorf("%s: %w", src.Name(), err)
		}
		total += n
	}
	return total, nil
}

// Enabled returns copies of the enabled counters in configuration order.
func (s *Set) Enabled() []Counter {
	var enabled []Counter
	for i := range s.counters {
		if s.counters[i].Enabled {
			enabled = append(enabled, s.counters[i])
		}
	}
	return enabled
}

// Owner returns the provider that claimed the counter, or nil.
func (s *Set) Owner(h Handle) Source {
	if o := s.owners[h]; o != noSource {
		return s.sources[o]
	}
	return nil
}

// CountEnabled returns the number of counters enabled by all providers.
func (s *Set) CountEnabled() int {
	n := 0
	for _, src := range s.sources {
		n += src.CountEnabled()
	}
	return n
}

// Readers returns the providers that are polled and have enabled counters.
func (s *Set) Readers() []Reader {
	var readers []Reader
	for _, src := range s.sources {
		if r, ok := src.(Reader); ok && src.CountEnabled() > 0 {
			readers = append(readers, r)
		}
	}
	return readers
}
