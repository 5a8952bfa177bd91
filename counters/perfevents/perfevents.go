// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package perfevents provides hardware and software counters of the perf_event subsystem.
// Each enabled counter is opened once per unit as an event for all threads on the unit's
// CPU and polled for deltas. A counter configured with a count also samples: every count
// events the kernel writes the interrupted pid and instruction pointer to a ring buffer.
package perfevents // import "github.com/perfsampler/agent/counters/perfevents"

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/elastic/go-perf"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/perfsampler/agent/counters"
)

// Prefix is the counter type prefix claimed by this provider.
const Prefix = "perf_"

// configurator is satisfied by the hardware and software counter constants of go-perf.
type configurator interface {
	Configure(attr *perf.Attr) error
}

type event struct {
	name string
	cfg  configurator
	key  int32

	enabled bool
	// period is the number of events between two samples, 0 for counting only.
	period uint64
}

// unitEvents are the open events of one unit, parallel to the enabled events.
type unitEvents struct {
	events   []*perf.Event
	keys     []int32
	prev     []uint64
	sampling []*perf.Event
}

// Provider implements counters.Source and counters.Reader.
type Provider struct {
	keys *counters.Keys

	mu     sync.Mutex
	events []*event
	units  []unitEvents
}

var (
	_ counters.Source  = (*Provider)(nil)
	_ counters.Reader  = (*Provider)(nil)
	_ counters.Sampler = (*Provider)(nil)
)

// New returns a provider assigning counter keys from keys.
func New(keys *counters.Keys) *Provider {
	return &Provider{
		keys: keys,
		events: []*event{
			{name: "cpu_cycles", cfg: perf.CPUCycles},
			{name: "instructions", cfg: perf.Instructions},
			{name: "cache_misses", cfg: perf.CacheMisses},
			{name: "branch_misses", cfg: perf.BranchMisses},
			{name: "cpu_clock", cfg: perf.CPUClock},
			{name: "task_clock", cfg: perf.TaskClock},
			{name: "context_switches", cfg: perf.ContextSwitches},
			{name: "page_faults", cfg: perf.PageFaults},
		},
	}
}

// Name implements counters.Source.
func (p *Provider) Name() string { return "perfevents" }

func (p *Provider) find(typ string) *event {
	name, ok := strings.CutPrefix(typ, Prefix)
	if !ok {
		return nil
	}
	for _, ev := range p.events {
		if ev.name == name {
			return ev
		}
	}
	return nil
}

// Claim implements counters.Source.
func (p *Provider) Claim(c *counters.Counter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(c.Type) != nil
}

// Setup assigns a key to the counter. A counter with a count samples every count events.
func (p *Provider) Setup(c *counters.Counter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := p.find(c.Type)
	if ev == nil {
		c.Enabled = false
		return nil
	}
	if c.Count < 0 {
		return fmt.Errorf("invalid count %d for %s", c.Count, c)
	}
	if ev.key == 0 {
		ev.key = p.keys.Next()
	}
	ev.enabled = true
	ev.period = uint64(c.Count)
	c.Key = ev.key
	return nil
}

// ResetAll implements counters.Source.
func (p *Provider) ResetAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		ev.enabled = false
		ev.period = 0
	}
	return nil
}

// WriteDescriptors lists every supported counter.
func (p *Provider) WriteDescriptors(sink counters.DescriptorSink) (int, error) {
	for _, ev := range p.events {
		sink.AddCounter(Prefix + ev.name)
	}
	return len(p.events), nil
}

// CountEnabled implements counters.Source.
func (p *Provider) CountEnabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.enabled {
			n++
		}
	}
	return n
}

// Start opens the enabled counters on the CPUs 0 to units-1.
func (p *Provider) Start(_ context.Context, units int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.units = make([]unitEvents, units)
	for cpu := range p.units {
		ue := &p.units[cpu]
		for _, ev := range p.events {
			if !ev.enabled {
				continue
			}
			attr := new(perf.Attr)
			if err := ev.cfg.Configure(attr); err != nil {
				_ = p.closeLocked()
				return fmt.Errorf("failed to configure %s: %v", ev.name, err)
			}
			attr.Options.Disabled = true
			if ev.period > 0 {
				attr.SetSamplePeriod(ev.period)
				attr.SetWakeupEvents(1)
				attr.SampleFormat = perf.SampleFormat{IP: true, Tid: true}
			}
			pe, err := perf.Open(attr, perf.AllThreads, cpu, nil)
			if err != nil {
				_ = p.closeLocked()
				return fmt.Errorf("failed to open %s on CPU %d: %v", ev.name, cpu, err)
			}
			ue.events = append(ue.events, pe)
			ue.keys = append(ue.keys, ev.key)
			ue.prev = append(ue.prev, 0)
			if ev.period > 0 {
				if err := pe.MapRing(); err != nil {
					_ = p.closeLocked()
					return fmt.Errorf("failed to map the ring of %s on CPU %d: %v",
						ev.name, cpu, err)
				}
				ue.sampling = append(ue.sampling, pe)
			}
			if err := pe.Enable(); err != nil {
				_ = p.closeLocked()
				return fmt.Errorf("failed to enable %s on CPU %d: %v", ev.name, cpu, err)
			}
		}
	}
	log.Debugf("Opened perf counters on %d CPUs", units)
	return nil
}

// Read reports the counts accumulated on unit since the previous Read.
func (p *Provider) Read(unit int, fn func(key int32, value int64)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if unit < 0 || unit >= len(p.units) {
		return nil
	}
	ue := &p.units[unit]
	var errs []error
	for i, pe := range ue.events {
		count, err := pe.ReadCount()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		delta := count.Value - ue.prev[i]
		ue.prev[i] = count.Value
		if delta != 0 {
			fn(ue.keys[i], int64(delta))
		}
	}
	return errors.Join(errs...)
}

// Samples reads the rings of all sampling events until ctx is done. It must return before
// Stop is called. fn is called concurrently for different events.
func (p *Provider) Samples(ctx context.Context, fn func(s counters.Sample)) error {
	p.mu.Lock()
	g, ctx := errgroup.WithContext(ctx)
	for unit := range p.units {
		for _, pe := range p.units[unit].sampling {
			g.Go(func() error {
				return drain(ctx, unit, pe, fn)
			})
		}
	}
	p.mu.Unlock()
	return g.Wait()
}

// recordReader is the ring buffer side of a perf.Event.
type recordReader interface {
	ReadRecord(ctx context.Context) (perf.Record, error)
}

// drain hands the sample records of r to fn until ctx is done or the event is disabled.
func drain(ctx context.Context, unit int, r recordReader, fn func(s counters.Sample)) error {
	for {
		rec, err := r.ReadRecord(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, perf.ErrDisabled):
			return nil
		case errors.Is(err, perf.ErrBadRecord):
			log.Debugf("Skipping undecodable record on CPU %d: %v", unit, err)
			continue
		default:
			return fmt.Errorf("failed to read samples on CPU %d: %w", unit, err)
		}

		sample, ok := rec.(*perf.SampleRecord)
		// The idle task has no mappings.
		if !ok || sample.Pid == 0 {
			continue
		}
		fn(counters.Sample{Unit: unit, Pid: sample.Pid, IP: sample.IP})
	}
}

// Stop closes all open events.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Provider) closeLocked() error {
	var errs []error
	for _, ue := range p.units {
		for _, pe := range ue.events {
			if err := pe.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	p.units = nil
	return errors.Join(errs...)
}
