// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package irq provides counters of hard and soft interrupts handled per CPU. Two tracepoint
// programs count interrupt exits into a per-CPU array map that is polled for the number of
// interrupts since the previous poll.
package irq // import "github.com/perfsampler/agent/counters/irq"

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/counters"
	"github.com/perfsampler/agent/rlimit"
)

const (
	// HardIRQ is the counter type of hard interrupts.
	HardIRQ = "Linux_irq_irq"
	// SoftIRQ is the counter type of soft interrupts.
	SoftIRQ = "Linux_irq_softirq"
)

// Slots of the per-CPU counter map.
const (
	slotHard = iota
	slotSoft
	numSlots
)

type irqCounter struct {
	typ        string
	tracepoint string
	key        int32
	enabled    bool
}

// Provider implements counters.Source and counters.Reader.
type Provider struct {
	keys *counters.Keys

	mu       sync.Mutex
	counters [numSlots]irqCounter

	counts *ebpf.Map
	progs  []*ebpf.Program
	links  []link.Link
	// trackers holds the per unit read state.
	trackers []tracker
}

var (
	_ counters.Source = (*Provider)(nil)
	_ counters.Reader = (*Provider)(nil)
)

// New returns a provider assigning counter keys from keys.
func New(keys *counters.Keys) *Provider {
	return &Provider{
		keys: keys,
		counters: [numSlots]irqCounter{
			slotHard: {typ: HardIRQ, tracepoint: "irq_handler_exit"},
			slotSoft: {typ: SoftIRQ, tracepoint: "softirq_exit"},
		},
	}
}

// Name implements counters.Source.
func (p *Provider) Name() string { return "irq" }

func (p *Provider) slot(typ string) int {
	for i := range p.counters {
		if p.counters[i].typ == typ {
			return i
		}
	}
	return -1
}

// Claim implements counters.Source.
func (p *Provider) Claim(c *counters.Counter) bool {
	return p.slot(c.Type) >= 0
}

// Setup implements counters.Source.
func (p *Provider) Setup(c *counters.Counter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.slot(c.Type)
	if i < 0 {
		c.Enabled = false
		return nil
	}
	if c.Count > 0 {
		return fmt.Errorf("%s cannot drive event based sampling: %w",
			c, counters.ErrProviderUnsupported)
	}
	ic := &p.counters[i]
	if ic.key == 0 {
		ic.key = p.keys.Next()
	}
	ic.enabled = true
	c.Key = ic.key
	return nil
}

// ResetAll implements counters.Source.
func (p *Provider) ResetAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.counters {
		p.counters[i].enabled = false
	}
	return nil
}

// WriteDescriptors implements counters.Source.
func (p *Provider) WriteDescriptors(sink counters.DescriptorSink) (int, error) {
	for i := range p.counters {
		sink.AddCounter(p.counters[i].typ)
	}
	return len(p.counters), nil
}

// CountEnabled implements counters.Source.
func (p *Provider) CountEnabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.counters {
		if p.counters[i].enabled {
			n++
		}
	}
	return n
}

// countingProgram returns a tracepoint program incrementing the given slot of the per-CPU
// counter map.
func countingProgram(counts *ebpf.Map, slot int) asm.Instructions {
	return asm.Instructions{
		// key = slot
		asm.StoreImm(asm.RFP, -4, int64(slot), asm.Word),
		asm.LoadMapPtr(asm.R1, counts.FD()),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -4),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		// The map is per CPU and tracepoint programs do not nest on a CPU.
		asm.LoadMem(asm.R1, asm.R0, 0, asm.DWord),
		asm.Add.Imm(asm.R1, 1),
		asm.StoreMem(asm.R0, 0, asm.R1, asm.DWord),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}

// Start loads and attaches the programs of the enabled counters.
func (p *Provider) Start(_ context.Context, units int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := rlimit.WithMemlock(p.loadLocked); err != nil {
		_ = p.closeLocked()
		return err
	}

	p.trackers = make([]tracker, units)
	log.Debugf("Attached %d irq tracepoints", len(p.links))
	return nil
}

func (p *Provider) loadLocked() error {
	var err error
	p.counts, err = ebpf.NewMap(&ebpf.MapSpec{
		Name:       "irq_counts",
		Type:       ebpf.PerCPUArray,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: numSlots,
	})
	if err != nil {
		return fmt.Errorf("failed to create irq counter map: %v", err)
	}

	for slot := range p.counters {
		ic := &p.counters[slot]
		if !ic.enabled {
			continue
		}
		prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
			Name:         "count_" + ic.tracepoint,
			Type:         ebpf.TracePoint,
			License:      "GPL",
			Instructions: countingProgram(p.counts, slot),
		})
		if err != nil {
			return fmt.Errorf("failed to load %s program: %v", ic.tracepoint, err)
		}
		p.progs = append(p.progs, prog)

		l, err := link.Tracepoint("irq", ic.tracepoint, prog, nil)
		if err != nil {
			return fmt.Errorf("failed to attach to irq:%s, verify that tracepoints are "+
				"enabled in the kernel: %v", ic.tracepoint, err)
		}
		p.links = append(p.links, l)
	}
	return nil
}

// Read reports the number of interrupts unit handled since the previous Read. As with the
// kernel counters, a value is only reported when it differs from the previous interval.
func (p *Provider) Read(unit int, fn func(key int32, value int64)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil || unit < 0 || unit >= len(p.trackers) {
		return nil
	}

	var errs []error
	for slot := range p.counters {
		ic := &p.counters[slot]
		if !ic.enabled {
			continue
		}
		var perCPU []uint64
		if err := p.counts.Lookup(uint32(slot), &perCPU); err != nil {
			errs = append(errs, err)
			continue
		}
		if unit >= len(perCPU) {
			continue
		}
		if v, changed := p.trackers[unit].update(slot, perCPU[unit]); changed {
			fn(ic.key, v)
		}
	}
	return errors.Join(errs...)
}

// Stop detaches the programs and releases the map.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Provider) closeLocked() error {
	var errs []error
	for _, l := range p.links {
		errs = append(errs, l.Close())
	}
	for _, prog := range p.progs {
		errs = append(errs, prog.Close())
	}
	if p.counts != nil {
		errs = append(errs, p.counts.Close())
	}
	p.links, p.progs, p.counts, p.trackers = nil, nil, nil, nil
	return errors.Join(errs...)
}

// tracker turns the running totals of one CPU into per interval counts.
type tracker struct {
	total [numSlots]uint64
	prev  [numSlots]int64
}

// update records a new running total and returns the count of the interval since the last
// update, and whether it differs from the count of the interval before.
func (t *tracker) update(slot int, total uint64) (int64, bool) {
	v := int64(total - t.total[slot])
	t.total[slot] = total
	if v == t.prev[slot] {
		return v, false
	}
	t.prev[slot] = v
	return v, true
}
