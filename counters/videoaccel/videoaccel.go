// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package videoaccel provides the counters of a video engine whose firmware streams its own
// counter data through an external producer connection. The available counters are not
// enumerable from the system; they are taken from the events description of the session.
package videoaccel // import "github.com/perfsampler/agent/counters/videoaccel"

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/perfsampler/agent/counters"
)

const (
	// DefaultDevice is the device node present when the video engine is available.
	DefaultDevice = "/dev/mv500"
	// DefaultPrefix is the counter type prefix of the video engine.
	DefaultPrefix = "ARM_Mali-V500"
)

// Category groups the counters of the video engine. Counters and events are enabled in
// the engine by category.
type Category uint8

const (
	CategoryCounter Category = iota
	CategoryEvent
	CategoryActivity
)

func (c Category) String() string {
	switch c {
	case CategoryCounter:
		return "counter"
	case CategoryEvent:
		return "event"
	case CategoryActivity:
		return "activity"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

type counter struct {
	name     string
	category Category
	// id is the counter id in the engine.
	id uint32
	// key is the key counter frames use.
	key     int32
	enabled bool
}

// Provider implements counters.Source for the video engine.
type Provider struct {
	fs     afero.Fs
	device string
	keys   *counters.Keys

	cntPrefix, evnPrefix, actName string

	mu            sync.Mutex
	counters      []*counter
	activityCount int
}

var _ counters.Source = (*Provider)(nil)

// New returns a provider for the engine of the given counter type prefix. device is probed
// on fs for the engine's presence.
func New(fs afero.Fs, device, prefix string, keys *counters.Keys) *Provider {
	return &Provider{
		fs:        fs,
		device:    device,
		keys:      keys,
		cntPrefix: prefix + "_cnt",
		evnPrefix: prefix + "_evn",
		actName:   prefix + "_act",
	}
}

// Name implements counters.Source.
func (p *Provider) Name() string { return "videoaccel" }

// Configure reads the counters of the engine from the <event counter="..."/> elements of an
// events description. It replaces any previous configuration.
func (p *Provider) Configure(r io.Reader) error {
	var (
		parsed        []*counter
		activityCount int
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse events description: %w", err)
		}
		elem, ok := tok.(xml.StartElement)
		if !ok || elem.Name.Local != "event" {
			continue
		}
		name, ok := attr(elem, "counter")
		if !ok {
			continue
		}

		var c *counter
		switch {
		case strings.HasPrefix(name, p.cntPrefix):
			c = &counter{category: CategoryCounter, id: leadingUint(name[len(p.cntPrefix):])}
		case strings.HasPrefix(name, p.evnPrefix):
			c = &counter{category: CategoryEvent, id: leadingUint(name[len(p.evnPrefix):])}
		case name == p.actName:
			c = &counter{category: CategoryActivity}
			activityCount = 0
			for {
				if _, ok := attr(elem, "activity"+strconv.Itoa(activityCount+1)); !ok {
					break
				}
				activityCount++
			}
		default:
			continue
		}
		c.name = name
		c.key = p.keys.Next()
		parsed = append(parsed, c)
	}

	p.mu.Lock()
	p.counters = parsed
	p.activityCount = activityCount
	p.mu.Unlock()
	log.Debugf("Video engine: %d counters, %d activities", len(parsed), activityCount)
	return nil
}

func attr(elem xml.StartElement, name string) (string, bool) {
	for _, a := range elem.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// leadingUint parses the decimal digits s starts with. It returns 0 if there are none.
func leadingUint(s string) uint32 {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.ParseUint(s[:end], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func (p *Provider) find(typ string) *counter {
	for _, c := range p.counters {
		if c.name == typ {
			return c
		}
	}
	return nil
}

// Claim owns the counters listed by the events description.
func (p *Provider) Claim(c *counters.Counter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(c.Type) != nil
}

// Setup enables the counter in the engine configuration.
func (p *Provider) Setup(c *counters.Counter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	vc := p.find(c.Type)
	if vc == nil {
		c.Enabled = false
		return nil
	}
	vc.enabled = true
	c.Key = vc.key
	return nil
}

// ResetAll implements counters.Source.
func (p *Provider) ResetAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.counters {
		c.enabled = false
	}
	return nil
}

// Present reports whether the engine's device node exists.
func (p *Provider) Present() bool {
	ok, err := afero.Exists(p.fs, p.device)
	return err == nil && ok
}

// WriteDescriptors lists the configured counters if the engine is present. A missing
// engine is not an error.
func (p *Provider) WriteDescriptors(sink counters.DescriptorSink) (int, error) {
	if !p.Present() {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.counters {
		sink.AddCounter(c.name)
	}
	return len(p.counters), nil
}

// CountEnabled implements counters.Source.
func (p *Provider) CountEnabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.counters {
		if c.enabled {
			n++
		}
	}
	return n
}

// EnabledIDs returns the engine ids of the enabled counters of a category in configuration
// order.
func (p *Provider) EnabledIDs(category Category) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []uint32
	for _, c := range p.counters {
		if c.enabled && c.category == category {
			ids = append(ids, c.id)
		}
	}
	return ids
}

// ActivityCount returns the number of activities the events description declares.
func (p *Provider) ActivityCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activityCount
}
