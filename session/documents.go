// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package session // import "github.com/perfsampler/agent/session"

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/perfsampler/agent/counters"
)

// ProtocolVersion is the version of the capture stream format.
const ProtocolVersion = 17

// CapturedFile is the name of the captured counters document in a capture directory.
const CapturedFile = "captured.xml"

// Creation times before this are taken as a clock that was never set.
var minCreated = time.Unix(1267000000, 0)

func writeDoc(w io.Writer, v any) (int64, error) {
	data, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, err
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	n, err := w.Write(data)
	return int64(n), err
}

// CounterList collects the names of all available counters. It implements
// counters.DescriptorSink.
type CounterList struct {
	XMLName  xml.Name      `xml:"counters"`
	Counters []counterName `xml:"counter"`
}

type counterName struct {
	Name string `xml:"name,attr"`
}

var _ counters.DescriptorSink = (*CounterList)(nil)

// AddCounter implements counters.DescriptorSink.
func (l *CounterList) AddCounter(name string) {
	l.Counters = append(l.Counters, counterName{Name: name})
}

// Names returns the collected counter names.
func (l *CounterList) Names() []string {
	names := make([]string, len(l.Counters))
	for i, c := range l.Counters {
		names[i] = c.Name
	}
	return names
}

// WriteTo writes the counters document.
func (l *CounterList) WriteTo(w io.Writer) (int64, error) {
	return writeDoc(w, l)
}

// Target describes the captured system.
type Target struct {
	Name       string
	SampleRate int
	Cores      int
	CPUID      uint32
}

// Captured describes a capture: the target and the counters that were enabled.
type Captured struct {
	ID       uuid.UUID
	Target   Target
	Counters []counters.Counter
	// Created is only written once the capture is complete.
	Created time.Time
}

// NewCaptured returns the description of a new capture of the given counters.
func NewCaptured(target Target, enabled []counters.Counter) *Captured {
	return &Captured{
		ID:       uuid.New(),
		Target:   target,
		Counters: enabled,
	}
}

type capturedDoc struct {
	XMLName  xml.Name          `xml:"captured"`
	Version  int               `xml:"version,attr"`
	Protocol int               `xml:"protocol,attr"`
	ID       string            `xml:"id,attr"`
	Created  string            `xml:"created,attr,omitempty"`
	Target   targetDoc         `xml:"target"`
	Counters *capturedCounters `xml:"counters,omitempty"`
}

type targetDoc struct {
	Name       string `xml:"name,attr"`
	SampleRate int    `xml:"sample_rate,attr"`
	Cores      int    `xml:"cores,attr"`
	CPUID      string `xml:"cpuid,attr"`
}

type capturedCounters struct {
	Counters []capturedCounter `xml:"counter"`
}

type capturedCounter struct {
	Title            string `xml:"title,attr"`
	Name             string `xml:"name,attr"`
	Key              string `xml:"key,attr"`
	Type             string `xml:"type,attr"`
	Event            string `xml:"event,attr"`
	PerCPU           string `xml:"per_cpu,attr,omitempty"`
	Count            string `xml:"count,attr,omitempty"`
	Display          string `xml:"display,attr,omitempty"`
	Units            string `xml:"units,attr,omitempty"`
	Modifier         string `xml:"modifier,attr,omitempty"`
	AverageSelection string `xml:"average_selection,attr,omitempty"`
	Description      string `xml:"description,attr"`
}

func yes(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func (c *Captured) document() *capturedDoc {
	doc := &capturedDoc{
		Version:  1,
		Protocol: ProtocolVersion,
		ID:       c.ID.String(),
		Target: targetDoc{
			Name:       c.Target.Name,
			SampleRate: c.Target.SampleRate,
			Cores:      c.Target.Cores,
			CPUID:      fmt.Sprintf("0x%x", c.Target.CPUID),
		},
	}
	if c.Created.After(minCreated) {
		doc.Created = strconv.FormatInt(c.Created.Unix(), 10)
	}

	for i := range c.Counters {
		cnt := &c.Counters[i]
		if !cnt.Enabled {
			continue
		}
		if doc.Counters == nil {
			doc.Counters = &capturedCounters{}
		}
		cc := capturedCounter{
			Title:            cnt.Title,
			Name:             cnt.Name,
			Key:              fmt.Sprintf("0x%08x", uint32(cnt.Key)),
			Type:             cnt.Type,
			Event:            fmt.Sprintf("0x%08x", uint32(cnt.Event)),
			PerCPU:           yes(cnt.PerCPU),
			Display:          cnt.Display,
			Units:            cnt.Units,
			AverageSelection: yes(cnt.AverageSelection),
			Description:      cnt.Description,
		}
		if cnt.Count > 0 {
			cc.Count = strconv.Itoa(cnt.Count)
		}
		if cnt.Modifier != 1 {
			cc.Modifier = strconv.Itoa(cnt.Modifier)
		}
		doc.Counters.Counters = append(doc.Counters.Counters, cc)
	}
	return doc
}

// WriteTo writes the captured document.
func (c *Captured) WriteTo(w io.Writer) (int64, error) {
	return writeDoc(w, c.document())
}

// WriteFile marks the capture complete and writes the captured document into dir.
func (c *Captured) WriteFile(dir string) error {
	c.Created = time.Now()
	path := filepath.Join(dir, CapturedFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := c.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
