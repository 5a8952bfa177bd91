// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package session reads the counter configuration of a capture session and writes the
// documents describing it: the list of all available counters and the description of
// the counters actually captured.
package session // import "github.com/perfsampler/agent/session"

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/perfsampler/agent/counters"
)

type configurationsDoc struct {
	XMLName        xml.Name           `xml:"configurations"`
	Configurations []configurationDoc `xml:"configuration"`
}

type configurationDoc struct {
	Counter          string `xml:"counter,attr"`
	Event            string `xml:"event,attr"`
	Count            string `xml:"count,attr"`
	EBS              string `xml:"ebs,attr"`
	Title            string `xml:"title,attr"`
	Name             string `xml:"name,attr"`
	PerCPU           string `xml:"per_cpu,attr"`
	Display          string `xml:"display,attr"`
	Units            string `xml:"units,attr"`
	Modifier         string `xml:"modifier,attr"`
	AverageSelection string `xml:"average_selection,attr"`
	Description      string `xml:"description,attr"`
}

// ParseConfiguration reads the counters requested for a session from a configurations
// document. Every returned counter is enabled.
func ParseConfiguration(r io.Reader) ([]counters.Counter, error) {
	var doc configurationsDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse session configuration: %w", err)
	}

	result := make([]counters.Counter, 0, len(doc.Configurations))
	for i, cfg := range doc.Configurations {
		if cfg.Counter == "" {
			return nil, fmt.Errorf("configuration %d has no counter attribute", i)
		}
		c := counters.NewCounter(cfg.Counter)
		c.Title = cfg.Title
		c.Name = cfg.Name
		c.EBSCapable = cfg.EBS == "yes"
		c.PerCPU = cfg.PerCPU == "yes"
		c.AverageSelection = cfg.AverageSelection == "yes"
		c.Display = cfg.Display
		c.Units = cfg.Units
		c.Description = cfg.Description

		if cfg.Event != "" {
			event, err := strconv.ParseInt(cfg.Event, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("counter %s: invalid event %q: %v", cfg.Counter, cfg.Event, err)
			}
			c.Event = int32(event)
		}
		if cfg.Count != "" {
			count, err := strconv.Atoi(cfg.Count)
			if err != nil || count < 0 {
				return nil, fmt.Errorf("counter %s: invalid count %q", cfg.Counter, cfg.Count)
			}
			c.Count = count
		}
		if cfg.Modifier != "" {
			modifier, err := strconv.Atoi(cfg.Modifier)
			if err != nil {
				return nil, fmt.Errorf("counter %s: invalid modifier %q", cfg.Counter, cfg.Modifier)
			}
			c.Modifier = modifier
		}
		result = append(result, c)
	}
	return result, nil
}
