// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventsfs provides the counters a kernel module exposes as a directory tree. Every
// counter is a directory below the events root holding small integer attribute files:
// enabled, key, event and, for counters supporting event based sampling, count.
package eventsfs // import "github.com/perfsampler/agent/counters/eventsfs"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/perfsampler/agent/counters"
)

// DefaultRoot is where the kernel module mounts its events tree.
const DefaultRoot = "/dev/gator/events"

// Provider implements counters.Source on top of an events tree.
type Provider struct {
	fs   afero.Fs
	root string

	mu      sync.Mutex
	enabled map[string]struct{}
}

var _ counters.Source = (*Provider)(nil)

// New returns a provider for the events tree at root.
func New(fs afero.Fs, root string) *Provider {
	return &Provider{
		fs:      fs,
		root:    root,
		enabled: make(map[string]struct{}),
	}
}

// Name implements counters.Source.
func (p *Provider) Name() string { return "eventsfs" }

func (p *Provider) attr(typ, name string) string {
	return filepath.Join(p.root, typ, name)
}

// Claim owns every counter with an entry in the events tree.
func (p *Provider) Claim(c *counters.Counter) bool {
	ok, err := afero.Exists(p.fs, filepath.Join(p.root, c.Type))
	return err == nil && ok
}

// Setup enables the counter in the kernel module and picks up the key the module assigned.
// A counter the module refuses to enable is disabled. Requesting event based sampling from
// an entry without a working count attribute fails with counters.ErrProviderUnsupported.
func (p *Provider) Setup(c *counters.Counter) error {
	enabled, err := p.writeRead(p.attr(c.Type, "enabled"), 1)
	if err != nil || enabled == 0 {
		log.Debugf("Kernel module did not enable %s: %v", c.Type, err)
		c.Enabled = false
		return nil
	}

	key, err := p.readInt(p.attr(c.Type, "key"))
	if err != nil {
		c.Enabled = false
		return fmt.Errorf("failed to read key of %s: %w", c.Type, err)
	}
	c.Key = int32(key)

	if err := p.writeInt(p.attr(c.Type, "event"), int64(c.Event)); err != nil {
		log.Debugf("Failed to write event of %s: %v", c.Type, err)
	}

	if c.EBSCapable {
		countPath := p.attr(c.Type, "count")
		ok, _ := afero.Exists(p.fs, countPath)
		switch {
		case ok:
			count, err := p.writeRead(countPath, int64(c.Count))
			if c.Count > 0 && (err != nil || count != int64(c.Count)) {
				return fmt.Errorf("cannot enable event based sampling for %s with a count of %d: %w",
					c, c.Count, counters.ErrProviderUnsupported)
			}
			if err == nil {
				c.Count = int(count)
			}
		case c.Count > 0:
			return fmt.Errorf("event based sampling is not available for %s: %w",
				c, counters.ErrProviderUnsupported)
		}
	}

	p.mu.Lock()
	p.enabled[c.Type] = struct{}{}
	p.mu.Unlock()
	return nil
}

// ResetAll writes enabled=0 and count=0 for every entry of the events tree.
func (p *Provider) ResetAll() error {
	p.mu.Lock()
	clear(p.enabled)
	p.mu.Unlock()

	names, err := p.entries()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, name := range names {
		if err := p.writeInt(p.attr(name, "enabled"), 0); err != nil {
			errs = append(errs, err)
		}
		// Not every entry supports sampling.
		if err := p.writeInt(p.attr(name, "count"), 0); err != nil &&
			!errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteDescriptors lists every entry of the events tree. An unreadable tree is fatal.
func (p *Provider) WriteDescriptors(sink counters.DescriptorSink) (int, error) {
	names, err := p.entries()
	if err != nil {
		return 0, fmt.Errorf("unable to read %s: %w: %v", p.root,
			counters.ErrProviderUnavailable, err)
	}
	for _, name := range names {
		sink.AddCounter(name)
	}
	return len(names), nil
}

// CountEnabled implements counters.Source.
func (p *Provider) CountEnabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.enabled)
}

// entries returns the entry names of the events tree, skipping hidden ones.
func (p *Provider) entries() ([]string, error) {
	infos, err := afero.ReadDir(p.fs, p.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

func (p *Provider) readInt(path string) (int64, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// writeInt writes v to an existing attribute file. Attribute files are never created.
func (p *Provider) writeInt(path string, v int64) error {
	f, err := p.fs.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = io.WriteString(f, strconv.FormatInt(v, 10)+"\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// writeRead writes v and returns the value the attribute holds afterwards.
func (p *Provider) writeRead(path string, v int64) (int64, error) {
	if err := p.writeInt(path, v); err != nil {
		return 0, err
	}
	return p.readInt(path)
}
