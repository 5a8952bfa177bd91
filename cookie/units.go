// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie // import "github.com/perfsampler/agent/cookie"

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/perfsampler/agent/metrics"
)

// Config holds the per unit sizing shared by all units.
type Config struct {
	// Buckets is the number of cache buckets. Must be a power of two.
	Buckets int
	// Ways is the number of entries per bucket.
	Ways int
	// QueueSize is the deferred queue capacity. Must be a power of two.
	QueueSize int
	// FrameSize is the capacity of the scratch encoder frames are built in.
	FrameSize int
	// BufferSize is the capacity of the unit output buffer.
	BufferSize int
	// PendingTTL drops queued entries older than this at drain time. Zero keeps them
	// until they are drained.
	PendingTTL time.Duration
	// Resolver names deferred symbols. Without one, deferred entries are discarded.
	Resolver NameResolver
}

// DefaultConfig returns the sizing used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		Buckets:    1024,
		Ways:       2,
		QueueSize:  256,
		FrameSize:  512,
		BufferSize: 1 << 20,
		PendingTTL: 5 * time.Second,
	}
}

// Units is the set of collection units of a capture session.
type Units struct {
	units []*Unit
}

// NewUnits creates count independent units.
func NewUnits(count int, cfg Config) (*Units, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid unit count %d", count)
	}
	if cfg.FrameSize <= 0 {
		return nil, errors.New("frame size must be positive")
	}
	us := &Units{units: make([]*Unit, count)}
	for i := range us.units {
		u, err := newUnit(i, count, cfg)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
		us.units[i] = u
	}
	return us, nil
}

// Len returns the number of units.
func (us *Units) Len() int { return len(us.units) }

// Unit returns unit i.
func (us *Units) Unit(i int) *Unit { return us.units[i] }

// All returns all units in index order.
func (us *Units) All() []*Unit { return us.units }

// Reset resets every unit. Workers must be stopped.
func (us *Units) Reset() {
	for _, u := range us.units {
		u.Reset()
	}
}

// Run runs one deferred resolution worker per unit until ctx is done.
func (us *Units) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range us.units {
		g.Go(func() error {
			u.RunWorker(ctx)
			return nil
		})
	}
	err := g.Wait()
	log.Debugf("Stopped %d cookie workers", len(us.units))
	return err
}

// CollectMetrics moves the unit counters into the metrics package.
func (us *Units) CollectMetrics() {
	var (
		hit, miss, evicted, issued, defineDropped uint64
		enqueued, duplicate, dropped              uint64
		resolved, failed, expired                 uint64
	)
	for _, u := range us.units {
		s := &u.stats
		hit += s.hit.Swap(0)
		miss += s.miss.Swap(0)
		evicted += s.evicted.Swap(0)
		issued += s.issued.Swap(0)
		defineDropped += s.defineDropped.Swap(0)
		enqueued += s.enqueued.Swap(0)
		duplicate += s.duplicate.Swap(0)
		dropped += s.dropped.Swap(0)
		resolved += s.resolved.Swap(0)
		failed += s.failed.Swap(0)
		expired += s.expired.Swap(0)
	}
	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDCookieCacheHit, Value: metrics.MetricValue(hit)},
		{ID: metrics.IDCookieCacheMiss, Value: metrics.MetricValue(miss)},
		{ID: metrics.IDCookieCacheEvicted, Value: metrics.MetricValue(evicted)},
		{ID: metrics.IDCookiesIssued, Value: metrics.MetricValue(issued)},
		{ID: metrics.IDDefineFrameDropped, Value: metrics.MetricValue(defineDropped)},
		{ID: metrics.IDDeferredEnqueued, Value: metrics.MetricValue(enqueued)},
		{ID: metrics.IDDeferredDuplicate, Value: metrics.MetricValue(duplicate)},
		{ID: metrics.IDDeferredDropped, Value: metrics.MetricValue(dropped)},
		{ID: metrics.IDDeferredResolved, Value: metrics.MetricValue(resolved)},
		{ID: metrics.IDDeferredFailed, Value: metrics.MetricValue(failed)},
		{ID: metrics.IDDeferredExpired, Value: metrics.MetricValue(expired)},
	})
}
