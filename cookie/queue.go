// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie // import "github.com/perfsampler/agent/cookie"

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/perfsampler/agent/times"
)

// Pending is a symbol whose display name could not be determined in the context that first
// saw it.
type Pending struct {
	// Owner is the process group the symbol belongs to.
	Owner uint32
	// Symbol is the raw symbol name that keys the cache, e.g. the mapped binary name.
	Symbol string
	// Enqueued is the time the entry was queued.
	Enqueued times.KTime
}

// PushResult tells what Queue.Push did with an entry.
type PushResult uint8

const (
	// Queued means the entry was added and the worker was signaled.
	Queued PushResult = iota
	// Duplicate means an entry for the same owner is already waiting.
	Duplicate
	// Dropped means the queue was full.
	Dropped
)

// Queue is a bounded ring of pending resolutions with exactly one producer (the unit's
// sampling path) and one consumer (the unit's worker). Positions are free running and only
// ever advanced by their owner, so Push and Drain never block each other.
type Queue struct {
	entries []Pending
	mask    uint32

	// read is advanced by the consumer only.
	read atomic.Uint32
	// write is advanced by the producer only.
	write atomic.Uint32

	// wake holds at most one pending signal for the worker.
	wake chan struct{}
}

// NewQueue returns a queue with room for size entries. size must be a power of two.
func NewQueue(size int) (*Queue, error) {
	if size <= 0 || bits.OnesCount(uint(size)) != 1 {
		return nil, fmt.Errorf("deferred queue size must be a power of two: %d", size)
	}
	return &Queue{
		entries: make([]Pending, size),
		mask:    uint32(size - 1),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.entries) }

// Len returns the number of entries waiting to be drained.
func (q *Queue) Len() int {
	return int(q.write.Load() - q.read.Load())
}

// Wake returns the channel the worker waits on.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Push adds p unless an entry for the same owner is still waiting or the queue is full.
// It never blocks.
func (q *Queue) Push(p Pending) PushResult {
	write := q.write.Load()
	read := q.read.Load()

	for pos := read; pos != write; pos++ {
		if q.entries[pos&q.mask].Owner == p.Owner {
			return Duplicate
		}
	}

	if write-read >= uint32(len(q.entries)) {
		return Dropped
	}

	q.entries[write&q.mask] = p
	q.write.Store(write + 1)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return Queued
}

// Drain calls fn for every entry that was queued when Drain started. Entries pushed while
// draining are left for the next round, so a producer that keeps pushing cannot keep the
// worker busy forever. It returns the number of entries handed to fn.
func (q *Queue) Drain(fn func(Pending)) int {
	commit := q.write.Load()
	n := 0
	for pos := q.read.Load(); pos != commit; pos++ {
		p := q.entries[pos&q.mask]
		q.read.Store(pos + 1)
		fn(p)
		n++
	}
	return n
}

// Reset discards all entries. It must not run concurrently with Push or Drain.
func (q *Queue) Reset() {
	clear(q.entries)
	q.read.Store(0)
	q.write.Store(0)
	select {
	case <-q.wake:
	default:
	}
}
