// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie // import "github.com/perfsampler/agent/cookie"

import (
	"fmt"
	"math/bits"
)

// Cache is a set-associative cache from Key to Cookie. Every bucket is a tiny LRU list of
// ways entries: a hit moves the entry to the front, an insertion shifts the whole bucket by
// one and drops the least recently used entry. Lookups and insertions do no allocation and
// at most ways comparisons and moves, so they are safe on the sampling hot path.
//
// Cache is not safe for concurrent use; its owning Unit serializes access.
type Cache struct {
	ways   int
	mask   uint32
	keys   []Key
	values []Cookie
}

// NewCache returns a cache of buckets*ways entries. buckets must be a power of two.
func NewCache(buckets, ways int) (*Cache, error) {
	if buckets <= 0 || bits.OnesCount(uint(buckets)) != 1 {
		return nil, fmt.Errorf("cookie cache buckets must be a power of two: %d", buckets)
	}
	if ways <= 0 {
		return nil, fmt.Errorf("cookie cache needs at least one way per bucket: %d", ways)
	}
	return &Cache{
		ways:   ways,
		mask:   uint32(buckets - 1),
		keys:   make([]Key, buckets*ways),
		values: make([]Cookie, buckets*ways),
	}, nil
}

// Ways returns the capacity of a single bucket.
func (c *Cache) Ways() int { return c.ways }

// Buckets returns the number of buckets.
func (c *Cache) Buckets() int { return int(c.mask) + 1 }

func (c *Cache) bucketIndex(k Key) int {
	return int(k.fold() & c.mask)
}

// bucket returns the key and value slots of the bucket k maps to.
func (c *Cache) bucket(k Key) ([]Key, []Cookie) {
	base := c.bucketIndex(k) * c.ways
	return c.keys[base : base+c.ways], c.values[base : base+c.ways]
}

// Lookup returns the cookie stored for k and promotes it to most recently used.
//
//	Pre:  [0][1][k][3]..[n-1]
//	Post: [k][0][1][3]..[n-1]
func (c *Cache) Lookup(k Key) (Cookie, bool) {
	keys, values := c.bucket(k)
	for x := range keys {
		// Empty slots hold NoCookie, which is never issued.
		if values[x] == NoCookie || keys[x] != k {
			continue
		}
		v := values[x]
		copy(keys[1:x+1], keys[:x])
		copy(values[1:x+1], values[:x])
		keys[0], values[0] = k, v
		return v, true
	}
	return NoCookie, false
}

// Insert stores k at the most recently used position of its bucket. It reports whether a
// live entry was evicted to make room.
//
//	Pre:  [0][1][2][3]..[n-1]
//	Post: [k][0][1][2]..[n-2]
func (c *Cache) Insert(k Key, v Cookie) (evicted bool) {
	keys, values := c.bucket(k)
	last := len(keys) - 1
	evicted = values[last] != NoCookie
	copy(keys[1:], keys[:last])
	copy(values[1:], values[:last])
	keys[0], values[0] = k, v
	return evicted
}

// Reset invalidates every entry.
func (c *Cache) Reset() {
	clear(c.keys)
	clear(c.values)
}
