// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie // import "github.com/perfsampler/agent/cookie"

import (
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/perfsampler/agent/buffer"
	"github.com/perfsampler/agent/frame"
	"github.com/perfsampler/agent/times"
)

// Mode tells a lookup what the calling context is allowed to do.
type Mode uint8

const (
	// ModeAtomic is the sampling hot path: no blocking, no reads of process memory. Names
	// that need such reads are handed to the unit's worker.
	ModeAtomic Mode = iota
	// ModeBlocking may read process state to determine names.
	ModeBlocking
)

// NameResolver determines the display name of a symbol that cannot be named from the
// sampling path, typically by reading the owning process' arguments.
type NameResolver interface {
	ResolveName(owner uint32, symbol string) (string, error)
}

// Request describes one symbol to resolve.
type Request struct {
	// Owner is the process group the symbol belongs to.
	Owner uint32
	// Name is the raw symbol name. Its checksum keys the cache.
	Name string
	// Display is the name written to the define-symbol frame. Name is used if empty.
	Display string
	// Deferred is set when the display name needs work that is not allowed in the
	// calling context. A miss then queues the symbol for the worker.
	Deferred bool
}

// Mapping is one memory mapping of a process.
type Mapping struct {
	Start, End uint64
	// FileOffset is the offset of Start within the mapped file.
	FileOffset uint64
	// Path is empty for anonymous mappings.
	Path string
	Exec bool
}

// unitStats are swapped into the metrics package periodically.
type unitStats struct {
	hit, miss, evicted, issued, defineDropped atomic.Uint64
	enqueued, duplicate, dropped              atomic.Uint64
	resolved, failed, expired                 atomic.Uint64
}

// Unit is the per collection unit state: cookie cache, cookie allocator, deferred queue
// and output buffer.
type Unit struct {
	// mu serializes the unit's own sampling path and its worker. It is never shared with
	// another unit.
	mu sync.Mutex

	index int
	count int
	next  Cookie

	cache    *Cache
	queue    *Queue
	out      *buffer.Buffer
	scratch  *frame.Encoder
	resolver NameResolver
	cfg      Config

	stats unitStats
}

func newUnit(index, count int, cfg Config) (*Unit, error) {
	cache, err := NewCache(cfg.Buckets, cfg.Ways)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	out, err := buffer.New(cfg.BufferSize, fmt.Sprintf("unit-%d", index))
	if err != nil {
		return nil, err
	}
	u := &Unit{
		index:    index,
		count:    count,
		cache:    cache,
		queue:    queue,
		out:      out,
		scratch:  frame.New(cfg.FrameSize),
		resolver: cfg.Resolver,
		cfg:      cfg,
	}
	u.reset()
	return u, nil
}

// Index returns the unit index.
func (u *Unit) Index() int { return u.index }

// Buffer returns the unit output buffer.
func (u *Unit) Buffer() *buffer.Buffer { return u.out }

// Queue returns the unit deferred resolution queue.
func (u *Unit) Queue() *Queue { return u.queue }

func (u *Unit) reset() {
	u.cache.Reset()
	u.queue.Reset()
	u.next = Cookie(u.count + u.index)
}

// Reset invalidates the cache, empties the queue and reseeds the allocator. It must not
// run while the unit's worker is active.
func (u *Unit) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reset()
}

// peekCookie returns the next cookie without consuming it.
func (u *Unit) peekCookie() Cookie {
	for !u.next.Valid() {
		u.next += Cookie(u.count)
	}
	return u.next
}

// Lookup returns the cookie for a symbol if the unit already knows it.
func (u *Unit) Lookup(owner uint32, name string) (Cookie, bool) {
	key := MakeKey(name, owner)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cache.Lookup(key)
}

// Resolve returns the cookie for req, defining it in the unit stream on first sight.
//
// A miss for a Deferred request returns InvalidCookie right away and queues the symbol for
// the worker, unless the owner is already waiting. Launcher placeholder names are never
// cached, so the real application name is picked up once the launcher has finished
// starting. A define frame that does not fit the unit buffer yields InvalidCookie and
// leaves the cache untouched, so the symbol is retried on its next occurrence.
func (u *Unit) Resolve(req Request) Cookie {
	key := MakeKey(req.Name, req.Owner)

	u.mu.Lock()
	defer u.mu.Unlock()

	if c, ok := u.cache.Lookup(key); ok {
		u.stats.hit.Add(1)
		return c
	}
	u.stats.miss.Add(1)

	if req.Deferred {
		u.enqueue(req.Owner, req.Name)
		return InvalidCookie
	}

	display := req.Display
	if display == "" {
		display = req.Name
	}
	if IsPlaceholder(display) {
		return InvalidCookie
	}
	return u.insert(key, display)
}

func (u *Unit) enqueue(owner uint32, symbol string) {
	switch u.queue.Push(Pending{Owner: owner, Symbol: symbol, Enqueued: times.GetKTime()}) {
	case Queued:
		u.stats.enqueued.Add(1)
	case Duplicate:
		u.stats.duplicate.Add(1)
	case Dropped:
		u.stats.dropped.Add(1)
	}
}

// insert allocates a cookie for key and appends its define frame. Must hold u.mu.
func (u *Unit) insert(key Key, display string) Cookie {
	c := u.peekCookie()

	u.scratch.Reset()
	if err := encodeDefine(u.scratch, c, display); err != nil {
		u.stats.defineDropped.Add(1)
		return InvalidCookie
	}
	if err := u.out.Append(u.scratch.Bytes()); err != nil {
		u.stats.defineDropped.Add(1)
		return InvalidCookie
	}

	u.next += Cookie(u.count)
	if u.cache.Insert(key, c) {
		u.stats.evicted.Add(1)
	}
	u.stats.issued.Add(1)
	return c
}

func encodeDefine(enc *frame.Encoder, c Cookie, name string) error {
	if err := enc.PackInt(frame.OpDefineSymbol); err != nil {
		return err
	}
	if err := enc.PackInt64(int64(c)); err != nil {
		return err
	}
	return enc.PackString(name)
}

// Emit builds one frame with fn in the unit scratch encoder and appends it to the unit
// buffer. The frame is dropped entirely if fn fails or the buffer has no room.
func (u *Unit) Emit(fn func(enc *frame.Encoder) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.scratch.Reset()
	if err := fn(u.scratch); err != nil {
		return err
	}
	return u.out.Append(u.scratch.Bytes())
}

// ModuleCookie returns the cookie of a kernel module. Module names are used as is.
func (u *Unit) ModuleCookie(owner uint32, module string) Cookie {
	return u.Resolve(Request{Owner: owner, Name: module})
}

// MappingCookie returns the cookie of the file backing m. The cache is keyed by the file
// name; for launcher binaries the application name is looked up through the resolver,
// which in ModeAtomic is deferred to the worker.
func (u *Unit) MappingCookie(mode Mode, owner uint32, m *Mapping) Cookie {
	if m == nil || m.Path == "" {
		return InvalidCookie
	}
	name := path.Base(m.Path)
	if !IsLauncher(name) || u.resolver == nil {
		return u.Resolve(Request{Owner: owner, Name: name})
	}

	if mode == ModeAtomic {
		return u.Resolve(Request{Owner: owner, Name: name, Deferred: true})
	}

	if c, ok := u.Lookup(owner, name); ok {
		u.stats.hit.Add(1)
		return c
	}
	display, err := u.resolver.ResolveName(owner, name)
	if err != nil {
		u.stats.failed.Add(1)
		return InvalidCookie
	}
	return u.Resolve(Request{Owner: owner, Name: name, Display: display})
}

// ExecCookie returns the cookie of the first executable file mapping, or NoCookie for
// processes without one (kernel threads).
func (u *Unit) ExecCookie(mode Mode, owner uint32, maps []Mapping) Cookie {
	for i := range maps {
		if maps[i].Path == "" || !maps[i].Exec {
			continue
		}
		return u.MappingCookie(mode, owner, &maps[i])
	}
	return NoCookie
}

// AddressCookie returns the cookie of the mapping containing addr and the offset of addr
// in its file. Anonymous memory yields NoCookie with addr itself as offset; an unmapped
// address yields InvalidCookie.
func (u *Unit) AddressCookie(mode Mode, owner uint32, maps []Mapping,
	addr uint64) (Cookie, uint64) {
	for i := range maps {
		m := &maps[i]
		if addr < m.Start || addr >= m.End {
			continue
		}
		if m.Path == "" {
			return NoCookie, addr
		}
		return u.MappingCookie(mode, owner, m), m.FileOffset + addr - m.Start
	}
	return InvalidCookie, 0
}

// RecordSample appends a sample frame for addr in owner. The define frame of a newly seen
// symbol is always appended before the sample frame referencing its cookie.
func (u *Unit) RecordSample(mode Mode, owner uint32, maps []Mapping, addr uint64) (Cookie, error) {
	c, offset := u.AddressCookie(mode, owner, maps, addr)
	err := u.Emit(func(enc *frame.Encoder) error {
		if err := enc.PackInt(frame.OpSample); err != nil {
			return err
		}
		if err := enc.PackInt64(int64(owner)); err != nil {
			return err
		}
		if err := enc.PackInt64(int64(c)); err != nil {
			return err
		}
		return enc.PackInt64(int64(offset))
	})
	return c, err
}
