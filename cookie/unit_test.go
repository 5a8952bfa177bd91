// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfsampler/agent/frame"
	"github.com/perfsampler/agent/times"
)

// record is a decoded unit stream frame.
type record struct {
	op     int32
	cookie Cookie
	name   string
	owner  uint32
	offset uint64
}

func readFrames(t *testing.T, u *Unit) []record {
	t.Helper()
	var out bytes.Buffer
	_, err := u.Buffer().WriteTo(&out)
	require.NoError(t, err)

	var records []record
	dec := frame.NewDecoder(out.Bytes())
	for dec.Remaining() > 0 {
		op, err := dec.ReadInt()
		require.NoError(t, err)
		r := record{op: op}
		switch op {
		case frame.OpDefineSymbol:
			c, err := dec.ReadInt64()
			require.NoError(t, err)
			r.cookie = Cookie(c)
			r.name, err = dec.ReadString()
			require.NoError(t, err)
		case frame.OpSample:
			owner, err := dec.ReadInt64()
			require.NoError(t, err)
			c, err := dec.ReadInt64()
			require.NoError(t, err)
			offset, err := dec.ReadInt64()
			require.NoError(t, err)
			r.owner, r.cookie, r.offset = uint32(owner), Cookie(c), uint64(offset)
		default:
			t.Fatalf("unexpected opcode %d", op)
		}
		records = append(records, r)
	}
	return records
}

// spyResolver records the calls made to it.
type spyResolver struct {
	mu    sync.Mutex
	names map[uint32]string
	calls []uint32
}

func (s *spyResolver) ResolveName(owner uint32, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, owner)
	name, ok := s.names[owner]
	if !ok {
		return "", ErrResolutionFailure
	}
	return name, nil
}

func (s *spyResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestUnits(t *testing.T, count int, mod func(*Config)) *Units {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BufferSize = 64 << 10
	if mod != nil {
		mod(&cfg)
	}
	us, err := NewUnits(count, cfg)
	require.NoError(t, err)
	return us
}

func TestResolveIdempotent(t *testing.T) {
	u := newTestUnits(t, 4, nil).Unit(1)

	a := u.Resolve(Request{Owner: 7, Name: "libc.so.6"})
	b := u.Resolve(Request{Owner: 7, Name: "libm.so.6"})
	again := u.Resolve(Request{Owner: 7, Name: "libc.so.6"})

	assert.Equal(t, Cookie(5), a)
	assert.Equal(t, Cookie(9), b)
	assert.Equal(t, a, again)

	assert.Equal(t, []record{
		{op: frame.OpDefineSymbol, cookie: a, name: "libc.so.6"},
		{op: frame.OpDefineSymbol, cookie: b, name: "libm.so.6"},
	}, readFrames(t, u))
}

func TestCookiesUniqueAcrossUnits(t *testing.T) {
	const count = 4
	us := newTestUnits(t, count, nil)

	seen := make(map[Cookie]int)
	for _, u := range us.All() {
		for i := range 200 {
			c := u.Resolve(Request{Owner: uint32(i), Name: fmt.Sprintf("lib%d.so", i)})
			require.True(t, c.Valid())
			assert.Equal(t, u.Index(), int(c)%count)
			prev, dup := seen[c]
			require.False(t, dup, "cookie %v issued by units %d and %d", c, prev, u.Index())
			seen[c] = u.Index()
		}
	}
}

func TestAllocatorSkipsReservedValues(t *testing.T) {
	u := newTestUnits(t, 1, nil).Unit(0)
	u.next = InvalidCookie

	c := u.Resolve(Request{Owner: 1, Name: "a"})
	assert.Equal(t, Cookie(1), c)
}

func TestEvictionReissuesCookie(t *testing.T) {
	u := newTestUnits(t, 1, func(cfg *Config) {
		cfg.Buckets = 1
		cfg.Ways = 2
	}).Unit(0)

	a := u.Resolve(Request{Owner: 1, Name: "A"})
	b := u.Resolve(Request{Owner: 1, Name: "B"})
	assert.Equal(t, a, u.Resolve(Request{Owner: 1, Name: "A"}))
	c := u.Resolve(Request{Owner: 1, Name: "C"})

	// B was least recently used and got evicted by C.
	b2 := u.Resolve(Request{Owner: 1, Name: "B"})
	assert.NotEqual(t, b, b2)

	records := readFrames(t, u)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"A", "B", "C", "B"},
		[]string{records[0].name, records[1].name, records[2].name, records[3].name})
	assert.Equal(t, []Cookie{a, b, c, b2},
		[]Cookie{records[0].cookie, records[1].cookie, records[2].cookie, records[3].cookie})
}

func TestCacheMemoryIsBounded(t *testing.T) {
	u := newTestUnits(t, 1, func(cfg *Config) {
		cfg.Buckets = 4
		cfg.Ways = 2
		cfg.BufferSize = 1 << 20
	}).Unit(0)

	for i := range 1000 {
		require.True(t, u.Resolve(Request{Owner: 1, Name: fmt.Sprintf("sym%d", i)}).Valid())
	}
	assert.Len(t, u.cache.keys, 8)
	assert.Len(t, readFrames(t, u), 1000)
}

func TestDefineFrameDroppedWhenBufferFull(t *testing.T) {
	u := newTestUnits(t, 1, func(cfg *Config) {
		cfg.BufferSize = 16
	}).Unit(0)

	c := u.Resolve(Request{Owner: 1, Name: "a-rather-long-library-name.so"})
	assert.Equal(t, InvalidCookie, c)
	_, ok := u.Lookup(1, "a-rather-long-library-name.so")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), u.stats.defineDropped.Load())

	// A short name still fits and gets the cookie the dropped define would have used.
	assert.Equal(t, Cookie(1), u.Resolve(Request{Owner: 1, Name: "a"}))
}

func TestDeferredResolutionDoesNotBlock(t *testing.T) {
	spy := &spyResolver{names: map[uint32]string{42: "com.example.app"}}
	u := newTestUnits(t, 1, func(cfg *Config) { cfg.Resolver = spy }).Unit(0)

	req := Request{Owner: 42, Name: "app_process64", Deferred: true}
	assert.Equal(t, InvalidCookie, u.Resolve(req))
	assert.Equal(t, InvalidCookie, u.Resolve(req))
	assert.Equal(t, 0, spy.callCount())
	assert.Equal(t, 1, u.Queue().Len())
	assert.Equal(t, uint64(1), u.stats.duplicate.Load())

	assert.Equal(t, 1, u.DrainPending())
	assert.Equal(t, 1, spy.callCount())

	c := u.Resolve(req)
	require.True(t, c.Valid())
	assert.Equal(t, []record{
		{op: frame.OpDefineSymbol, cookie: c, name: "com.example.app"},
	}, readFrames(t, u))
}

func TestPlaceholderNamesAreNotCached(t *testing.T) {
	spy := &spyResolver{names: map[uint32]string{42: "zygote64"}}
	u := newTestUnits(t, 1, func(cfg *Config) { cfg.Resolver = spy }).Unit(0)

	assert.Equal(t, InvalidCookie,
		u.Resolve(Request{Owner: 42, Name: "app_process64", Display: "<pre-initialized>"}))

	u.Resolve(Request{Owner: 42, Name: "app_process64", Deferred: true})
	u.DrainPending()
	assert.Equal(t, uint64(1), u.stats.failed.Load())

	_, ok := u.Lookup(42, "app_process64")
	assert.False(t, ok)
	assert.Empty(t, readFrames(t, u))

	// Once the launcher reports the real name it is defined.
	spy.names[42] = "com.example.app"
	u.Resolve(Request{Owner: 42, Name: "app_process64", Deferred: true})
	u.DrainPending()
	c, ok := u.Lookup(42, "app_process64")
	require.True(t, ok)
	assert.Equal(t, []record{
		{op: frame.OpDefineSymbol, cookie: c, name: "com.example.app"},
	}, readFrames(t, u))
}

func TestPendingExpiry(t *testing.T) {
	spy := &spyResolver{names: map[uint32]string{1: "app"}}
	u := newTestUnits(t, 1, func(cfg *Config) {
		cfg.Resolver = spy
		cfg.PendingTTL = time.Second
	}).Unit(0)

	u.Queue().Push(Pending{
		Owner:    1,
		Symbol:   "app_process",
		Enqueued: times.GetKTime() - times.KTime(time.Minute),
	})
	assert.Equal(t, 1, u.DrainPending())
	assert.Equal(t, 0, spy.callCount())
	assert.Equal(t, uint64(1), u.stats.expired.Load())
}

func TestMappingCookies(t *testing.T) {
	spy := &spyResolver{names: map[uint32]string{100: "com.example.app"}}
	u := newTestUnits(t, 1, func(cfg *Config) { cfg.Resolver = spy }).Unit(0)

	maps := []Mapping{
		{Start: 0x1000, End: 0x2000, Path: "/system/bin/app_process64", Exec: true},
		{Start: 0x2000, End: 0x3000},
		{Start: 0x7000, End: 0x9000, FileOffset: 0x400, Path: "/system/lib64/libc.so", Exec: true},
	}

	tests := map[string]struct {
		addr       uint64
		wantCookie func(Cookie) bool
		wantOffset uint64
	}{
		"anonymous": {addr: 0x2100, wantOffset: 0x2100,
			wantCookie: func(c Cookie) bool { return c == NoCookie }},
		"unmapped": {addr: 0x5000,
			wantCookie: func(c Cookie) bool { return c == InvalidCookie }},
		"file": {addr: 0x7010, wantOffset: 0x410,
			wantCookie: func(c Cookie) bool { return c.Valid() }},
		"launcher": {addr: 0x1010, wantOffset: 0x10,
			wantCookie: func(c Cookie) bool { return c.Valid() }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, offset := u.AddressCookie(ModeBlocking, 100, maps, tc.addr)
			assert.True(t, tc.wantCookie(c), "unexpected cookie %v", c)
			assert.Equal(t, tc.wantOffset, offset)
		})
	}

	names := make(map[string]bool)
	for _, r := range readFrames(t, u) {
		names[r.name] = true
	}
	assert.Equal(t, map[string]bool{"libc.so": true, "com.example.app": true}, names)

	assert.Equal(t, NoCookie, u.ExecCookie(ModeAtomic, 100, nil))
	exec := u.ExecCookie(ModeAtomic, 100, maps)
	launcher, _ := u.AddressCookie(ModeBlocking, 100, maps, 0x1000)
	assert.Equal(t, launcher, exec)
}

func TestLauncherMappingDeferredInAtomicMode(t *testing.T) {
	spy := &spyResolver{names: map[uint32]string{5: "com.example.app"}}
	u := newTestUnits(t, 1, func(cfg *Config) { cfg.Resolver = spy }).Unit(0)

	m := &Mapping{Start: 0, End: 0x1000, Path: "/system/bin/app_process", Exec: true}
	assert.Equal(t, InvalidCookie, u.MappingCookie(ModeAtomic, 5, m))
	assert.Equal(t, 0, spy.callCount())
	assert.Equal(t, 1, u.Queue().Len())
}

func TestRecordSampleDefinesBeforeUse(t *testing.T) {
	u := newTestUnits(t, 2, nil).Unit(0)
	maps := []Mapping{{Start: 0x400000, End: 0x500000, Path: "/usr/bin/daemon", Exec: true}}

	c, err := u.RecordSample(ModeAtomic, 77, maps, 0x400123)
	require.NoError(t, err)
	_, err = u.RecordSample(ModeAtomic, 77, maps, 0x400456)
	require.NoError(t, err)

	assert.Equal(t, []record{
		{op: frame.OpDefineSymbol, cookie: c, name: "daemon"},
		{op: frame.OpSample, owner: 77, cookie: c, offset: 0x123},
		{op: frame.OpSample, owner: 77, cookie: c, offset: 0x456},
	}, readFrames(t, u))
}

func TestModuleCookie(t *testing.T) {
	u := newTestUnits(t, 1, nil).Unit(0)
	c := u.ModuleCookie(0, "nvidia")
	assert.Equal(t, c, u.ModuleCookie(0, "nvidia"))
	assert.Equal(t, []record{
		{op: frame.OpDefineSymbol, cookie: c, name: "nvidia"},
	}, readFrames(t, u))
}

func TestUnitsReset(t *testing.T) {
	us := newTestUnits(t, 2, nil)
	u := us.Unit(1)
	first := u.Resolve(Request{Owner: 1, Name: "a"})
	u.Resolve(Request{Owner: 2, Name: "b", Deferred: true})
	us.Reset()

	assert.Equal(t, 0, u.Queue().Len())
	_, ok := u.Lookup(1, "a")
	assert.False(t, ok)
	assert.Equal(t, first, u.Resolve(Request{Owner: 1, Name: "a"}))
}

func TestUnitsRunResolvesInBackground(t *testing.T) {
	spy := &spyResolver{names: map[uint32]string{3: "com.example.app"}}
	us := newTestUnits(t, 2, func(cfg *Config) { cfg.Resolver = spy })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- us.Run(ctx) }()

	u := us.Unit(1)
	assert.Equal(t, InvalidCookie, u.Resolve(Request{Owner: 3, Name: "app_process", Deferred: true}))
	assert.Eventually(t, func() bool {
		return u.stats.resolved.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)
	_, ok := u.Lookup(3, "app_process")
	assert.True(t, ok)

	cancel()
	require.NoError(t, <-done)
	us.CollectMetrics()
	assert.Equal(t, uint64(0), u.stats.resolved.Load())
}

func TestNewUnitsValidation(t *testing.T) {
	_, err := NewUnits(0, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.QueueSize = 100
	_, err = NewUnits(1, cfg)
	require.Error(t, err)
}
