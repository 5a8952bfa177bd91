// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheValidation(t *testing.T) {
	tests := map[string]struct {
		buckets, ways int
		wantErr       bool
	}{
		"valid":              {buckets: 1024, ways: 2},
		"single bucket":      {buckets: 1, ways: 4},
		"not a power of two": {buckets: 1000, ways: 2, wantErr: true},
		"zero buckets":       {buckets: 0, ways: 2, wantErr: true},
		"zero ways":          {buckets: 16, ways: 0, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := NewCache(tc.buckets, tc.ways)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.buckets, c.Buckets())
			assert.Equal(t, tc.ways, c.Ways())
		})
	}
}

func TestCacheMoveToFront(t *testing.T) {
	c, err := NewCache(1, 3)
	require.NoError(t, err)

	a, b, d := MakeKey("a", 1), MakeKey("b", 1), MakeKey("d", 1)
	assert.False(t, c.Insert(a, 10))
	assert.False(t, c.Insert(b, 20))
	assert.False(t, c.Insert(d, 30))

	// [d][b][a] -> lookup a -> [a][d][b]
	v, ok := c.Lookup(a)
	require.True(t, ok)
	assert.Equal(t, Cookie(10), v)
	assert.Equal(t, []Key{a, d, b}, c.keys)
	assert.Equal(t, []Cookie{10, 30, 20}, c.values)

	// A full bucket evicts its least recently used entry, which is now b.
	assert.True(t, c.Insert(MakeKey("e", 1), 40))
	_, ok = c.Lookup(b)
	assert.False(t, ok)
	_, ok = c.Lookup(a)
	assert.True(t, ok)
}

func TestCacheOwnerIsPartOfKey(t *testing.T) {
	c, err := NewCache(16, 2)
	require.NoError(t, err)

	c.Insert(MakeKey("libc.so", 100), 5)
	_, ok := c.Lookup(MakeKey("libc.so", 200))
	assert.False(t, ok)
	v, ok := c.Lookup(MakeKey("libc.so", 100))
	assert.True(t, ok)
	assert.Equal(t, Cookie(5), v)
}

func TestCacheReset(t *testing.T) {
	c, err := NewCache(4, 2)
	require.NoError(t, err)
	k := MakeKey("x", 1)
	c.Insert(k, 7)
	c.Reset()
	_, ok := c.Lookup(k)
	assert.False(t, ok)
}
