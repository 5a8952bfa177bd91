// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package counters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name     string
	types    map[string]int32
	setupErr error
	resetErr error
	enabled  int
	resets   int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Claim(c *Counter) bool {
	_, ok := f.types[c.Type]
	return ok
}

func (f *fakeSource) Setup(c *Counter) error {
	if f.setupErr != nil {
		return f.setupErr
	}
	c.Key = f.types[c.Type]
	f.enabled++
	return nil
}

func (f *fakeSource) ResetAll() error {
	f.resets++
	f.enabled = 0
	return f.resetErr
}

func (f *fakeSource) WriteDescriptors(sink DescriptorSink) (int, error) {
	for typ := range f.types {
		sink.AddCounter(typ)
	}
	return len(f.types), nil
}

func (f *fakeSource) CountEnabled() int { return f.enabled }

type fakeReader struct{ fakeSource }

func (*fakeReader) Start(context.Context, int) error { return nil }

func (*fakeReader) Read(int, func(key int32, value int64)) error { return nil }

func (*fakeReader) Stop() error { return nil }

type countSink struct{ names []string }

func (s *countSink) AddCounter(name string) { s.names = append(s.names, name) }

func TestSetSetup(t *testing.T) {
	first := &fakeSource{name: "first", types: map[string]int32{"a": 2, "shared": 4}}
	second := &fakeReader{fakeSource{name: "second", types: map[string]int32{"b": 6, "shared": 8}}}
	set := NewSet(first, second)

	a := set.Add(NewCounter("a"))
	b := set.Add(NewCounter("b"))
	shared := set.Add(NewCounter("shared"))
	unknown := set.Add(NewCounter("unknown"))
	off := NewCounter("b")
	off.Enabled = false
	disabled := set.Add(off)

	require.NoError(t, set.Setup())

	assert.Equal(t, int32(2), set.Get(a).Key)
	assert.Equal(t, int32(6), set.Get(b).Key)
	assert.Equal(t, int32(4), set.Get(shared).Key, "first claiming provider wins")
	assert.Same(t, Source(first), set.Owner(shared))
	assert.False(t, set.Get(unknown).Enabled)
	assert.Nil(t, set.Owner(unknown))
	assert.False(t, set.Get(disabled).Enabled)

	assert.Len(t, set.Enabled(), 3)
	assert.Equal(t, 3, set.CountEnabled())
	assert.Equal(t, []Reader{second}, set.Readers())

	var sink countSink
	n, err := set.WriteDescriptors(&sink)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSetSetupErrors(t *testing.T) {
	tests := map[string]struct {
		err       error
		wantAbort bool
	}{
		"unsupported feature aborts": {err: ErrProviderUnsupported, wantAbort: true},
		"other errors disable":       {err: errors.New("boom")},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			src := &fakeSource{name: "src", types: map[string]int32{"a": 2}, setupErr: tc.err}
			set := NewSet(src)
			h := set.Add(NewCounter("a"))

			err := set.Setup()
			if tc.wantAbort {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.False(t, set.Get(h).Enabled)
		})
	}
}

func TestSetResetAll(t *testing.T) {
	boom := errors.New("boom")
	first := &fakeSource{name: "first", types: map[string]int32{"a": 2}, resetErr: boom}
	second := &fakeSource{name: "second", types: map[string]int32{"b": 4}}
	set := NewSet(first, second)
	set.Add(NewCounter("a"))
	set.Add(NewCounter("b"))
	require.NoError(t, set.Setup())

	err := set.ResetAll()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, first.resets)
	assert.Equal(t, 1, second.resets)
	assert.Empty(t, set.Enabled())
}

func TestKeys(t *testing.T) {
	k := NewKeys()
	assert.Equal(t, int32(2), k.Next())
	assert.Equal(t, int32(4), k.Next())
	assert.Equal(t, int32(6), k.Next())
}
