// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package videoaccel

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfsampler/agent/counters"
)

const eventsXML = `<?xml version="1.0" encoding="UTF-8"?>
<events>
  <category name="Mali-V500">
    <event counter="ARM_Mali-V500_cnt0" title="MVE-V500 Stats" name="Samples"/>
    <event counter="ARM_Mali-V500_cnt1" title="MVE-V500 Stats" name="Bytes"/>
    <event counter="ARM_Mali-V500_evn3" title="MVE-V500" name="Frame"/>
    <event counter="ARM_Mali-V500_act" title="MVE-V500" name="Activity"
           activity1="activity" activity2="idle" activity3="busy"/>
    <event counter="Linux_cpu_wait" title="CPU" name="Wait"/>
    <event title="No counter"/>
  </category>
</events>`

type nameSink []string

func (s *nameSink) AddCounter(name string) { *s = append(*s, name) }

func newProvider(t *testing.T, withDevice bool) *Provider {
	t.Helper()
	fs := afero.NewMemMapFs()
	if withDevice {
		require.NoError(t, afero.WriteFile(fs, DefaultDevice, nil, 0o600))
	}
	p := New(fs, DefaultDevice, DefaultPrefix, counters.NewKeys())
	require.NoError(t, p.Configure(strings.NewReader(eventsXML)))
	return p
}

func TestConfigure(t *testing.T) {
	p := newProvider(t, true)

	require.Len(t, p.counters, 4)
	want := []struct {
		name     string
		category Category
		id       uint32
	}{
		{"ARM_Mali-V500_cnt0", CategoryCounter, 0},
		{"ARM_Mali-V500_cnt1", CategoryCounter, 1},
		{"ARM_Mali-V500_evn3", CategoryEvent, 3},
		{"ARM_Mali-V500_act", CategoryActivity, 0},
	}
	for i, w := range want {
		assert.Equal(t, w.name, p.counters[i].name)
		assert.Equal(t, w.category, p.counters[i].category)
		assert.Equal(t, w.id, p.counters[i].id)
	}
	assert.Equal(t, 3, p.ActivityCount())

	assert.Error(t, p.Configure(strings.NewReader("<events><event")))
}

func TestSetupAndEnabledIDs(t *testing.T) {
	p := newProvider(t, true)

	set := counters.NewSet(p)
	cnt1 := set.Add(counters.NewCounter("ARM_Mali-V500_cnt1"))
	evn3 := set.Add(counters.NewCounter("ARM_Mali-V500_evn3"))
	other := set.Add(counters.NewCounter("Linux_cpu_wait"))
	require.NoError(t, set.Setup())

	assert.True(t, set.Get(cnt1).Enabled)
	assert.True(t, set.Get(evn3).Enabled)
	assert.False(t, set.Get(other).Enabled)
	assert.NotEqual(t, set.Get(cnt1).Key, set.Get(evn3).Key)

	assert.Equal(t, []uint32{1}, p.EnabledIDs(CategoryCounter))
	assert.Equal(t, []uint32{3}, p.EnabledIDs(CategoryEvent))
	assert.Empty(t, p.EnabledIDs(CategoryActivity))
	assert.Equal(t, 2, p.CountEnabled())

	require.NoError(t, p.ResetAll())
	assert.Equal(t, 0, p.CountEnabled())
	assert.Empty(t, p.EnabledIDs(CategoryCounter))
}

func TestWriteDescriptorsRequiresDevice(t *testing.T) {
	tests := map[string]struct {
		device bool
		want   int
	}{
		"device present": {device: true, want: 4},
		"device absent":  {device: false, want: 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var sink nameSink
			n, err := newProvider(t, tc.device).WriteDescriptors(&sink)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
			assert.Len(t, sink, tc.want)
		})
	}
}

func TestLeadingUint(t *testing.T) {
	assert.Equal(t, uint32(12), leadingUint("12abc"))
	assert.Equal(t, uint32(0), leadingUint("abc"))
	assert.Equal(t, uint32(0), leadingUint(""))
}
