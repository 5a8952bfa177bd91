//go:build linux
// +build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package linux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelease(t *testing.T) {
	tests := map[string]struct {
		release string
		want    KernelVersion
		wantErr bool
	}{
		"distribution suffix": {release: "6.8.0-45-generic", want: KernelVersion{6, 8, 0}},
		"plain":               {release: "5.15.120", want: KernelVersion{5, 15, 120}},
		"release candidate":   {release: "6.11-rc3", want: KernelVersion{6, 11, 0}},
		"major only":          {release: "4", want: KernelVersion{Major: 4}},
		"garbage":             {release: "linux", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := parseRelease(tc.release)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKernelVersionAtLeast(t *testing.T) {
	v := KernelVersion{Major: 4, Minor: 7, Patch: 3}
	assert.True(t, v.AtLeast(4, 7))
	assert.True(t, v.AtLeast(3, 19))
	assert.False(t, v.AtLeast(4, 8))
	assert.False(t, v.AtLeast(5, 0))
	assert.Equal(t, "4.7.3", v.String())
}

func TestGetCurrentKernelVersion(t *testing.T) {
	v, err := GetCurrentKernelVersion()
	require.NoError(t, err)
	assert.NotZero(t, v.Major)
}
