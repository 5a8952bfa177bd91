// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := map[string]struct {
		args  []string
		env   map[string]string
		check func(t *testing.T, units int, live, ttl time.Duration, socket string, verbose bool)
	}{
		"defaults": {
			check: func(t *testing.T, units int, live, ttl time.Duration, socket string,
				verbose bool) {
				assert.Positive(t, units)
				assert.Equal(t, defaultArgLiveRate, live)
				assert.Equal(t, defaultArgPendingTTL, ttl)
				assert.Empty(t, socket)
				assert.False(t, verbose)
			},
		},
		"flags": {
			args: []string{"-units", "3", "-live-rate", "2ms", "-pending-ttl", "0",
				"-external-socket", "/tmp/agent.sock", "-v"},
			check: func(t *testing.T, units int, live, ttl time.Duration, socket string,
				verbose bool) {
				assert.Equal(t, 3, units)
				assert.Equal(t, 2*time.Millisecond, live)
				assert.Zero(t, ttl)
				assert.Equal(t, "/tmp/agent.sock", socket)
				assert.True(t, verbose)
			},
		},
		"environment": {
			env: map[string]string{
				"PERF_SAMPLER_UNITS":     "5",
				"PERF_SAMPLER_LIVE_RATE": "1s",
				"PERF_SAMPLER_VERBOSE":   "true",
			},
			check: func(t *testing.T, units int, live, _ time.Duration, _ string, verbose bool) {
				assert.Equal(t, 5, units)
				assert.Equal(t, time.Second, live)
				assert.True(t, verbose)
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := parseArgs(tc.args)
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			tc.check(t, cfg.Units, cfg.LiveRate, cfg.PendingTTL, cfg.ExternalSocket,
				cfg.VerboseMode)
		})
	}
}
