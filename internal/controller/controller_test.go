// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfsampler/agent/session"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		EventsRoot:      filepath.Join(dir, "events"),
		VideoDevice:     filepath.Join(dir, "mv500"),
		ProcRoot:        dir,
		OutputPath:      filepath.Join(dir, "capture.bin"),
		CaptureDir:      dir,
		Units:           2,
		CacheBuckets:    64,
		CacheWays:       2,
		QueueSize:       16,
		BufferSize:      1 << 16,
		SampleRate:      1000,
		LiveRate:        10 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		PendingTTL:      time.Second,
		ExternalTimeout: 100 * time.Millisecond,
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mod     func(*Config)
		wantErr bool
	}{
		"valid":                  {mod: func(*Config) {}},
		"zero units":             {mod: func(c *Config) { c.Units = 0 }, wantErr: true},
		"buckets not power of 2": {mod: func(c *Config) { c.CacheBuckets = 100 }, wantErr: true},
		"zero ways":              {mod: func(c *Config) { c.CacheWays = 0 }, wantErr: true},
		"queue not power of 2":   {mod: func(c *Config) { c.QueueSize = 3 }, wantErr: true},
		"zero buffer":            {mod: func(c *Config) { c.BufferSize = 0 }, wantErr: true},
		"zero sample rate":       {mod: func(c *Config) { c.SampleRate = 0 }, wantErr: true},
		"zero live rate":         {mod: func(c *Config) { c.LiveRate = 0 }, wantErr: true},
		"negative pending ttl":   {mod: func(c *Config) { c.PendingTTL = -1 }, wantErr: true},
		"pending ttl disabled":   {mod: func(c *Config) { c.PendingTTL = 0 }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mod(cfg)
			err := cfg.Validate()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var exitErr ErrorWithExitCode
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, ExitParseError, exitErr.Code())
		})
	}
}

func TestControllerStart(t *testing.T) {
	tests := map[string]struct {
		config  func(t *testing.T) *Config
		wantErr bool
	}{
		"with a nil config": {
			config:  func(*testing.T) *Config { return nil },
			wantErr: true,
		},
		"with an empty config": {
			config:  func(*testing.T) *Config { return &Config{} },
			wantErr: true,
		},
		"with a missing session configuration": {
			config: func(t *testing.T) *Config {
				cfg := validConfig(t)
				cfg.SessionPath = filepath.Join(t.TempDir(), "missing.xml")
				return cfg
			},
			wantErr: true,
		},
		"with a valid config": {
			config: validConfig,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctlr := New(tc.config(t))
			err := ctlr.Start(context.Background())
			defer ctlr.Shutdown()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestControllerRunAndShutdown(t *testing.T) {
	cfg := validConfig(t)
	ctlr := New(cfg)
	assert.Error(t, ctlr.Run(context.Background()), "run before start")

	require.NoError(t, ctlr.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, ctlr.Run(ctx))
	ctlr.Shutdown()

	_, err := os.Stat(cfg.OutputPath)
	require.NoError(t, err)
	doc, err := os.ReadFile(filepath.Join(cfg.CaptureDir, session.CapturedFile))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `sample_rate="1000"`)
}

func TestWriteCounters(t *testing.T) {
	cfg := validConfig(t)
	for _, name := range []string{"Linux_cpu_wait", "Linux_meminfo_memused"} {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.EventsRoot, name), 0o755))
	}

	var out bytes.Buffer
	require.NoError(t, New(cfg).WriteCounters(&out))
	assert.Contains(t, out.String(), `name="Linux_cpu_wait"`)
	assert.Contains(t, out.String(), `name="Linux_meminfo_memused"`)
}
