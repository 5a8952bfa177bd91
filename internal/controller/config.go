// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfsampler/agent/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"math/bits"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the agent arguments.
type Config struct {
	SessionPath    string
	EventsPath     string
	EventsRoot     string
	VideoDevice    string
	ProcRoot       string
	ExternalSocket string
	OutputPath     string
	CaptureDir     string
	Compress       bool

	Units        int
	CacheBuckets int
	CacheWays    int
	QueueSize    int
	BufferSize   int

	SampleRate        int
	LiveRate          time.Duration
	PollInterval      time.Duration
	PendingTTL        time.Duration
	ExternalTimeout   time.Duration
	ClockSyncInterval time.Duration

	ListCounters bool
	PprofAddr    string
	VerboseMode  bool
	Version      bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}

func isPowerOfTwo(v int) bool {
	return v > 0 && bits.OnesCount(uint(v)) == 1
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Units <= 0 {
		errs = append(errs, fmt.Errorf("invalid number of units: %d", cfg.Units))
	}
	if !isPowerOfTwo(cfg.CacheBuckets) {
		errs = append(errs, fmt.Errorf("cache buckets must be a power of two, got %d",
			cfg.CacheBuckets))
	}
	if cfg.CacheWays <= 0 {
		errs = append(errs, fmt.Errorf("invalid number of cache ways: %d", cfg.CacheWays))
	}
	if !isPowerOfTwo(cfg.QueueSize) {
		errs = append(errs, fmt.Errorf("queue size must be a power of two, got %d",
			cfg.QueueSize))
	}
	if cfg.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid buffer size: %d", cfg.BufferSize))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid sample rate: %d", cfg.SampleRate))
	}
	if cfg.LiveRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid live rate: %v", cfg.LiveRate))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll interval: %v", cfg.PollInterval))
	}
	if cfg.PendingTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid pending TTL: %v", cfg.PendingTTL))
	}
	if cfg.ExternalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid external timeout: %v", cfg.ExternalTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return parseError(err)
	}
	return nil
}
