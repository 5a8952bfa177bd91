// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfsampler/agent/internal/controller"

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/capture"
	"github.com/perfsampler/agent/cookie"
	"github.com/perfsampler/agent/internal/linux"
	"github.com/perfsampler/agent/metrics"
	"github.com/perfsampler/agent/session"
	"github.com/perfsampler/agent/times"
)

// irqMinKernel is the first kernel able to attach eBPF programs to tracepoints.
var irqMinKernel = linux.KernelVersion{Major: 4, Minor: 7}

// Controller is an instance that runs, manages and stops the agent.
type Controller struct {
	config  *Config
	session *capture.Session
	out     io.WriteCloser
}

// New creates a new controller
// The controller can set global configurations (such as the realtime clock sync) on
// setup. So there should only ever be one running.
func New(cfg *Config) *Controller {
	return &Controller{config: cfg}
}

// captureConfig translates the agent arguments into a capture session configuration.
func (c *Controller) captureConfig() capture.Config {
	cfg := capture.DefaultConfig(c.config.Units)

	cfg.Cookie = cookie.Config{
		Buckets:    c.config.CacheBuckets,
		Ways:       c.config.CacheWays,
		QueueSize:  c.config.QueueSize,
		FrameSize:  cookie.DefaultConfig().FrameSize,
		BufferSize: c.config.BufferSize,
		PendingTTL: c.config.PendingTTL,
	}
	cfg.SessionPath = c.config.SessionPath
	cfg.EventsPath = c.config.EventsPath
	cfg.EventsRoot = c.config.EventsRoot
	cfg.VideoDevice = c.config.VideoDevice
	cfg.ProcRoot = c.config.ProcRoot
	cfg.ExternalSocket = c.config.ExternalSocket
	cfg.External.AppendTimeout = c.config.ExternalTimeout
	cfg.ExternalBufferSize = c.config.BufferSize
	cfg.PollInterval = c.config.PollInterval
	cfg.LiveRate = c.config.LiveRate
	cfg.Compress = c.config.Compress
	cfg.CaptureDir = c.config.CaptureDir

	hostname, err := os.Hostname()
	if err != nil {
		log.Warnf("Failed to get hostname: %v", err)
	}
	cfg.Target = session.Target{
		Name:       hostname,
		SampleRate: c.config.SampleRate,
		Cores:      c.config.Units,
	}

	kernel, err := linux.GetCurrentKernelVersion()
	if err != nil {
		log.Warnf("Failed to get kernel version: %v", err)
	} else {
		log.Debugf("Running on kernel %v", kernel)
	}
	if err := linux.ProbeBPFSyscall(); err != nil {
		log.Warnf("IRQ counters disabled: %v", err)
		cfg.DisableIRQ = true
	} else if kernel != (linux.KernelVersion{}) &&
		!kernel.AtLeast(irqMinKernel.Major, irqMinKernel.Minor) {
		log.Warnf("IRQ counters disabled: kernel %v is older than %v", kernel, irqMinKernel)
		cfg.DisableIRQ = true
	}
	if err := linux.ProbePerfEvents(); err != nil {
		log.Warnf("Perf event counters disabled: %v", err)
		cfg.DisablePerfEvents = true
	}
	return cfg
}

// openOutput opens the stream destination. "-" and the empty path select stdout.
func (c *Controller) openOutput() (io.WriteCloser, error) {
	if c.config.OutputPath == "" || c.config.OutputPath == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(c.config.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output %s: %w", c.config.OutputPath, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// WriteCounters writes the list of all available counters to w.
func (c *Controller) WriteCounters(w io.Writer) error {
	s, err := capture.New(c.captureConfig(), io.Discard)
	if err != nil {
		return err
	}
	return s.CountersXML(w)
}

// Start starts the controller
// The controller should only be started once.
func (c *Controller) Start(ctx context.Context) error {
	if c.config == nil {
		return parseError(fmt.Errorf("missing configuration"))
	}
	if err := c.config.Validate(); err != nil {
		return err
	}

	// Start periodic synchronization with the realtime clock
	times.StartRealtimeSync(ctx, c.config.ClockSyncInterval)

	if c.config.VerboseMode {
		metrics.SetReporter(logReporter{})
	}

	out, err := c.openOutput()
	if err != nil {
		return err
	}
	s, err := capture.New(c.captureConfig(), out)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to create capture session: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	c.session, c.out = s, out

	log.Printf("Capture started on %d units", c.config.Units)
	return nil
}

// Run collects until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("controller not started")
	}
	return c.session.Run(ctx)
}

// Shutdown stops the controller
func (c *Controller) Shutdown() {
	log.Info("Stop processing ...")
	if c.session != nil {
		if err := c.session.Stop(); err != nil {
			log.Errorf("Failed to stop capture: %v", err)
		}
		c.session = nil
	}
	if c.out != nil {
		if err := c.out.Close(); err != nil {
			log.Errorf("Failed to close output: %v", err)
		}
		c.out = nil
	}
}
