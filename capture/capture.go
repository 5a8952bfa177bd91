// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture runs a capture session: it owns the collection units, the counter
// providers and the external producer connection, polls counters into the unit streams and
// sends all streams to the output.
package capture // import "github.com/perfsampler/agent/capture"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/perfsampler/agent/buffer"
	"github.com/perfsampler/agent/cookie"
	"github.com/perfsampler/agent/counters"
	"github.com/perfsampler/agent/counters/eventsfs"
	"github.com/perfsampler/agent/counters/irq"
	"github.com/perfsampler/agent/counters/perfevents"
	"github.com/perfsampler/agent/counters/videoaccel"
	"github.com/perfsampler/agent/external"
	"github.com/perfsampler/agent/frame"
	"github.com/perfsampler/agent/metrics"
	"github.com/perfsampler/agent/periodiccaller"
	"github.com/perfsampler/agent/procname"
	"github.com/perfsampler/agent/session"
	"github.com/perfsampler/agent/times"
)

// Config holds everything a capture session needs.
type Config struct {
	// Units is the number of collection units, one per CPU.
	Units int
	// Cookie sizes the per unit symbol caches and buffers.
	Cookie cookie.Config

	// Fs is the filesystem configuration documents and counter trees are read from.
	Fs afero.Fs
	// SessionPath is the session configuration listing the counters to collect.
	SessionPath string
	// EventsPath is the events description declaring the video engine counters.
	EventsPath  string
	EventsRoot  string
	VideoDevice string
	// DisablePerfEvents and DisableIRQ leave out the providers needing kernel features the
	// host lacks. Their counters are then left unclaimed.
	DisablePerfEvents bool
	DisableIRQ        bool
	// ProcRoot is where procfs is mounted.
	ProcRoot string
	// NameCacheSize and NameCacheTTL bound the process name cache.
	NameCacheSize uint32
	NameCacheTTL  time.Duration

	// ExternalSocket is the unix socket producers connect to. Empty disables them.
	ExternalSocket string
	External       external.Config
	// ExternalBufferSize is the capacity of the buffer shared by all producer records.
	ExternalBufferSize int

	// PollInterval is the counter polling period.
	PollInterval time.Duration
	// LiveRate is the period at which buffered streams are sent to the output.
	LiveRate time.Duration
	// Compress compresses the output stream with zstd.
	Compress bool
	// CaptureDir receives the captured counters document when the session stops.
	CaptureDir string

	Target session.Target
}

// DefaultConfig returns a configuration collecting on units units with all providers at
// their default locations and external producers disabled.
func DefaultConfig(units int) Config {
	return Config{
		Units:              units,
		Cookie:             cookie.DefaultConfig(),
		EventsRoot:         eventsfs.DefaultRoot,
		VideoDevice:        videoaccel.DefaultDevice,
		ProcRoot:           procfs.DefaultMountPoint,
		NameCacheSize:      4096,
		NameCacheTTL:       time.Minute,
		External:           external.DefaultConfig(),
		ExternalBufferSize: 1 << 20,
		PollInterval:       100 * time.Millisecond,
		LiveRate:           100 * time.Millisecond,
		Target: session.Target{
			SampleRate: 1000,
			Cores:      units,
		},
	}
}

// Session is a capture session.
type Session struct {
	cfg Config

	units    *cookie.Units
	set      *counters.Set
	video    *videoaccel.Provider
	resolver *procname.Resolver

	extBuf   *buffer.Buffer
	ingester *external.Ingester

	sender *sender

	readers  []counters.Reader
	samplers []counters.Sampler
	captured *session.Captured
	started  bool

	samplesRecorded, samplesFailed atomic.Uint64
}

// New builds a capture session writing its streams to out.
func New(cfg Config, out io.Writer) (*Session, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	resolver, err := procname.New(cfg.ProcRoot, cfg.NameCacheSize, cfg.NameCacheTTL)
	if err != nil {
		return nil, err
	}
	cfg.Cookie.Resolver = resolver

	units, err := cookie.NewUnits(cfg.Units, cfg.Cookie)
	if err != nil {
		return nil, err
	}

	keys := counters.NewKeys()
	video := videoaccel.New(cfg.Fs, cfg.VideoDevice, videoaccel.DefaultPrefix, keys)
	if cfg.EventsPath != "" {
		data, err := afero.ReadFile(cfg.Fs, cfg.EventsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read events description: %w", err)
		}
		if err := video.Configure(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}

	sources := []counters.Source{eventsfs.New(cfg.Fs, cfg.EventsRoot), video}
	if !cfg.DisablePerfEvents {
		sources = append(sources, perfevents.New(keys))
	}
	if !cfg.DisableIRQ {
		sources = append(sources, irq.New(keys))
	}
	set := counters.NewSet(sources...)
	if cfg.SessionPath != "" {
		data, err := afero.ReadFile(cfg.Fs, cfg.SessionPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read session configuration: %w", err)
		}
		configured, err := session.ParseConfiguration(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		for _, c := range configured {
			set.Add(c)
		}
	}

	s := &Session{
		cfg:      cfg,
		units:    units,
		set:      set,
		video:    video,
		resolver: resolver,
	}

	if cfg.ExternalSocket != "" {
		s.extBuf, err = buffer.New(cfg.ExternalBufferSize, "external")
		if err != nil {
			return nil, err
		}
		cfg.External.SampleRate = cfg.Target.SampleRate
		cfg.External.LiveRate = cfg.LiveRate
		s.ingester = external.NewIngester(cfg.External, video, s.extBuf)
	}

	s.sender, err = newSender(out, cfg.Compress, s.buffers())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Units returns the collection units of the session.
func (s *Session) Units() *cookie.Units { return s.units }

// Counters returns the counters of the session.
func (s *Session) Counters() *counters.Set { return s.set }

// Ingester returns the external producer ingester, or nil if producers are disabled.
func (s *Session) Ingester() *external.Ingester { return s.ingester }

func (s *Session) buffers() []*buffer.Buffer {
	bufs := make([]*buffer.Buffer, 0, s.units.Len()+1)
	for _, u := range s.units.All() {
		bufs = append(bufs, u.Buffer())
	}
	if s.extBuf != nil {
		bufs = append(bufs, s.extBuf)
	}
	return bufs
}

// Start prepares a new capture: unit state is reset and the configured counters are set
// up and started. A counter requesting a feature its provider lacks fails the start.
func (s *Session) Start(ctx context.Context) error {
	s.units.Reset()
	if err := s.set.Setup(); err != nil {
		return s.abortStart(fmt.Errorf("failed to set up counters: %w", err))
	}

	for _, r := range s.set.Readers() {
		if err := r.Start(ctx, s.units.Len()); err != nil {
			s.stopReaders()
			return s.abortStart(fmt.Errorf("failed to start counters: %w", err))
		}
		s.readers = append(s.readers, r)
		if sm, ok := r.(counters.Sampler); ok {
			s.samplers = append(s.samplers, sm)
		}
	}

	s.captured = session.NewCaptured(s.cfg.Target, s.set.Enabled())
	s.started = true
	log.Infof("Capture %s started with %d counters on %d units",
		s.captured.ID, len(s.captured.Counters), s.units.Len())
	return nil
}

// abortStart returns every provider to its idle state after a failed Start. Counters a
// provider enabled before the failure would otherwise stay enabled.
func (s *Session) abortStart(err error) error {
	if rerr := s.set.ResetAll(); rerr != nil {
		log.Warnf("Failed to reset counters: %v", rerr)
	}
	return err
}

// Run collects until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if !s.started {
		return errors.New("capture session not started")
	}
	var ln net.Listener
	if s.ingester != nil {
		_ = os.Remove(s.cfg.ExternalSocket)
		var err error
		ln, err = net.Listen("unix", s.cfg.ExternalSocket)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.ExternalSocket, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.units.Run(ctx)
	})

	if ln != nil {
		g.Go(func() error {
			return s.ingester.Serve(ctx, ln)
		})
	}

	for _, sm := range s.samplers {
		g.Go(func() error {
			// Losing the samples does not end the capture.
			if err := sm.Samples(ctx, s.recordSample); err != nil {
				log.Warnf("Event based sampling stopped: %v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		stop := periodiccaller.Start(ctx, s.cfg.PollInterval, s.Poll)
		<-ctx.Done()
		stop()
		return nil
	})

	g.Go(func() error {
		<-s.sender.run(ctx, s.cfg.LiveRate)
		return nil
	})

	return g.Wait()
}

// Poll reads all polled counters and appends one counter frame per unit that has values.
// An early send is requested once a buffer is more than half full.
func (s *Session) Poll() {
	type value struct {
		key   int32
		value int64
	}
	var (
		values []value
		reads  int
	)
	now := times.GetKTime()
	for _, u := range s.units.All() {
		values = values[:0]
		for _, r := range s.readers {
			if err := r.Read(u.Index(), func(key int32, v int64) {
				values = append(values, value{key, v})
			}); err != nil {
				log.Debugf("Failed to read counters of unit %d: %v", u.Index(), err)
			}
			reads++
		}
		if len(values) == 0 {
			continue
		}
		unit := u.Index()
		err := u.Emit(func(enc *frame.Encoder) error {
			if err := enc.PackInt(frame.OpCounters); err != nil {
				return err
			}
			if err := enc.PackInt(int32(unit)); err != nil {
				return err
			}
			if err := enc.PackInt64(int64(now)); err != nil {
				return err
			}
			if err := enc.PackInt(int32(len(values))); err != nil {
				return err
			}
			for _, v := range values {
				if err := enc.PackInt(v.key); err != nil {
					return err
				}
				if err := enc.PackInt64(v.value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Debugf("Dropped counter frame of unit %d: %v", u.Index(), err)
		}
	}

	for _, b := range s.sender.buffers {
		if b.Len() > b.Cap()/2 {
			s.sender.request()
			break
		}
	}

	s.units.CollectMetrics()
	if s.ingester != nil {
		s.ingester.CollectMetrics()
	}
	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDCounterReads, Value: metrics.MetricValue(reads)},
		{ID: metrics.IDSamplesRecorded, Value: metrics.MetricValue(s.samplesRecorded.Swap(0))},
		{ID: metrics.IDSamplesFailed, Value: metrics.MetricValue(s.samplesFailed.Swap(0))},
	})
}

// RecordSample records a sample of pid at addr on unit. The mapping of addr is looked up
// in procfs; a symbol seen for the first time is defined before the sample.
func (s *Session) RecordSample(unit int, pid uint32, addr uint64) (cookie.Cookie, error) {
	maps, err := s.resolver.Mappings(pid)
	if err != nil {
		return cookie.InvalidCookie, err
	}
	return s.units.Unit(unit).RecordSample(cookie.ModeAtomic, pid, maps, addr)
}

// recordSample records a sample delivered by a sampling provider.
func (s *Session) recordSample(smp counters.Sample) {
	if smp.Unit < 0 || smp.Unit >= s.units.Len() {
		s.samplesFailed.Add(1)
		return
	}
	if _, err := s.RecordSample(smp.Unit, smp.Pid, smp.IP); err != nil {
		s.samplesFailed.Add(1)
		log.Debugf("Failed to record sample of %d on unit %d: %v", smp.Pid, smp.Unit, err)
		return
	}
	s.samplesRecorded.Add(1)
}

// Flush sends all buffered streams to the output.
func (s *Session) Flush() error {
	return s.sender.flush()
}

func (s *Session) stopReaders() {
	for _, r := range s.readers {
		if err := r.Stop(); err != nil {
			log.Warnf("Failed to stop counters: %v", err)
		}
	}
	s.readers = nil
	s.samplers = nil
}

// Stop ends the capture: the producer connection is interrupted, the counters are
// disabled, the remaining data is sent and the captured document is written.
func (s *Session) Stop() error {
	if s.ingester != nil {
		s.ingester.Interrupt()
	}
	s.stopReaders()

	var errs []error
	if err := s.set.ResetAll(); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset counters: %w", err))
	}
	if err := s.sender.close(); err != nil {
		errs = append(errs, err)
	}
	if s.started && s.cfg.CaptureDir != "" {
		if err := s.captured.WriteFile(s.cfg.CaptureDir); err != nil {
			errs = append(errs, err)
		}
	}
	s.started = false
	return errors.Join(errs...)
}

// CountersXML writes the list of all counters available from all providers.
func (s *Session) CountersXML(w io.Writer) error {
	var list session.CounterList
	if _, err := s.set.WriteDescriptors(&list); err != nil {
		return err
	}
	_, err := list.WriteTo(w)
	return err
}

// Captured returns the description of the running capture.
func (s *Session) Captured() *session.Captured { return s.captured }
