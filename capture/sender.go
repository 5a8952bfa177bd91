// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capture // import "github.com/perfsampler/agent/capture"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/buffer"
	"github.com/perfsampler/agent/metrics"
	"github.com/perfsampler/agent/periodiccaller"
)

// sender moves the contents of a set of buffers to the output, optionally through a zstd
// encoder. Buffers are drained in order so the frames of one buffer stay contiguous.
type sender struct {
	mu      sync.Mutex
	out     io.Writer
	zw      *zstd.Encoder
	buffers []*buffer.Buffer
	trigger chan bool
	closed  bool
}

func newSender(out io.Writer, compress bool, buffers []*buffer.Buffer) (*sender, error) {
	s := &sender{
		out:     out,
		buffers: buffers,
		trigger: make(chan bool, 1),
	}
	if compress {
		zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		s.zw = zw
	}
	return s, nil
}

// run sends buffered data every interval and on request until ctx is done.
func (s *sender) run(ctx context.Context, interval time.Duration) <-chan struct{} {
	return periodiccaller.StartWithManualTrigger(ctx, interval, s.trigger, func(bool) {
		if err := s.flush(); err != nil {
			log.Warnf("Failed to send capture data: %v", err)
		}
	})
}

// request asks the running sender for an early flush.
func (s *sender) request() {
	select {
	case s.trigger <- true:
	default:
	}
}

// flush writes all buffered frames to the output.
func (s *sender) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	var w io.Writer = s.out
	if s.zw != nil {
		w = s.zw
	}

	var (
		total int64
		errs  []error
	)
	for _, b := range s.buffers {
		n, err := b.WriteTo(w)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
		if lost := b.Lost(); lost > 0 {
			log.Debugf("Buffer %s lost %d frames", b.Name(), lost)
		}
	}
	if s.zw != nil && total > 0 {
		if err := s.zw.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.Add(metrics.IDSenderBytes, metrics.MetricValue(total))
	return errors.Join(errs...)
}

// close sends the remaining data and finishes the compressed stream.
func (s *sender) close() error {
	err := s.flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	s.closed = true
	if s.zw != nil {
		err = errors.Join(err, s.zw.Close())
	}
	return err
}
