// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides the bounded byte buffers that collection units and external
// producers append complete frames to, and that the sender drains.
package buffer // import "github.com/perfsampler/agent/buffer"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrFull is returned by Append when the frame does not fit into the free space.
	ErrFull = errors.New("buffer full")
	// ErrTimeout is returned by AppendWait when no space became available in time.
	ErrTimeout = errors.New("timed out waiting for buffer space")
	// ErrTooLarge is returned for frames that can never fit.
	ErrTooLarge = errors.New("frame larger than buffer capacity")
)

// Buffer is a fixed-capacity frame buffer. Frames are appended whole or not at all, so a
// reader never observes a partial frame. All methods are safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	size int
	name string

	// space is closed and replaced every time the buffer is drained, waking every
	// goroutine blocked in AppendWait.
	space chan struct{}

	// lost counts frames rejected for lack of space since the last call to Lost.
	lost uint64
}

// New returns a Buffer that holds at most size bytes.
func New(size int, name string) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("unsupported buffer size for %s: %d", name, size)
	}
	return &Buffer{
		data:  make([]byte, 0, size),
		size:  size,
		name:  name,
		space: make(chan struct{}),
	}, nil
}

// Name returns the name given at creation time.
func (b *Buffer) Name() string { return b.name }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.size }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Space returns the number of free bytes.
func (b *Buffer) Space() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - len(b.data)
}

// Append copies p into the buffer. It never blocks.
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.size {
		return ErrTooLarge
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size-len(b.data) < len(p) {
		b.lost++
		return ErrFull
	}
	b.data = append(b.data, p...)
	return nil
}

// AppendWait copies p into the buffer, blocking until enough space is free, ctx is done or
// timeout expires. A timeout of zero or less waits until ctx is done.
func (b *Buffer) AppendWait(ctx context.Context, p []byte, timeout time.Duration) error {
	if len(p) > b.size {
		return ErrTooLarge
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		b.mu.Lock()
		if b.size-len(b.data) >= len(p) {
			b.data = append(b.data, p...)
			b.mu.Unlock()
			return nil
		}
		wait := b.space
		b.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			b.mu.Lock()
			b.lost++
			b.mu.Unlock()
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteTo drains all buffered frames into w and wakes blocked writers. Data that could not
// be written is discarded; the error is returned to the caller.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	pending := b.data
	b.data = make([]byte, 0, b.size)
	close(b.space)
	b.space = make(chan struct{})
	b.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}
	n, err := w.Write(pending)
	return int64(n), err
}

// Lost returns and resets the number of frames that were rejected for lack of space.
func (b *Buffer) Lost() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	lost := b.lost
	b.lost = 0
	return lost
}
