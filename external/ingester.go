// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package external // import "github.com/perfsampler/agent/external"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/buffer"
	"github.com/perfsampler/agent/frame"
	"github.com/perfsampler/agent/metrics"
	"github.com/perfsampler/agent/times"
)

// State is the state of the producer connection.
type State int32

const (
	// Listening waits for a producer to connect.
	Listening State = iota
	// Handshaking waits for the producer to identify itself.
	Handshaking
	// Streaming relays the records of the producer.
	Streaming
	// Closed means the connection ended.
	Closed
	// Interrupted means the connection was closed by Interrupt.
	Interrupted
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Handshaking:
		return "handshaking"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	case Interrupted:
		return "interrupted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// recordOverhead bounds the framing added to every relayed chunk.
const recordOverhead = frame.MaxPackedInt + 2*frame.MaxPackedInt64 + frame.MaxPackedInt

// Ingester serves one producer connection at a time and relays its records into an
// output buffer shared with other writers.
type Ingester struct {
	cfg     Config
	enabler Enabler
	out     *buffer.Buffer

	state  atomic.Int32
	nextID atomic.Uint32

	mu          sync.Mutex
	conn        net.Conn
	cancel      context.CancelFunc
	interrupted bool

	bytes, dropped, rejected atomic.Uint64
}

// NewIngester returns an Ingester relaying into out.
func NewIngester(cfg Config, enabler Enabler, out *buffer.Buffer) *Ingester {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultConfig().ReadSize
	}
	return &Ingester{cfg: cfg, enabler: enabler, out: out}
}

// State returns the current connection state.
func (in *Ingester) State() State {
	return State(in.state.Load())
}

func (in *Ingester) setState(s State) {
	if old := State(in.state.Swap(int32(s))); old != s {
		log.Debugf("External producer: %v -> %v", old, s)
	}
}

// Serve accepts producers on ln until ctx is done. Connections are handled one after the
// other. Errors of a single connection are logged and do not end Serve.
func (in *Ingester) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		in.Interrupt()
	})
	defer stop()

	for {
		in.setState(Listening)
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				in.setState(Closed)
				return nil
			}
			return fmt.Errorf("failed to accept external producer: %w", err)
		}
		if err := in.handle(ctx, conn); err != nil {
			log.Warnf("External producer connection failed: %v", err)
		}
	}
}

func (in *Ingester) handle(ctx context.Context, conn net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in.mu.Lock()
	in.conn, in.cancel, in.interrupted = conn, cancel, false
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.conn, in.cancel = nil, nil
		in.mu.Unlock()
		_ = conn.Close()
	}()

	in.setState(Handshaking)
	logPeer(conn)

	version, err := in.handshake(conn)
	if err != nil {
		// A connection closed by Interrupt was not refused by the handshake.
		if in.wasInterrupted() {
			in.setState(Interrupted)
			in.setState(Closed)
			return nil
		}
		if errors.Is(err, ErrHandshakeMismatch) {
			in.rejected.Add(1)
		}
		return err
	}

	config, err := buildConfiguration(version, in.cfg, in.enabler)
	if err != nil {
		in.setState(Closed)
		return err
	}
	if err := writeFull(conn, config); err != nil {
		in.setState(Closed)
		return err
	}

	in.setState(Streaming)
	err = in.stream(ctx, conn, in.nextID.Add(1))

	if in.wasInterrupted() {
		in.setState(Interrupted)
		err = nil
	}
	in.setState(Closed)
	return err
}

func (in *Ingester) wasInterrupted() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.interrupted
}

// handshake reads the CLNT record of the peer and returns the negotiated version.
func (in *Ingester) handshake(conn net.Conn) (uint32, error) {
	if in.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(in.cfg.HandshakeTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	var token [handshakeSize]byte
	if _, err := io.ReadFull(conn, token[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHandshakeMismatch, err)
	}
	dec := frame.NewDecoder(token[:])
	tag, _ := dec.ReadTag()
	size, _ := dec.ReadUint32LE()
	version, _ := dec.ReadUint32LE()
	if tag != TagClient || size != 4 || version == 0 {
		return 0, fmt.Errorf("%w: got %q length %d version %d",
			ErrHandshakeMismatch, tag, size, version)
	}
	return min(version, Version), nil
}

// writeFull writes p, retrying short writes.
func writeFull(w io.Writer, p []byte) error {
	for written := 0; written < len(p); {
		n, err := w.Write(p[written:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailure, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", ErrWriteFailure, io.ErrShortWrite)
		}
		written += n
	}
	return nil
}

// stream relays chunks read from conn until the peer closes the connection. Every chunk
// is wrapped into an external record: opcode, connection id, receive time, length and the
// unmodified bytes.
func (in *Ingester) stream(ctx context.Context, conn net.Conn, id uint32) error {
	chunk := make([]byte, in.cfg.ReadSize)
	enc := frame.New(in.cfg.ReadSize + recordOverhead)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if err := in.relay(ctx, enc, id, chunk[:n]); err != nil {
				return err
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read from external producer: %w", err)
		}
	}
}

func (in *Ingester) relay(ctx context.Context, enc *frame.Encoder, id uint32, p []byte) error {
	enc.Reset()
	if err := packExternal(enc, id, times.GetKTime(), p); err != nil {
		return err
	}
	switch err := in.out.AppendWait(ctx, enc.Bytes(), in.cfg.AppendTimeout); {
	case err == nil:
		in.bytes.Add(uint64(len(p)))
	case errors.Is(err, buffer.ErrTimeout), errors.Is(err, buffer.ErrTooLarge):
		in.dropped.Add(1)
	default:
		return err
	}
	return nil
}

func packExternal(enc *frame.Encoder, id uint32, ts times.KTime, p []byte) error {
	if err := enc.PackInt(frame.OpExternal); err != nil {
		return err
	}
	if err := enc.PackInt64(int64(id)); err != nil {
		return err
	}
	if err := enc.PackInt64(int64(ts)); err != nil {
		return err
	}
	if err := enc.PackInt(int32(len(p))); err != nil {
		return err
	}
	return enc.PackBytes(p)
}

// Interrupt closes the current connection, unblocking its reader. It may be called from
// any goroutine; the ingester keeps listening for the next producer.
func (in *Ingester) Interrupt() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.conn == nil {
		return
	}
	in.interrupted = true
	in.cancel()
	_ = in.conn.Close()
}

// CollectMetrics moves the connection counters into the metrics package.
func (in *Ingester) CollectMetrics() {
	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDExternalBytes, Value: metrics.MetricValue(in.bytes.Swap(0))},
		{ID: metrics.IDExternalDropped, Value: metrics.MetricValue(in.dropped.Swap(0))},
		{ID: metrics.IDHandshakeRejected, Value: metrics.MetricValue(in.rejected.Swap(0))},
	})
}
