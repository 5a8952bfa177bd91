// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package external accepts counter streams from producers running outside the agent, such
// as the firmware daemon of a video engine. A producer connects to a socket, identifies
// itself, receives the counters to collect and then streams its records, which are relayed
// into the capture.
//
// All integers of the handshake and of the configuration are 4-byte little-endian. Every
// configuration record is a 4-byte ASCII opcode, the payload length and the payload:
//
//	CLNT  4         version
//	CNFG  20        categories, communication version, data version, ms/sample, ms/flush
//	CFGc  4*n       ids of the enabled counters
//	CFGe  4*n       ids of the enabled events
package external // import "github.com/perfsampler/agent/external"

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/perfsampler/agent/counters/videoaccel"
	"github.com/perfsampler/agent/frame"
	"github.com/perfsampler/agent/times"
)

// Version is the newest protocol version spoken by the agent.
const Version = 1

// Opcodes of the handshake and the configuration records.
const (
	TagClient     = "CLNT"
	TagConfigure  = "CNFG"
	TagCounters   = "CFGc"
	TagEvents     = "CFGe"
	TagActivities = "CFGa"
)

// Category flags of the CNFG record.
const (
	FlagRaw        uint32 = 1 << 0
	FlagCounters   uint32 = 1 << 1
	FlagEvents     uint32 = 1 << 2
	FlagActivities uint32 = 1 << 3
	// FlagPull makes the producer push raw data only on request.
	FlagPull uint32 = 1 << 12
	// FlagPackedComm asks the producer to send packed records.
	FlagPackedComm uint32 = 1 << 13
	// FlagNoAutoAck stops the producer from acknowledging every record.
	FlagNoAutoAck uint32 = 1 << 14
)

const (
	// handshakeSize is the size of the CLNT record a producer opens with.
	handshakeSize = frame.TagSize + 4 + 4
	// maxConfigurationSize bounds the configuration sent to a producer.
	maxConfigurationSize = 256
	// recordHeaderSize is the size of opcode and length of a configuration record.
	recordHeaderSize = frame.TagSize + 4
)

var (
	// ErrHandshakeMismatch is returned when a peer does not open with a valid CLNT record.
	ErrHandshakeMismatch = errors.New("external producer handshake mismatch")
	// ErrWriteFailure is returned when writing to a peer fails.
	ErrWriteFailure = errors.New("failed to write to external producer")
)

// Enabler returns the ids of the enabled counters of a category.
type Enabler interface {
	EnabledIDs(category videoaccel.Category) []uint32
}

// Config holds the settings of the external producer connection.
type Config struct {
	// SampleRate is the sampling rate in samples per second.
	SampleRate int
	// LiveRate is the interval at which the producer flushes its data.
	LiveRate time.Duration
	// AppendTimeout bounds how long a received record waits for room in the output
	// buffer before it is dropped. Zero waits until the connection ends.
	AppendTimeout time.Duration
	// HandshakeTimeout bounds the wait for the CLNT record of a new connection.
	HandshakeTimeout time.Duration
	// ReadSize is the largest chunk read from the producer at once.
	ReadSize int
}

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		SampleRate:       1000,
		LiveRate:         100 * time.Millisecond,
		AppendTimeout:    time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadSize:         4096,
	}
}

// BuildConfiguration returns the configuration sent to a producer speaking Version.
func BuildConfiguration(cfg Config, enabler Enabler) ([]byte, error) {
	return buildConfiguration(Version, cfg, enabler)
}

func packRecord(enc *frame.Encoder, tag string, values ...uint32) error {
	if err := enc.PackTag(tag); err != nil {
		return err
	}
	if err := enc.PackUint32LE(uint32(4 * len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := enc.PackUint32LE(v); err != nil {
			return err
		}
	}
	return nil
}

func buildConfiguration(version uint32, cfg Config, enabler Enabler) ([]byte, error) {
	enc := frame.New(maxConfigurationSize)

	if err := packRecord(enc, TagClient, version); err != nil {
		return nil, err
	}
	if err := packRecord(enc, TagConfigure,
		FlagCounters|FlagEvents|FlagActivities|FlagPackedComm,
		1, // communication protocol version
		1, // data protocol version
		times.MillisPerSample(cfg.SampleRate),
		times.MillisPerFlush(cfg.LiveRate.Nanoseconds())); err != nil {
		return nil, err
	}

	var cnt, evn []uint32
	if enabler != nil {
		cnt = enabler.EnabledIDs(videoaccel.CategoryCounter)
		evn = enabler.EnabledIDs(videoaccel.CategoryEvent)
	}
	if err := packRecord(enc, TagCounters, cnt...); err != nil {
		return nil, fmt.Errorf("too many enabled counters (%d): %w", len(cnt), err)
	}
	if err := packRecord(enc, TagEvents, evn...); err != nil {
		return nil, fmt.Errorf("too many enabled events (%d): %w", len(evn), err)
	}
	// Activities are not configurable by the producer yet, so no CFGa record is sent.

	return enc.Bytes(), nil
}

// Configuration is the decoded configuration a producer receives.
type Configuration struct {
	Version         uint32
	Flags           uint32
	CommVersion     uint32
	DataVersion     uint32
	MillisPerSample uint32
	MillisPerFlush  uint32
	Counters        []uint32
	Events          []uint32
}

// ReadConfiguration reads the configuration records sent to a producer.
func ReadConfiguration(r io.Reader) (*Configuration, error) {
	var cfg Configuration
	for _, tag := range []string{TagClient, TagConfigure, TagCounters, TagEvents} {
		values, err := readRecord(r, tag)
		if err != nil {
			return nil, err
		}
		switch tag {
		case TagClient:
			if len(values) != 1 {
				return nil, fmt.Errorf("invalid %s record", tag)
			}
			cfg.Version = values[0]
		case TagConfigure:
			if len(values) != 5 {
				return nil, fmt.Errorf("invalid %s record", tag)
			}
			cfg.Flags, cfg.CommVersion, cfg.DataVersion = values[0], values[1], values[2]
			cfg.MillisPerSample, cfg.MillisPerFlush = values[3], values[4]
		case TagCounters:
			cfg.Counters = values
		case TagEvents:
			cfg.Events = values
		}
	}
	return &cfg, nil
}

func readRecord(r io.Reader, want string) ([]uint32, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read %s record: %w", want, err)
	}
	dec := frame.NewDecoder(header[:])
	tag, _ := dec.ReadTag()
	size, _ := dec.ReadUint32LE()
	if tag != want {
		return nil, fmt.Errorf("expected %s record, got %q", want, tag)
	}
	if size%4 != 0 || size > maxConfigurationSize {
		return nil, fmt.Errorf("invalid %s record length %d", want, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read %s payload: %w", want, err)
	}
	dec = frame.NewDecoder(payload)
	values := make([]uint32, 0, size/4)
	for dec.Remaining() > 0 {
		v, err := dec.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
