// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the bounded binary encoding shared by every record the agent
// writes: packed (signed LEB128) integers, fixed-width little-endian integers, 4-byte ASCII
// opcodes and length-prefixed strings.
//
// An Encoder never grows past the capacity it was created with. Frame sizes are part of the
// wire contract, so running out of room is reported as ErrBufferOverflow instead of being
// hidden behind a reallocation. Encoders are not safe for concurrent use.
package frame // import "github.com/perfsampler/agent/frame"

import (
	"encoding/binary"
	"errors"
)

// Opcodes carried as the first packed integer of every frame in a unit stream. A counters
// frame continues with the unit index, the timestamp, the number of pairs and then the
// key and value of every pair.
const (
	OpDefineSymbol int32 = 1
	OpSample       int32 = 2
	OpCounters     int32 = 3
	OpExternal     int32 = 4
)

const (
	// MaxPackedInt is the worst case size of a packed 32-bit integer.
	MaxPackedInt = 5
	// MaxPackedInt64 is the worst case size of a packed 64-bit integer.
	MaxPackedInt64 = 10
	// TagSize is the size of an opcode tag.
	TagSize = 4
)

var (
	// ErrBufferOverflow is returned when a value does not fit into the remaining capacity.
	// Nothing is written in that case and the frame under construction must be discarded.
	ErrBufferOverflow = errors.New("frame exceeds buffer capacity")
	// ErrShortFrame is returned by a Decoder that runs out of input.
	ErrShortFrame = errors.New("frame is truncated")
	// ErrInvalidTag is returned for opcodes that are not exactly four bytes long.
	ErrInvalidTag = errors.New("opcode tag must be 4 bytes")
)

// Encoder packs values into a fixed-capacity byte slice at a cursor.
type Encoder struct {
	buf []byte
	pos int
}

// New returns an Encoder with its own backing storage of the given capacity.
func New(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, capacity)}
}

// Wrap returns an Encoder writing into buf. The capacity is len(buf).
func Wrap(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Reset moves the cursor back to the start of the buffer.
func (e *Encoder) Reset() { e.pos = 0 }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return e.pos }

// Cap returns the fixed capacity.
func (e *Encoder) Cap() int { return len(e.buf) }

// Available returns the number of bytes that can still be written.
func (e *Encoder) Available() int { return len(e.buf) - e.pos }

// Bytes returns the encoded bytes. The slice aliases the Encoder storage and is only valid
// until the next write or Reset.
func (e *Encoder) Bytes() []byte { return e.buf[:e.pos] }

// Mark returns the current cursor, to be passed to Rewind if a multi-field frame fails.
func (e *Encoder) Mark() int { return e.pos }

// Rewind moves the cursor back to mark, dropping everything written after it.
func (e *Encoder) Rewind(mark int) {
	if mark >= 0 && mark <= e.pos {
		e.pos = mark
	}
}

// packedLen returns the number of bytes the signed LEB128 encoding of x needs.
func packedLen(x int64) int {
	n := 0
	for {
		b := byte(x & 0x7f)
		x >>= 7
		n++
		if (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0) {
			return n
		}
	}
}

func (e *Encoder) packed(x int64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0) {
			e.buf[e.pos] = b
			e.pos++
			return
		}
		e.buf[e.pos] = b | 0x80
		e.pos++
	}
}

// PackInt writes x as a packed integer.
func (e *Encoder) PackInt(x int32) error {
	return e.PackInt64(int64(x))
}

// PackInt64 writes x as a packed integer.
func (e *Encoder) PackInt64(x int64) error {
	if packedLen(x) > e.Available() {
		return ErrBufferOverflow
	}
	e.packed(x)
	return nil
}

// PackUint32LE writes x as 4 little-endian bytes.
func (e *Encoder) PackUint32LE(x uint32) error {
	if e.Available() < 4 {
		return ErrBufferOverflow
	}
	binary.LittleEndian.PutUint32(e.buf[e.pos:], x)
	e.pos += 4
	return nil
}

// PackTag writes a 4-byte ASCII opcode such as "CNFG".
func (e *Encoder) PackTag(tag string) error {
	if len(tag) != TagSize {
		return ErrInvalidTag
	}
	if e.Available() < TagSize {
		return ErrBufferOverflow
	}
	e.pos += copy(e.buf[e.pos:], tag)
	return nil
}

// PackBytes writes p verbatim.
func (e *Encoder) PackBytes(p []byte) error {
	if e.Available() < len(p) {
		return ErrBufferOverflow
	}
	e.pos += copy(e.buf[e.pos:], p)
	return nil
}

// PackString writes the packed length of s followed by its bytes.
func (e *Encoder) PackString(s string) error {
	if packedLen(int64(len(s)))+len(s) > e.Available() {
		return ErrBufferOverflow
	}
	e.packed(int64(len(s)))
	e.pos += copy(e.buf[e.pos:], s)
	return nil
}
