// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package frame // import "github.com/perfsampler/agent/frame"

import (
	"encoding/binary"
	"fmt"
)

// Decoder reads values written by an Encoder back from a byte slice.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// ReadInt64 reads a packed integer.
func (d *Decoder) ReadInt64() (int64, error) {
	var x int64
	var shift uint
	for {
		if d.pos >= len(d.buf) {
			return 0, ErrShortFrame
		}
		if shift >= 64 {
			return 0, fmt.Errorf("packed integer at offset %d is too long", d.pos)
		}
		b := d.buf[d.pos]
		d.pos++
		x |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				x |= -1 << shift
			}
			return x, nil
		}
	}
}

// ReadInt reads a packed 32-bit integer.
func (d *Decoder) ReadInt() (int32, error) {
	x, err := d.ReadInt64()
	return int32(x), err
}

// ReadUint32LE reads 4 little-endian bytes.
func (d *Decoder) ReadUint32LE() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, ErrShortFrame
	}
	x := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return x, nil
}

// ReadTag reads a 4-byte opcode.
func (d *Decoder) ReadTag() (string, error) {
	if d.Remaining() < TagSize {
		return "", ErrShortFrame
	}
	tag := string(d.buf[d.pos : d.pos+TagSize])
	d.pos += TagSize
	return tag, nil
}

// ReadBytes reads n raw bytes.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrShortFrame
	}
	p := d.buf[d.pos : d.pos+n]
	d.pos += n
	return p, nil
}

// ReadString reads a packed length followed by that many bytes.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadInt64()
	if err != nil {
		return "", err
	}
	p, err := d.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}
