// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package cookie interns symbol names (mapped binaries, kernel modules, process names) into
// small integer cookies, one independent cache per collection unit.
//
// The first time a unit sees a symbol it allocates a cookie and appends a define-symbol
// frame to the unit's output buffer; every later reference only carries the cookie. The
// cache and the allocator of a unit are never touched by another unit, so no lock is shared
// between units. Cookies are strided by the unit count and offset by the unit index, which
// makes them unique across units without any coordination.
//
// Symbol keys are a 64-bit checksum of the name combined with the owning process group.
// Two different names with the same checksum for the same owner share a cookie; at 64 bits
// the probability is accepted rather than detected.
package cookie // import "github.com/perfsampler/agent/cookie"

import (
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Cookie identifies an interned symbol within a capture session.
type Cookie uint32

const (
	// NoCookie marks samples for which no symbol applies, such as anonymous memory.
	NoCookie Cookie = 0
	// InvalidCookie marks samples whose symbol could not be resolved. It is never issued.
	InvalidCookie Cookie = 0xFFFFFFFF
)

// ErrResolutionFailure is returned by name resolvers when a symbol name cannot be
// determined, for example because the process exited.
var ErrResolutionFailure = errors.New("symbol name could not be resolved")

// Valid reports whether c refers to an issued cookie.
func (c Cookie) Valid() bool {
	return c != NoCookie && c != InvalidCookie
}

func (c Cookie) String() string {
	switch c {
	case NoCookie:
		return "no-cookie"
	case InvalidCookie:
		return "invalid-cookie"
	}
	return fmt.Sprintf("%#x", uint32(c))
}

// Key identifies a symbol name as used by one owner.
type Key struct {
	Checksum uint64
	Owner    uint32
}

// Checksum returns the 64-bit checksum of a symbol name.
func Checksum(name string) uint64 {
	return xxh3.HashString(name)
}

// MakeKey returns the cache key for name as used by owner.
func MakeKey(name string, owner uint32) Key {
	return Key{Checksum: Checksum(name), Owner: owner}
}

// fold mixes the key into 32 bits byte by byte, so that neighbouring owners and checksums
// spread over the buckets.
func (k Key) fold() uint32 {
	v := uint32(k.Checksum>>32) + uint32(k.Checksum) + k.Owner
	h := (v >> 24) & 0xff
	h = h*31 + ((v >> 16) & 0xff)
	h = h*31 + ((v >> 8) & 0xff)
	h = h*31 + (v & 0xff)
	return h ^ (v >> 10)
}
