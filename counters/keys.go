// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package counters // import "github.com/perfsampler/agent/counters"

import "sync/atomic"

// Key 0 is the timestamp and key 1 marks thread specific values. Kernel providers hand out
// odd keys, so keys allocated in user space are even.
const firstKey = 2

// Keys allocates counter keys for providers that do not get them from the kernel.
type Keys struct {
	next atomic.Int32
}

// NewKeys returns a key allocator.
func NewKeys() *Keys {
	k := &Keys{}
	k.next.Store(firstKey)
	return k
}

// Next returns a new key.
func (k *Keys) Next() int32 {
	return k.next.Add(2) - 2
}
