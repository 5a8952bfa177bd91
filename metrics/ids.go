// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/perfsampler/agent/metrics"

// To add a new metric append an entry to metrics.json and a constant below. ONLY APPEND !

const (
	// Leave out the 0 value. It's an indication of not explicitly initialized variables.
	IDInvalid = 0

	// Number of cookies issued across all units
	IDCookiesIssued = 1

	// Number of cookie cache hits
	IDCookieCacheHit = 2

	// Number of cookie cache misses
	IDCookieCacheMiss = 3

	// Number of live cache entries evicted by an insertion
	IDCookieCacheEvicted = 4

	// Number of define-symbol frames dropped because the unit buffer had no room
	IDDefineFrameDropped = 5

	// Number of entries pushed to a deferred resolution queue
	IDDeferredEnqueued = 6

	// Number of deferred entries skipped because the owner was already pending
	IDDeferredDuplicate = 7

	// Number of deferred entries dropped because the queue was full
	IDDeferredDropped = 8

	// Number of deferred entries resolved to a name
	IDDeferredResolved = 9

	// Number of deferred entries that could not be resolved
	IDDeferredFailed = 10

	// Number of deferred entries expired before the worker ran
	IDDeferredExpired = 11

	// Number of bytes relayed from external producers
	IDExternalBytes = 12

	// Number of external records dropped after waiting for buffer space
	IDExternalDropped = 13

	// Number of external producer connections rejected during the handshake
	IDHandshakeRejected = 14

	// Number of counter values read from providers
	IDCounterReads = 15

	// Number of bytes written by the sender
	IDSenderBytes = 16

	// Number of event based samples recorded into a unit stream
	IDSamplesRecorded = 17

	// Number of event based samples that could not be recorded
	IDSamplesFailed = 18

	// max number of ID values, keep this as *last entry*
	IDMax = 19
)
