// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller runs callbacks on a fixed interval until a context is canceled.
package periodiccaller // import "github.com/perfsampler/agent/periodiccaller"

import (
	"context"
	"time"
)

// Start calls callback every interval until ctx is canceled. The returned function stops the
// underlying ticker.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ticker.Stop
}

// StartWithManualTrigger behaves like Start, and additionally calls callback(true) every
// time a value is received on trigger. When ctx is canceled callback is invoked one last
// time with manualTrigger set, so that buffered work can be flushed.
func StartWithManualTrigger(ctx context.Context, interval time.Duration, trigger <-chan bool,
	callback func(manualTrigger bool)) <-chan struct{} {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback(false)
			case <-trigger:
				callback(true)
			case <-ctx.Done():
				callback(true)
				return
			}
		}
	}()

	return done
}
