// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie // import "github.com/perfsampler/agent/cookie"

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/perfsampler/agent/successfailurecounter"
	"github.com/perfsampler/agent/times"
)

// RunWorker resolves deferred symbols of this unit until ctx is done. It waits for the
// queue to signal new entries and drains everything queued up to that point.
func (u *Unit) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.queue.Wake():
			u.DrainPending()
		}
	}
}

// DrainPending resolves the entries queued so far and returns how many were handled.
// Each successful resolution defines the symbol in the unit stream so the next
// occurrence hits the cache. Failed resolutions are dropped; the symbol is queued again
// the next time it is sampled.
func (u *Unit) DrainPending() int {
	return u.queue.Drain(u.resolvePending)
}

func (u *Unit) resolvePending(p Pending) {
	sfc := successfailurecounter.New(&u.stats.resolved, &u.stats.failed)
	defer sfc.DefaultToFailure()

	if u.cfg.PendingTTL > 0 && times.Since(p.Enqueued) > u.cfg.PendingTTL {
		u.stats.expired.Add(1)
		sfc.Skip()
		return
	}
	if u.resolver == nil {
		return
	}

	name, err := u.resolver.ResolveName(p.Owner, p.Symbol)
	if err != nil {
		if !errors.Is(err, ErrResolutionFailure) {
			log.Debugf("Failed to resolve %s of %d: %v", p.Symbol, p.Owner, err)
		}
		return
	}

	if c := u.Resolve(Request{Owner: p.Owner, Name: p.Symbol, Display: name}); c.Valid() {
		sfc.ReportSuccess()
	}
}
