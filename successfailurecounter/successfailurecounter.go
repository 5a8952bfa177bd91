// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package successfailurecounter records the outcome of a single attempt, such as one
// deferred name resolution, into a pair of shared atomic counters. At most one outcome is
// recorded per attempt.
package successfailurecounter // import "github.com/perfsampler/agent/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// SuccessFailureCounter tracks one attempt. It is not safe for concurrent use; the
// counters it reports into are.
type SuccessFailureCounter struct {
	success, fail *atomic.Uint64
	sealed        bool
}

// New returns a tracker for one attempt reporting into success and fail.
func New(success, fail *atomic.Uint64) SuccessFailureCounter {
	return SuccessFailureCounter{success: success, fail: fail}
}

func (sfc *SuccessFailureCounter) seal() bool {
	if sfc.sealed {
		log.Errorf("Attempted to report the outcome of an attempt more than once.")
		return false
	}
	sfc.sealed = true
	return true
}

// ReportSuccess counts the attempt as successful.
func (sfc *SuccessFailureCounter) ReportSuccess() {
	if sfc.seal() {
		sfc.success.Add(1)
	}
}

// ReportFailure counts the attempt as failed.
func (sfc *SuccessFailureCounter) ReportFailure() {
	if sfc.seal() {
		sfc.fail.Add(1)
	}
}

// Report counts the attempt as successful if err is nil and as failed otherwise.
func (sfc *SuccessFailureCounter) Report(err error) {
	if err != nil {
		sfc.ReportFailure()
		return
	}
	sfc.ReportSuccess()
}

// Skip seals the attempt without counting it, for attempts accounted for elsewhere.
func (sfc *SuccessFailureCounter) Skip() {
	sfc.seal()
}

// DefaultToFailure counts the attempt as failed unless an outcome was already recorded.
// It is meant to be deferred.
func (sfc *SuccessFailureCounter) DefaultToFailure() {
	if !sfc.sealed {
		sfc.sealed = true
		sfc.fail.Add(1)
	}
}
