// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package successfailurecounter

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func attempt(sfc SuccessFailureCounter, report func(*SuccessFailureCounter)) {
	defer sfc.DefaultToFailure()
	if report != nil {
		report(&sfc)
	}
}

func TestSuccessFailureCounter(t *testing.T) {
	tests := map[string]struct {
		report          func(*SuccessFailureCounter)
		expectedSuccess uint64
		expectedFailure uint64
	}{
		"no report": {
			expectedFailure: 1,
		},
		"report success": {
			report:          (*SuccessFailureCounter).ReportSuccess,
			expectedSuccess: 1,
		},
		"report failure": {
			report:          (*SuccessFailureCounter).ReportFailure,
			expectedFailure: 1,
		},
		"report nil error": {
			report:          func(sfc *SuccessFailureCounter) { sfc.Report(nil) },
			expectedSuccess: 1,
		},
		"report error": {
			report:          func(sfc *SuccessFailureCounter) { sfc.Report(errors.New("gone")) },
			expectedFailure: 1,
		},
		"skip": {
			report: (*SuccessFailureCounter).Skip,
		},
		"second report ignored": {
			report: func(sfc *SuccessFailureCounter) {
				sfc.ReportSuccess()
				sfc.ReportFailure()
			},
			expectedSuccess: 1,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var success, failure atomic.Uint64
			attempt(New(&success, &failure), test.report)
			assert.Equal(t, test.expectedSuccess, success.Load())
			assert.Equal(t, test.expectedFailure, failure.Load())
		})
	}
}
