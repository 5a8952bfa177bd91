// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfsampler/agent/internal/controller"

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

// ExitParseError is the exit code of invalid arguments. It matches what the flag package
// uses on parse errors.
const ExitParseError = 2

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}

func parseError(err error) error {
	return ErrorWithExitCode{error: err, code: ExitParseError}
}
