// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cookie // import "github.com/perfsampler/agent/cookie"

// launchers are binaries that start applications by loading them into the same process,
// for example the Android application loader. Samples from such a process are attributed
// to the application name taken from the process arguments instead of the binary.
var launchers = map[string]struct{}{
	"app_process":   {},
	"app_process32": {},
	"app_process64": {},
}

// placeholders are the transient argument strings a launcher reports while the
// application is still starting up.
var placeholders = map[string]struct{}{
	"zygote":            {},
	"zygote64":          {},
	"<pre-initialized>": {},
}

// IsLauncher reports whether the mapped binary name belongs to an application launcher.
func IsLauncher(name string) bool {
	_, ok := launchers[name]
	return ok
}

// IsPlaceholder reports whether name is a transient launcher name that must not be cached.
func IsPlaceholder(name string) bool {
	_, ok := placeholders[name]
	return ok
}
