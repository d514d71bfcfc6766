// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// version.go: build metadata injected with -ldflags and reported by
// konservectl.

package konserve

// Build-time variables. Defaults describe an unversioned local build.
//
//	BuildDate format : YYYY.MM.DD-HHMM  (24-hour clock)
//	BuildEnv  values : dev | qa | prod
var (
	// Set by: -ldflags "-X 'github.com/danielsz/konserve.BuildDate=2026.10.18-0900'"
	BuildDate = "0000.00.00-0000"

	// Set by: -ldflags "-X 'github.com/danielsz/konserve.BuildEnv=prod'"
	BuildEnv = "dev"
)

// Version returns "YYYY.MM.DD-HHMM-env".
func Version() string {
	return BuildDate + "-" + BuildEnv
}
