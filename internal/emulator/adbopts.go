package emulator

import "github.com/skytestlabs/runner/internal/adb"

// adbCmdOpts returns the zero-value CommandOpts, letting the underlying
// adb.Device fall back to its configured default timeout and retry budget
// for release-time cleanup commands.
func adbCmdOpts() adb.CommandOpts {
	return adb.CommandOpts{}
}
