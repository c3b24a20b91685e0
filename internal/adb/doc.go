// Package adb wraps the `adb` command-line tool with per-serial handles
// exposing shell/install/uninstall/health-check, each running under a hard
// timeout with bounded retries on transient failure. This is the only
// package in the module that talks to a device or emulator; every other
// package reaches a device only through a Device value.
//
// Shelling out to the adb binary rather than speaking the ADB wire
// protocol directly mirrors how mature Android tooling does it (gapid's
// core/os/android/adb, Skia infra's test_machine_monitor/adb): there is
// no widely used pure-Go ADB protocol client, so subprocess invocation is
// the idiom, not a shortcut.
package adb
