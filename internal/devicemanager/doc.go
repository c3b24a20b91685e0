// Package devicemanager is a unified lease facade over an emulator pool
// and directly-connected physical devices, dispatching across the two
// device kinds while enforcing a single shared invariant: at most one
// ACQUIRED lease per serial, globally.
package devicemanager
