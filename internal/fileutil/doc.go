// Package fileutil provides file operation utilities for directory and file management.
//
// EnsureDir creates directories recursively, CopyFile copies files with
// support for explicit permissions, fsync, and atomic writes via temp-file-then-rename,
// and CopyDir copies a directory tree. The emulator boot factory and the AVD
// golden-image cache use them to prepare emulator data directories.
package fileutil
