// Package pkg provides shared utilities for the softctap transport stack.
//
// It contains:
//
//   - Sentinel error values used across the usb, ctaphid, and fido packages
//   - Structured logging helpers built on [log/slog] with per-component
//     tagging and runtime level control
//
// Logging defaults to text format on os.Stderr at warn level. Applications
// can adjust the level and format:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.SetLogFormat(pkg.LogFormatJSON)
package pkg
