// Package build carries version information stamped at link time.
package build

// Version is the release version, overridden via -ldflags at build time.
var Version = "dev"

// Commit is the VCS revision, overridden via -ldflags at build time.
var Commit = "unknown"
