// Package app holds build metadata set with -ldflags.
package app

var (
	Version     = "dev"
	BuildCommit = "unknown"
)
