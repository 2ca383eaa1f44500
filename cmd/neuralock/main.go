// Package main is the entry point for the neuralock CLI.
//
// Usage:
//
//	neuralock [flags] <command> [args]
//
// Commands:
//
//	preprocess - filter, resample, and standardize raw BDF recordings
//	train      - run the two-phase encoder training and derive the bundle
//	enroll     - build a user's prototype set from reference trials
//	verify     - score a probe trial against a claimed identity
//	eval       - report FAR/FRR/EER over a labeled trial directory
//	version    - show version information
package main

import (
	"fmt"
	"os"

	"github.com/neuralock/neuralock/cmd/neuralock/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
