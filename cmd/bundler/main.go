package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitInvalidArgs   = 2
	ExitManifestError = 3
	ExitFetchFailed   = 4
	ExitStorageError  = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "resolve":
		return runResolve(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "gc":
		return runGC(cmdArgs)
	case "diag":
		return runDiag(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: bundler <command> [options]

Commands:
  fetch     Download bundles (with dependencies) into the persistent cache
  resolve   Map a resource path to its bundle and dependency chain
  validate  Check a manifest for cycles and dangling dependencies
  gc        Remove persisted bundles no longer named by the manifest
  diag      Print recorded background download failures

Run 'bundler <command> -h' for command-specific help.`)
}
