//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals are the signals that start a graceful shutdown.
// Process supervisors (systemd, container runtimes) deliver SIGTERM;
// SIGINT covers interactive runs.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
