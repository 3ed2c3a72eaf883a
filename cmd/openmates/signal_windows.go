//go:build windows

package main

import (
	"os"
)

// terminationSignals are the signals that start a graceful shutdown.
// On Windows only Ctrl+C (os.Interrupt) is deliverable.
var terminationSignals = []os.Signal{os.Interrupt}
