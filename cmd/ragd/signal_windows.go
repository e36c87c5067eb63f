//go:build windows

package main

import "os"

// terminationSignals lists the signals that should cancel an in-flight
// command. Windows primarily uses os.Interrupt (Ctrl+C).
var terminationSignals = []os.Signal{os.Interrupt}
