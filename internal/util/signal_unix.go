//go:build !windows

package util

import (
	"io"
	"os"
	"syscall"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// RequestStop asks a capture or playback subprocess to exit cleanly.
// On Unix this sends SIGINT; stdin is left untouched.
func RequestStop(p *os.Process, _ io.WriteCloser) error {
	if p == nil {
		return nil
	}
	return p.Signal(syscall.SIGINT)
}
