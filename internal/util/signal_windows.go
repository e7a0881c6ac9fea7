//go:build windows

package util

import (
	"io"
	"os"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// RequestStop asks a capture or playback subprocess to exit cleanly.
// Windows has no SIGINT for child processes, so FFmpeg gets its 'q' quit
// command on stdin instead.
func RequestStop(_ *os.Process, stdin io.WriteCloser) error {
	if stdin == nil {
		return nil
	}
	_, _ = stdin.Write([]byte("q"))
	return stdin.Close()
}
