package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

const (
	// execOpenTimeout bounds how long Open waits for the first PCM bytes.
	execOpenTimeout = 3 * time.Second
	// execStopTimeout bounds how long Close waits for a clean exit.
	execStopTimeout = 2 * time.Second
	// execReadSize is the pipe read size, about 10 ms of mono 48 kHz audio.
	execReadSize = 960
)

// ExecMicrophone captures through the platform capture command (arecord or
// FFmpeg), reading S16LE mono PCM from its stdout.
type ExecMicrophone struct {
	FFmpegPath string
}

// NewExecMicrophone returns a microphone that shells out to the capture tool.
func NewExecMicrophone(ffmpegPath string) *ExecMicrophone {
	return &ExecMicrophone{FFmpegPath: ffmpegPath}
}

// Open starts the capture process and waits for the first audio. Failures
// during startup are mapped to ErrPermissionDenied or ErrDeviceUnavailable.
func (m *ExecMicrophone) Open(ctx context.Context, c Constraints, h Handler) (Stream, error) {
	name, args, err := audio.BuildCaptureCommand(audio.CaptureOptions{
		Device:           c.Device,
		FFmpegPath:       m.FFmpegPath,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %w", ErrDeviceUnavailable, name, err)
	}

	s := &execStream{
		cmd:     cmd,
		cancel:  cancel,
		stdin:   stdin,
		stderr:  stderr,
		handler: h,
		done:    make(chan struct{}),
	}
	ready := make(chan error, 1)
	go s.readLoop(stdout, ready)

	select {
	case err := <-ready:
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	case <-time.After(execOpenTimeout):
		slog.Warn("capture produced no audio yet, continuing", "command", name)
	case <-ctx.Done():
		_ = s.Close()
		return nil, context.Cause(ctx)
	}

	slog.Info("microphone opened", "command", name, "device", c.Device)
	return s, nil
}

type execStream struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   io.WriteCloser
	stderr  *lockedBuffer
	handler Handler

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *execStream) Format() Format { return DefaultFormat() }

func (s *execStream) readLoop(stdout io.Reader, ready chan<- error) {
	defer close(s.done)

	first := true
	for {
		buf := make([]byte, execReadSize)
		n, err := stdout.Read(buf)
		if n > 0 {
			if first {
				first = false
				ready <- nil
			}
			if s.isClosed() {
				continue
			}
			if s.handler.OnData != nil {
				s.handler.OnData(buf[:n])
			}
		}
		if err == nil {
			continue
		}

		waitErr := s.cmd.Wait()
		if s.isClosed() {
			return
		}
		failure := ClassifyCaptureError(s.stderr.String(), errors.Join(err, waitErr))
		if first {
			ready <- failure
			return
		}
		if s.handler.OnError != nil {
			s.handler.OnError(failure)
		}
		return
	}
}

func (s *execStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close asks the capture tool to exit, kills it after a grace period and
// waits for the reader to drain.
func (s *execStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := util.RequestStop(s.cmd.Process, s.stdin); err != nil {
		slog.Debug("graceful capture stop failed", "error", err)
	}

	select {
	case <-s.done:
	case <-time.After(execStopTimeout):
		slog.Warn("capture process did not stop in time, killing")
		s.cancel()
		<-s.done
	}
	s.cancel()
	return nil
}

// ClassifyCaptureError maps capture tool output onto the media sentinels.
func ClassifyCaptureError(stderr string, err error) error {
	msg := util.ExtractLastError(stderr)
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"permission denied", "operation not permitted", "not authorized", "access is denied"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
	}
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
}

// lockedBuffer is a bytes.Buffer safe for the exec stderr copier and readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
