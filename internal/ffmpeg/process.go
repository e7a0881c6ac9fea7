// Package ffmpeg provides shared FFmpeg process management utilities.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// ErrTimeout is returned when FFmpeg does not exit within the finish timeout.
var ErrTimeout = errors.New("ffmpeg did not exit in time")

// Process represents a running FFmpeg subprocess.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stderr *bytes.Buffer
}

// BaseInputArgs returns FFmpeg arguments for S16LE PCM on stdin.
func BaseInputArgs(sampleRate, channels int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
	}
}

// StartProcess launches an FFmpeg subprocess reading from stdin.
func StartProcess(ffmpegPath string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Process{
		Cmd:    cmd,
		Cancel: cancel,
		Stdin:  stdinPipe,
		Stderr: &stderr,
	}, nil
}

// Finish closes stdin so FFmpeg flushes its output, then waits for it to
// exit. If it does not exit within timeout the process is killed and
// ErrTimeout is returned. A non-zero exit is reported with the last stderr
// line.
func (p *Process) Finish(timeout time.Duration) error {
	if err := p.Stdin.Close(); err != nil {
		slog.Warn("failed to close ffmpeg stdin", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Cmd.Wait()
	}()

	select {
	case err := <-done:
		p.Cancel()
		if err != nil {
			if msg := util.ExtractLastError(p.Stderr.String()); msg != "" {
				return fmt.Errorf("ffmpeg exited: %s: %w", msg, err)
			}
			return fmt.Errorf("ffmpeg exited: %w", err)
		}
		return nil
	case <-time.After(timeout):
		p.Cancel()
		<-done
		return ErrTimeout
	}
}

// Kill terminates the process without waiting for output to flush.
func (p *Process) Kill() {
	p.Cancel()
	_ = p.Stdin.Close()
	_ = p.Cmd.Wait()
}

// DecodeArgs returns arguments that decode input to S16LE PCM on stdout.
func DecodeArgs(input string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", input,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	}
}

// Decode runs FFmpeg to convert the audio file at input into S16LE PCM.
func Decode(ctx context.Context, ffmpegPath, input string, sampleRate, channels int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, DecodeArgs(input, sampleRate, channels)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := util.ExtractLastError(stderr.String()); msg != "" {
			return nil, fmt.Errorf("decode %s: %s: %w", input, msg, err)
		}
		return nil, fmt.Errorf("decode %s: %w", input, err)
	}
	return stdout.Bytes(), nil
}
