package capture

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// ffmpegFinishTimeout bounds how long Finish waits for FFmpeg to flush.
const ffmpegFinishTimeout = 10 * time.Second

// codecSpec describes one FFmpeg-backed encoding.
type codecSpec struct {
	mimeType string
	ext      string
	args     []string
}

// ffmpegCodecs lists FFmpeg encodings in the order they are registered.
var ffmpegCodecs = []codecSpec{
	{mimeType: "audio/webm;codecs=opus", ext: "webm", args: []string{"-c:a", "libopus", "-b:a", "64k", "-f", "webm"}},
	{mimeType: "audio/ogg;codecs=opus", ext: "ogg", args: []string{"-c:a", "libopus", "-b:a", "64k", "-f", "ogg"}},
	{mimeType: "audio/mp4", ext: "m4a", args: []string{"-c:a", "aac", "-b:a", "96k", "-f", "mp4"}},
	{mimeType: "audio/mpeg", ext: "mp3", args: []string{"-c:a", "libmp3lame", "-b:a", "128k", "-f", "mp3"}},
}

// ffmpegEncoder pipes PCM into an FFmpeg process writing a temp file.
type ffmpegEncoder struct {
	mimeType string
	output   string

	mu     sync.Mutex
	proc   *ffmpeg.Process
	closed bool
}

func newFFmpegEncoderFactory(ffmpegPath string, spec codecSpec) EncoderFactory {
	return func(tempDir string, f media.Format) (Encoder, error) {
		out, err := os.CreateTemp(tempDir, "take-*."+spec.ext)
		if err != nil {
			return nil, fmt.Errorf("create %s temp file: %w", spec.ext, err)
		}
		path := out.Name()
		if err := out.Close(); err != nil {
			slog.Warn("failed to close temp file", "path", path, "error", err)
		}

		args := ffmpeg.BaseInputArgs(f.SampleRate, f.Channels)
		args = append(args, spec.args...)
		args = append(args, "-hide_banner", "-loglevel", "warning", "-y", path)

		proc, err := ffmpeg.StartProcess(ffmpegPath, args)
		if err != nil {
			_ = os.Remove(path)
			return nil, err
		}
		return &ffmpegEncoder{mimeType: spec.mimeType, output: path, proc: proc}, nil
	}
}

func (e *ffmpegEncoder) MimeType() string { return e.mimeType }

func (e *ffmpegEncoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEncoderClosed
	}
	if _, err := e.proc.Stdin.Write(pcm); err != nil {
		return fmt.Errorf("write to ffmpeg: %w", err)
	}
	return nil
}

func (e *ffmpegEncoder) Finish() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEncoderClosed
	}
	e.closed = true
	defer e.removeOutput()

	if err := e.proc.Finish(ffmpegFinishTimeout); err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(e.output)
	if err != nil {
		return nil, fmt.Errorf("read encoded output: %w", err)
	}
	return blob, nil
}

func (e *ffmpegEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.proc.Kill()
	e.removeOutput()
}

func (e *ffmpegEncoder) removeOutput() {
	if err := os.Remove(e.output); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove encoder output", "path", e.output, "error", err)
	}
}
