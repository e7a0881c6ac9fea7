package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// wavEncoder writes PCM into a RIFF/WAVE temp file. The WAV header needs the
// final data size, so the container is only complete after Finish.
type wavEncoder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	buf    *goaudio.IntBuffer
	closed bool
}

func newWAVEncoder(tempDir string, f media.Format) (Encoder, error) {
	if f.BitDepth != 16 {
		return nil, fmt.Errorf("wav encoder: unsupported bit depth %d", f.BitDepth)
	}
	file, err := os.CreateTemp(tempDir, "take-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create wav temp file: %w", err)
	}
	return &wavEncoder{
		file: file,
		enc:  wav.NewEncoder(file, f.SampleRate, f.BitDepth, f.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
			SourceBitDepth: f.BitDepth,
		},
	}, nil
}

func (e *wavEncoder) MimeType() string { return DefaultMimeType }

func (e *wavEncoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEncoderClosed
	}

	n := len(pcm) / 2
	if cap(e.buf.Data) < n {
		e.buf.Data = make([]int, n)
	}
	e.buf.Data = e.buf.Data[:n]
	for i := range n {
		e.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if err := e.enc.Write(e.buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

func (e *wavEncoder) Finish() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEncoderClosed
	}
	e.closed = true
	defer e.release()

	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	blob, err := io.ReadAll(e.file)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return blob, nil
}

func (e *wavEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.release()
}

func (e *wavEncoder) release() {
	if err := e.file.Close(); err != nil {
		slog.Warn("failed to close wav temp file", "error", err)
	}
	if err := os.Remove(e.file.Name()); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove wav temp file", "path", e.file.Name(), "error", err)
	}
}
