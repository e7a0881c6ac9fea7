// Package media defines the platform capabilities the recorder needs: an
// exclusive microphone stream and a speaker for previews. Implementations
// shell out to the platform capture tools or use miniaudio directly.
package media

import (
	"context"
	"errors"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Sentinel errors for media acquisition.
var (
	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrPlaybackUnavailable is returned when no output device can be opened.
	ErrPlaybackUnavailable = errors.New("audio output unavailable")
)

// Constraints selects the input device and processing hints.
type Constraints struct {
	Device           string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is the capture format: 48 kHz mono S16LE.
func DefaultFormat() Format {
	return Format{
		SampleRate: types.SampleRate,
		Channels:   types.Channels,
		BitDepth:   types.BytesPerSample * 8,
	}
}

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// FrameSize returns the size of one sample frame across all channels.
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// Handler receives stream callbacks. OnData gets a buffer the callee may
// keep. OnError fires at most once when the stream fails on its own; it is
// not called for streams closed through Stream.Close.
type Handler struct {
	OnData  func(pcm []byte)
	OnError func(err error)
}

// Stream is an open exclusive microphone stream.
type Stream interface {
	// Format reports the PCM format delivered to OnData.
	Format() Format
	// Close stops the hardware track and waits until no more callbacks
	// run. It is idempotent.
	Close() error
}

// Microphone opens exclusive input streams.
type Microphone interface {
	Open(ctx context.Context, c Constraints, h Handler) (Stream, error)
}

// Speaker plays PCM. Play blocks until playback ends or ctx is cancelled and
// returns the number of bytes actually played.
type Speaker interface {
	Play(ctx context.Context, f Format, pcm []byte) (int, error)
}
