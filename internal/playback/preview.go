// Package playback replays a finished take locally before submission.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// Sentinel errors for previews.
var (
	// ErrPlaybackFailed is returned when the blob cannot be decoded or played.
	ErrPlaybackFailed = errors.New("playback failed")

	// ErrDisposed is returned when using a disposed preview.
	ErrDisposed = errors.New("preview disposed")
)

// Options configure a Preview.
type Options struct {
	TempDir    string
	FFmpegPath string
	// OnFinished is called when a playback run ends by itself, with nil on
	// completion or an ErrPlaybackFailed error. Not called for Pause or
	// Dispose.
	OnFinished func(err error)
}

// Preview plays one blob through a speaker. The blob is written to a
// temporary file for the lifetime of the preview and decoded on first Play.
// There is no seeking: Play resumes from the pause point and the position
// rewinds when playback ends. It is safe for concurrent use.
type Preview struct {
	path     string
	mimeType string
	speaker  media.Speaker
	opts     Options

	mu       sync.Mutex
	decoded  bool
	format   media.Format
	pcm      []byte
	pos      int
	playing  bool
	cancel   context.CancelFunc
	done     chan struct{}
	disposed bool
}

// New writes blob to a temporary file and returns a paused preview.
func New(blob []byte, mimeType string, speaker media.Speaker, opts Options) (*Preview, error) {
	f, err := os.CreateTemp(opts.TempDir, "preview-*")
	if err != nil {
		return nil, fmt.Errorf("create preview file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write preview file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close preview file: %w", err)
	}

	return &Preview{
		path:     path,
		mimeType: mimeType,
		speaker:  speaker,
		opts:     opts,
	}, nil
}

// Path returns the temporary file backing the preview.
func (p *Preview) Path() string { return p.path }

// Play starts playback from the current position and returns immediately.
// Decoding happens on the first call; failures return ErrPlaybackFailed and
// leave the blob untouched. Play while playing is a no-op.
func (p *Preview) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return ErrDisposed
	}
	if p.playing {
		return nil
	}
	if p.speaker == nil {
		return fmt.Errorf("%w: %w", ErrPlaybackFailed, media.ErrPlaybackUnavailable)
	}
	if !p.decoded {
		format, pcm, err := Decode(ctx, p.path, p.mimeType, p.opts.FFmpegPath)
		if err != nil {
			slog.Warn("preview decode failed", "mime_type", p.mimeType, "error", err)
			return fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
		}
		p.format, p.pcm, p.decoded = format, pcm, true
	}
	if len(p.pcm) == 0 {
		return fmt.Errorf("%w: nothing to play", ErrPlaybackFailed)
	}

	playCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done, p.playing = cancel, done, true

	go p.play(playCtx, p.pos, done)
	return nil
}

func (p *Preview) play(ctx context.Context, from int, done chan struct{}) {
	defer close(done)

	n, err := p.speaker.Play(ctx, p.format, p.pcm[from:])

	p.mu.Lock()
	p.playing = false
	interrupted := ctx.Err() != nil
	var finishErr error
	switch {
	case interrupted:
		// Pause or Dispose: keep the position, aligned to whole frames.
		if frame := p.format.FrameSize(); frame > 0 {
			n -= n % frame
		}
		p.pos = min(from+n, len(p.pcm))
	case err != nil:
		p.pos = 0
		finishErr = fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	default:
		p.pos = 0
	}
	p.mu.Unlock()

	if interrupted {
		return
	}
	if finishErr != nil {
		slog.Warn("preview playback failed", "error", err)
	}
	if p.opts.OnFinished != nil {
		p.opts.OnFinished(finishErr)
	}
}

// Pause stops playback and remembers the position. It waits for the speaker
// to release the device.
func (p *Preview) Pause() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	playing := p.playing
	p.mu.Unlock()

	if !playing || cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current playback run ends or ctx is done.
func (p *Preview) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Playing reports whether playback is running.
func (p *Preview) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Position returns the current resume point.
func (p *Preview) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	bps := p.format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(p.pos) * time.Second / time.Duration(bps)
}

// Dispose stops playback and removes the temporary file. It is idempotent.
func (p *Preview) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	p.Pause()

	p.mu.Lock()
	p.pcm = nil
	p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove preview file", "path", p.path, "error", err)
	}
}
