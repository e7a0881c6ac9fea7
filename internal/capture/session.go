// Package capture owns one recording attempt: the exclusive microphone
// stream, the incremental encoder, the spectrum analyser and the live level
// monitor. Stopping a session yields the finished blob and its duration.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// ElapsedInterval is how often elapsed time is sampled for display.
const ElapsedInterval = 100 * time.Millisecond

// Sentinel errors for capture sessions.
var (
	// ErrAlreadyRecording is returned by Start while the session holds the microphone.
	ErrAlreadyRecording = errors.New("capture session is already recording")

	// ErrNotRecording is returned by Stop when there is nothing to stop.
	ErrNotRecording = errors.New("capture session is not recording")

	// ErrSessionUsed is returned by Start on a session that already ran.
	ErrSessionUsed = errors.New("capture session already used")

	// ErrDisposed is returned when the session was disposed mid-operation.
	ErrDisposed = errors.New("capture session disposed")

	// ErrEmptyRecording is returned by Stop when no audio bytes were captured.
	ErrEmptyRecording = errors.New("no audio captured")

	// ErrEncodingFailure wraps encoder and stream failures during capture.
	ErrEncodingFailure = errors.New("encoding failed")
)

// State is the lifecycle state of a session.
type State string

// Session states.
const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
	StateStopped    State = "stopped"
	StateDisposed   State = "disposed"
)

// Options parameterise one recording attempt.
type Options struct {
	MaxDuration         time.Duration
	MimeTypePreferences []string
	BarCount            int
	Constraints         media.Constraints
	FrameInterval       time.Duration
	FFTSize             int
}

// Hooks receive session events. They are called without the session lock
// held, from session goroutines; Stop and Dispose wait for running hooks, so
// hooks must not call back into the session synchronously.
type Hooks struct {
	OnElapsed  func(elapsed time.Duration)
	OnFrame    func(frame types.LevelFrame)
	OnAutoStop func()
	OnError    func(err error)
}

// Config holds the collaborators of a session.
type Config struct {
	Microphone media.Microphone
	Registry   *Registry
	Clock      clockwork.Clock
	TempDir    string
	Hooks      Hooks
}

// Result is a finished take.
type Result struct {
	Blob            []byte
	MimeType        string
	Duration        time.Duration
	DurationSeconds int
	Bars            []float64
	Levels          audio.Levels
}

// Session is a single-use recording attempt. It is safe for concurrent use.
type Session struct {
	id  string
	cfg Config

	mu           sync.Mutex
	state        State
	opts         Options
	ctx          context.Context
	cancel       context.CancelFunc
	startedAt    time.Time
	elapsed      time.Duration
	mimeType     string
	stream       media.Stream
	encoder      Encoder
	analyser     *audio.Analyser
	monitor      *audio.LevelMonitor
	dist         *distributor
	limitReached bool
	failure      error
	result       *Result

	wg sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		state: StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MimeType returns the negotiated encoding, empty before Start.
func (s *Session) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mimeType
}

// Start acquires the microphone, negotiates the encoding and begins
// buffering. The elapsed ticker, level monitor and max-duration timer are
// armed before Start returns. The session lock is not held while the
// microphone opens, so a concurrent Dispose aborts the attempt.
func (s *Session) Start(ctx context.Context, opts Options) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateRecording, StateStarting:
		s.mu.Unlock()
		return ErrAlreadyRecording
	case StateDisposed:
		s.mu.Unlock()
		return ErrDisposed
	default:
		s.mu.Unlock()
		return ErrSessionUsed
	}
	if s.cfg.Microphone == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no microphone configured", media.ErrDeviceUnavailable)
	}

	format := media.DefaultFormat()
	mimeType := s.cfg.Registry.Negotiate(opts.MimeTypePreferences)
	enc, err := s.cfg.Registry.New(mimeType, s.cfg.TempDir, format)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	analyser := audio.NewAnalyser(opts.FFTSize)

	sessCtx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = sessCtx, cancel
	s.opts = opts
	s.mimeType = mimeType
	s.encoder = enc
	s.analyser = analyser
	s.dist = newDistributor(enc, analyser, format)
	s.state = StateStarting
	s.mu.Unlock()

	stream, err := s.cfg.Microphone.Open(ctx, opts.Constraints, media.Handler{
		OnData:  s.onData,
		OnError: s.onStreamError,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisposed {
		// Dispose already aborted the encoder and closed the analyser.
		if stream != nil {
			util.SafeClose(stream, "microphone stream")
		}
		return ErrDisposed
	}
	if err != nil {
		cancel()
		enc.Abort()
		analyser.Close()
		s.state = StateIdle
		s.encoder, s.analyser, s.dist, s.mimeType = nil, nil, nil, ""
		return util.WrapError("open microphone", err)
	}

	s.stream = stream
	s.startedAt = s.cfg.Clock.Now()
	s.state = StateRecording

	s.monitor = audio.NewLevelMonitor(analyser, audio.MonitorConfig{
		BarCount: opts.BarCount,
		Interval: opts.FrameInterval,
		Clock:    s.cfg.Clock,
	}, s.publishFrame)
	s.monitor.Start(sessCtx)

	ticker := s.cfg.Clock.NewTicker(ElapsedInterval)
	var limit clockwork.Timer
	if opts.MaxDuration > 0 {
		limit = s.cfg.Clock.NewTimer(opts.MaxDuration)
	}
	s.wg.Add(1)
	go s.run(sessCtx, ticker, limit)

	slog.Info("capture started", "session", s.id, "mime_type", mimeType, "max_duration", opts.MaxDuration)
	return nil
}

// run drives the elapsed ticker and the max-duration timer.
func (s *Session) run(ctx context.Context, ticker clockwork.Ticker, limit clockwork.Timer) {
	defer s.wg.Done()
	defer ticker.Stop()

	var limitC <-chan time.Time
	if limit != nil {
		defer limit.Stop()
		limitC = limit.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.mu.Lock()
			if ctx.Err() != nil || s.state != StateRecording || s.limitReached {
				s.mu.Unlock()
				continue
			}
			elapsed := s.elapsedLocked()
			s.mu.Unlock()

			if s.cfg.Hooks.OnElapsed != nil {
				s.cfg.Hooks.OnElapsed(elapsed)
			}
		case <-limitC:
			s.mu.Lock()
			fire := ctx.Err() == nil && s.state == StateRecording && !s.limitReached
			if fire {
				s.limitReached = true
				s.elapsed = s.opts.MaxDuration
			}
			s.mu.Unlock()

			if fire {
				slog.Info("capture max duration reached", "session", s.id, "max_duration", s.opts.MaxDuration)
				if s.cfg.Hooks.OnElapsed != nil {
					s.cfg.Hooks.OnElapsed(s.opts.MaxDuration)
				}
				if s.cfg.Hooks.OnAutoStop != nil {
					s.cfg.Hooks.OnAutoStop()
				}
			}
			return
		}
	}
}

func (s *Session) onData(pcm []byte) {
	s.mu.Lock()
	if s.state != StateRecording || s.limitReached || s.failure != nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	err := s.dist.Process(pcm)
	if err == nil {
		s.mu.Unlock()
		return
	}
	failure := s.failLocked(err)
	s.mu.Unlock()

	s.reportFailure(failure)
}

func (s *Session) onStreamError(err error) {
	s.mu.Lock()
	if s.state != StateRecording || s.failure != nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	failure := s.failLocked(err)
	s.mu.Unlock()

	s.reportFailure(failure)
}

// failLocked records the first mid-capture failure. Must be called with lock held.
func (s *Session) failLocked(err error) error {
	s.failure = fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	return s.failure
}

func (s *Session) reportFailure(err error) {
	slog.Error("capture failed", "session", s.id, "error", err)
	if s.cfg.Hooks.OnError != nil {
		s.cfg.Hooks.OnError(err)
	}
}

func (s *Session) publishFrame(frame types.LevelFrame) {
	s.mu.Lock()
	live := s.state == StateRecording && !s.limitReached && s.ctx.Err() == nil
	s.mu.Unlock()

	if live && s.cfg.Hooks.OnFrame != nil {
		s.cfg.Hooks.OnFrame(frame)
	}
}

// elapsedLocked returns the monotonic elapsed time clamped to
// [0, MaxDuration]. Must be called with lock held.
func (s *Session) elapsedLocked() time.Duration {
	d := max(s.cfg.Clock.Since(s.startedAt), s.elapsed, 0)
	if s.opts.MaxDuration > 0 {
		d = min(d, s.opts.MaxDuration)
	}
	s.elapsed = d
	return d
}

// Elapsed returns the elapsed recording time. It is frozen once recording ends.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRecording && !s.limitReached {
		return s.elapsedLocked()
	}
	return s.elapsed
}

// Frame returns the latest level frame, or a baseline before Start.
func (s *Session) Frame() types.LevelFrame {
	s.mu.Lock()
	monitor, bars := s.monitor, s.opts.BarCount
	s.mu.Unlock()
	if monitor == nil {
		return types.LevelFrame{Bars: audio.BaselineBars(bars)}
	}
	return monitor.Frame()
}

// Result returns the finished take, or nil.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stop finalises the encoder, releases the microphone and returns the take.
// It returns ErrNotRecording when not recording, ErrEmptyRecording when no
// audio arrived, and an ErrEncodingFailure error when capture failed.
func (s *Session) Stop() (*Result, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	s.state = StateFinalizing
	if !s.limitReached {
		s.elapsedLocked()
	}
	elapsed := s.elapsed
	s.cancel()
	stream, monitor, enc, analyser := s.stream, s.monitor, s.encoder, s.analyser
	s.mu.Unlock()

	s.releaseInputs(stream, monitor, analyser)

	blob, encErr := enc.Finish()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisposed {
		return nil, ErrDisposed
	}
	s.state = StateStopped

	switch {
	case s.failure != nil:
		return nil, s.failure
	case encErr != nil:
		s.failure = fmt.Errorf("%w: %w", ErrEncodingFailure, encErr)
		return nil, s.failure
	case s.dist.Captured() == 0 || len(blob) == 0:
		return nil, ErrEmptyRecording
	}

	s.result = &Result{
		Blob:            blob,
		MimeType:        s.mimeType,
		Duration:        elapsed,
		DurationSeconds: util.RoundSeconds(elapsed),
		Bars:            monitor.Frame().Bars,
		Levels:          s.dist.Levels(),
	}
	slog.Info("capture stopped", "session", s.id, "duration", elapsed, "bytes", len(blob),
		"peak_db", s.result.Levels.Peak, "rms_db", s.result.Levels.RMS)
	if s.result.Levels.Silent() {
		slog.Warn("take is silent", "session", s.id, "peak_db", s.result.Levels.Peak)
	}
	return s.result, nil
}

// releaseInputs stops the hardware stream, the monitor and the session
// goroutines, then closes the analyser. Must be called without the lock.
func (s *Session) releaseInputs(stream media.Stream, monitor *audio.LevelMonitor, analyser *audio.Analyser) {
	if stream != nil {
		if err := stream.Close(); err != nil {
			slog.Warn("failed to close microphone stream", "session", s.id, "error", err)
		}
	}
	if monitor != nil {
		monitor.Stop()
	}
	s.wg.Wait()
	if analyser != nil {
		analyser.Close()
	}
}

// Dispose releases every resource the session holds. It is idempotent and
// callable from any state. No hook runs after Dispose returns.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateDisposed
	if s.cancel != nil {
		s.cancel()
	}
	stream, monitor, enc, analyser := s.stream, s.monitor, s.encoder, s.analyser
	s.stream = nil
	s.result = nil
	s.mu.Unlock()

	s.releaseInputs(stream, monitor, analyser)
	if enc != nil {
		enc.Abort()
	}

	slog.Debug("capture disposed", "session", s.id, "from", prev)
}
