// Package recording sequences one take through capture, review and
// submission. A Controller owns at most one capture session and one preview
// at a time and hands finished takes to an upload collaborator.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/playback"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/upload"
)

// Config holds the collaborators and settings of a controller.
type Config struct {
	Preset              Preset
	Microphone          media.Microphone
	Speaker             media.Speaker
	Registry            *capture.Registry
	Uploader            upload.Uploader
	Identity            types.Identity
	MimeTypePreferences []string
	Constraints         media.Constraints
	TempDir             string
	FFmpegPath          string
	FrameInterval       time.Duration
	Clock               clockwork.Clock
	EventLog            *eventlog.Logger

	// OnStatus receives a snapshot after every transition.
	OnStatus func(types.ControllerStatus)
	// OnFrame receives level frames while recording. It runs on the level
	// monitor goroutine and must not call back into the controller.
	OnFrame func(frame types.LevelFrame, elapsed time.Duration)
}

// Controller is the recording state machine. It is safe for concurrent use.
// Observer callbacks run without the controller lock and may call Status.
type Controller struct {
	cfg Config

	mu           sync.Mutex
	preset       Preset
	state        types.RecordingState
	gen          uint64
	session      *capture.Session
	take         *capture.Result
	preview      *playback.Preview
	recordedAt   time.Time
	notice       *types.Notice
	receipt      *types.Receipt
	submitCancel context.CancelFunc
	startCancel  context.CancelFunc // set while the microphone is opening

	live liveState

	// wg tracks goroutines spawned from session and preview hooks.
	wg sync.WaitGroup
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Preset.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Registry == nil {
		cfg.Registry = capture.NewRegistry()
	}

	c := &Controller{
		cfg:    cfg,
		preset: cfg.Preset,
		state:  types.StateIdle,
	}
	c.live.reset(0, cfg.Preset.BarCount)
	return c, nil
}

// Preset returns the active preset.
func (c *Controller) Preset() Preset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preset
}

// idleLocked reports whether the controller is idle with no start pending.
// Must be called with lock held.
func (c *Controller) idleLocked() bool {
	return c.state == types.StateIdle && c.startCancel == nil
}

// SetPreset switches the preset. Only allowed while idle.
func (c *Controller) SetPreset(p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.idleLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.preset = p
	c.live.reset(0, p.BarCount)
	st := c.statusLocked()
	c.mu.Unlock()

	c.emit(st)
	return nil
}

// SetInput selects the capture device for the next take. Only allowed while idle.
func (c *Controller) SetInput(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.idleLocked() {
		return ErrBusy
	}
	c.cfg.Constraints.Device = device
	return nil
}

// Start opens a new capture session: idle to recording. Permission and
// device failures leave the controller idle with a notice. The lock is not
// held while the microphone opens, so Close can abort a pending start.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.startCancel != nil:
		c.mu.Unlock()
		return ErrBusy
	case c.state == types.StateIdle:
	case c.state == types.StateRecording:
		c.mu.Unlock()
		return ErrAlreadyRecording
	default:
		c.mu.Unlock()
		return ErrBusy
	}

	c.gen++
	gen := c.gen
	preset := c.preset
	opts := capture.Options{
		MaxDuration:         preset.MaxDuration,
		MimeTypePreferences: c.cfg.MimeTypePreferences,
		BarCount:            preset.BarCount,
		Constraints:         c.cfg.Constraints,
		FrameInterval:       c.cfg.FrameInterval,
	}
	sess := capture.NewSession(capture.Config{
		Microphone: c.cfg.Microphone,
		Registry:   c.cfg.Registry,
		Clock:      c.cfg.Clock,
		TempDir:    c.cfg.TempDir,
		Hooks:      c.sessionHooks(gen),
	})
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.session = sess
	c.startCancel = cancel
	c.live.reset(gen, preset.BarCount)
	c.mu.Unlock()

	err := sess.Start(startCtx, opts)

	c.mu.Lock()
	if c.gen != gen {
		// Closed while the microphone was opening.
		c.mu.Unlock()
		sess.Dispose()
		slog.Info("recording start aborted", "session", sess.ID())
		return ErrClosed
	}
	c.startCancel = nil

	if err != nil {
		c.session = nil
		sess.Dispose()
		c.live.reset(0, preset.BarCount)
		c.notice = noticeFor(err, preset)
		c.logRecordingLocked(eventlog.RecordingError, sess.ID(), &eventlog.RecordingDetails{Error: err.Error()})
		st := c.statusLocked()
		c.mu.Unlock()

		slog.Warn("recording start failed", "preset", preset.Name, "error", err)
		c.emit(st)
		return withNotice(err, st.Notice)
	}

	c.state = types.StateRecording
	c.recordedAt = c.cfg.Clock.Now()
	c.notice = nil
	c.receipt = nil
	c.logRecordingLocked(eventlog.RecordingStarted, sess.ID(), &eventlog.RecordingDetails{MimeType: sess.MimeType()})
	st := c.statusLocked()
	c.mu.Unlock()

	slog.Info("recording started", "session", sess.ID(), "preset", preset.Name)
	c.emit(st)
	return nil
}

// sessionHooks binds session callbacks to one generation. They never take
// the controller lock directly; finalisation runs on a tracked goroutine.
func (c *Controller) sessionHooks(gen uint64) capture.Hooks {
	return capture.Hooks{
		OnElapsed: func(d time.Duration) {
			c.live.setElapsed(gen, d)
		},
		OnFrame: func(f types.LevelFrame) {
			elapsed, ok := c.live.setFrame(gen, f)
			if ok && c.cfg.OnFrame != nil {
				c.cfg.OnFrame(f, elapsed)
			}
		},
		OnAutoStop: func() {
			c.spawn(func() { c.autoStop(gen) })
		},
		OnError: func(err error) {
			c.spawn(func() { c.fail(gen, err) })
		},
	}
}

func (c *Controller) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Stop finalises the take: recording to reviewing. A take shorter than the
// preset minimum, or one without audio, is dropped and the controller goes
// back to idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != types.StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	st, err := c.finishLocked()
	c.mu.Unlock()

	c.emit(st)
	return err
}

func (c *Controller) autoStop(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != types.StateRecording {
		c.mu.Unlock()
		return
	}
	st, err := c.finishLocked()
	c.mu.Unlock()

	if err != nil {
		slog.Warn("auto-stop did not produce a take", "error", err)
	}
	c.emit(st)
}

// finishLocked stops the session and moves to reviewing or idle.
// Must be called with lock held.
func (c *Controller) finishLocked() (types.ControllerStatus, error) {
	sess := c.session
	res, err := sess.Stop()
	if err == nil && res.Duration < c.preset.MinDuration {
		err = fmt.Errorf("%w: %s is under %s", ErrTooShort, res.Duration.Round(time.Millisecond), c.preset.MinDuration)
	}

	if err != nil {
		eventType := eventlog.RecordingError
		switch {
		case errors.Is(err, ErrTooShort):
			eventType = eventlog.RecordingTooShort
		case errors.Is(err, capture.ErrEmptyRecording):
			eventType = eventlog.RecordingEmpty
		}
		c.logRecordingLocked(eventType, sess.ID(), &eventlog.RecordingDetails{
			MimeType: sess.MimeType(),
			Error:    err.Error(),
		})
		c.resetLocked()
		c.notice = noticeFor(err, c.preset)
		slog.Info("recording dropped", "session", sess.ID(), "reason", err)
		return c.statusLocked(), withNotice(err, c.notice)
	}

	c.live.freeze(res.Bars)
	c.take = res
	c.state = types.StateReviewing
	c.notice = nil
	c.logRecordingLocked(eventlog.RecordingStopped, sess.ID(), &eventlog.RecordingDetails{
		MimeType:   res.MimeType,
		DurationMs: res.Duration.Milliseconds(),
		Bytes:      len(res.Blob),
		PeakDB:     res.Levels.Peak,
		RMSDB:      res.Levels.RMS,
	})
	slog.Info("recording ready for review", "session", sess.ID(), "duration_seconds", res.DurationSeconds)
	return c.statusLocked(), nil
}

// fail force-stops a session that reported a mid-capture failure.
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state != types.StateRecording {
		c.mu.Unlock()
		return
	}
	c.logRecordingLocked(eventlog.RecordingError, c.session.ID(), &eventlog.RecordingDetails{Error: err.Error()})
	c.resetLocked()
	c.notice = noticeFor(err, c.preset)
	st := c.statusLocked()
	c.mu.Unlock()

	c.emit(st)
}

// Discard drops the finished take: reviewing to idle.
func (c *Controller) Discard() error {
	c.mu.Lock()
	if c.state != types.StateReviewing {
		c.mu.Unlock()
		return ErrNothingToReview
	}
	c.logRecordingLocked(eventlog.RecordingDiscarded, c.session.ID(), &eventlog.RecordingDetails{})
	c.resetLocked()
	c.notice = nil
	st := c.statusLocked()
	c.mu.Unlock()

	c.emit(st)
	return nil
}

// Submit hands the take to the uploader: reviewing to submitting. On success
// the controller resets to idle. On failure it returns to reviewing with the
// same take kept for another attempt.
func (c *Controller) Submit(ctx context.Context, meta types.Metadata) (*types.Receipt, error) {
	c.mu.Lock()
	switch {
	case c.state == types.StateSubmitting:
		c.mu.Unlock()
		return nil, ErrBusy
	case c.state != types.StateReviewing:
		c.mu.Unlock()
		return nil, ErrNothingToReview
	case c.cfg.Uploader == nil:
		c.mu.Unlock()
		return nil, ErrNoUploader
	}
	if err := types.Validate(&meta); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if time.Duration(c.take.DurationSeconds)*time.Second < c.preset.MinDuration {
		c.notice = noticeFor(ErrTooShort, c.preset)
		st := c.statusLocked()
		c.mu.Unlock()
		c.emit(st)
		return nil, withNotice(ErrTooShort, st.Notice)
	}
	if c.preview != nil {
		c.preview.Pause()
	}

	req := c.buildRequestLocked(meta)
	sessionID := c.session.ID()
	submitCtx, cancel := context.WithCancel(ctx)
	c.submitCancel = cancel
	c.state = types.StateSubmitting
	c.notice = nil
	gen := c.gen
	c.logSubmitLocked(eventlog.SubmitStarted, sessionID, req, nil, nil)
	st := c.statusLocked()
	c.mu.Unlock()

	c.emit(st)

	receipt, err := c.cfg.Uploader.Upload(submitCtx, req)
	cancel()

	c.mu.Lock()
	if c.gen != gen || c.state != types.StateSubmitting {
		c.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		slog.Warn("upload completed after recorder closed", "clip_id", req.ID)
		return receipt, nil
	}
	c.submitCancel = nil

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubmitFailed, err)
		c.state = types.StateReviewing
		c.notice = noticeFor(err, c.preset)
		c.logSubmitLocked(eventlog.SubmitFailed, sessionID, req, nil, err)
		st := c.statusLocked()
		c.mu.Unlock()

		slog.Error("submit failed", "clip_id", req.ID, "error", err)
		c.emit(st)
		return nil, withNotice(err, st.Notice)
	}

	c.logSubmitLocked(eventlog.SubmitCompleted, sessionID, req, receipt, nil)
	c.resetLocked()
	c.receipt = receipt
	st = c.statusLocked()
	c.mu.Unlock()

	slog.Info("submit completed", "clip_id", receipt.ClipID)
	c.emit(st)
	return receipt, nil
}

// buildRequestLocked assembles the upload request. Must be called with lock held.
func (c *Controller) buildRequestLocked(meta types.Metadata) *types.UploadRequest {
	id := uuid.NewString()
	take := c.take

	waveform := slices.Clone(take.Bars)
	if !audio.HasSignal(waveform) {
		waveform = audio.PlaceholderWaveform(id, c.preset.BarCount)
	}

	return &types.UploadRequest{
		ID:              id,
		Audio:           take.Blob,
		MimeType:        take.MimeType,
		DurationSeconds: take.DurationSeconds,
		Waveform:        waveform,
		Metadata:        meta,
		Identity:        c.cfg.Identity,
		PeakDB:          take.Levels.Peak,
		RMSDB:           take.Levels.RMS,
		RecordedAt:      c.recordedAt,
	}
}

// Play starts or resumes the preview of the finished take. Failures are
// surfaced as a notice and leave the take untouched.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	if c.state != types.StateReviewing {
		c.mu.Unlock()
		return ErrNothingToReview
	}

	var err error
	if c.preview == nil {
		c.preview, err = playback.New(c.take.Blob, c.take.MimeType, c.cfg.Speaker, playback.Options{
			TempDir:    c.cfg.TempDir,
			FFmpegPath: c.cfg.FFmpegPath,
			OnFinished: c.previewHook(c.gen),
		})
		if err != nil {
			err = fmt.Errorf("%w: %w", playback.ErrPlaybackFailed, err)
		}
	}
	if err == nil {
		err = c.preview.Play(ctx)
	}
	c.notice = noticeFor(err, c.preset)
	st := c.statusLocked()
	c.mu.Unlock()

	c.emit(st)
	return withNotice(err, st.Notice)
}

func (c *Controller) previewHook(gen uint64) func(error) {
	return func(err error) {
		c.spawn(func() {
			c.mu.Lock()
			if c.gen != gen || c.state != types.StateReviewing {
				c.mu.Unlock()
				return
			}
			if err != nil {
				c.notice = noticeFor(err, c.preset)
			}
			st := c.statusLocked()
			c.mu.Unlock()

			c.emit(st)
		})
	}
}

// Pause pauses the preview and keeps its position.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != types.StateReviewing {
		c.mu.Unlock()
		return ErrNothingToReview
	}
	if c.preview != nil {
		c.preview.Pause()
	}
	st := c.statusLocked()
	c.mu.Unlock()

	c.emit(st)
	return nil
}

// Close returns to idle from any state. It disposes the session and the
// preview and cancels an in-flight submit. No session callback runs and no
// status is emitted for the closed take after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	prev := c.state
	starting := c.startCancel != nil
	c.gen++
	sess, preview, cancel, abortStart := c.session, c.preview, c.submitCancel, c.startCancel
	c.session, c.preview, c.submitCancel, c.take, c.startCancel = nil, nil, nil, nil, nil
	c.state = types.StateIdle
	c.notice = nil
	c.live.reset(0, c.preset.BarCount)
	if sess != nil {
		c.logRecordingLocked(eventlog.RecordingClosed, sess.ID(), &eventlog.RecordingDetails{FromState: string(prev)})
	}
	st := c.statusLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if abortStart != nil {
		abortStart()
	}
	if preview != nil {
		preview.Dispose()
	}
	if sess != nil {
		sess.Dispose()
	}
	c.wg.Wait()

	if prev != types.StateIdle || starting {
		slog.Info("recorder closed", "from", prev, "starting", starting)
		c.emit(st)
	}
}

// resetLocked disposes the session and preview and returns to idle with
// baseline bars. Must be called with lock held.
func (c *Controller) resetLocked() {
	if c.preview != nil {
		c.preview.Dispose()
		c.preview = nil
	}
	if c.session != nil {
		c.session.Dispose()
		c.session = nil
	}
	c.take = nil
	c.gen++
	c.live.reset(0, c.preset.BarCount)
	c.state = types.StateIdle
}

// State returns the current state.
func (c *Controller) State() types.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() types.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// statusLocked builds a status snapshot. Must be called with lock held.
func (c *Controller) statusLocked() types.ControllerStatus {
	st := types.ControllerStatus{
		State:         c.state,
		Preset:        c.preset.Name,
		MaxDurationMs: c.preset.MaxDuration.Milliseconds(),
		MinDurationMs: c.preset.MinDuration.Milliseconds(),
		Notice:        c.notice,
		LastReceipt:   c.receipt,
	}
	if c.session != nil && c.startCancel == nil {
		st.SessionID = c.session.ID()
		st.MimeType = c.session.MimeType()
		st.ElapsedMs = c.session.Elapsed().Milliseconds()
	}
	if c.take != nil {
		st.DurationSeconds = c.take.DurationSeconds
		st.BlobSize = len(c.take.Blob)
	}
	if c.preview != nil {
		st.Playing = c.preview.Playing()
		st.PlaybackMs = c.preview.Position().Milliseconds()
	}
	return st
}

// Frame returns the current level frame. It is frozen after stop and flat
// after a reset.
func (c *Controller) Frame() types.LevelFrame {
	return c.live.snapshot()
}

// Take returns the finished take while reviewing or submitting.
func (c *Controller) Take() *capture.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.take
}

func (c *Controller) emit(st types.ControllerStatus) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(st)
	}
}

// logRecordingLocked writes a recording event. Must be called with lock held.
func (c *Controller) logRecordingLocked(eventType eventlog.EventType, sessionID string, d *eventlog.RecordingDetails) {
	if c.cfg.EventLog == nil {
		return
	}
	d.Preset = c.preset.Name
	if err := c.cfg.EventLog.LogRecording(eventType, sessionID, d); err != nil {
		slog.Warn("failed to write event log", "type", eventType, "error", err)
	}
}

// logSubmitLocked writes a submit event. Must be called with lock held.
func (c *Controller) logSubmitLocked(eventType eventlog.EventType, sessionID string, req *types.UploadRequest, receipt *types.Receipt, err error) {
	if c.cfg.EventLog == nil {
		return
	}
	d := &eventlog.SubmitDetails{
		ClipID:  req.ID,
		TopicID: req.Metadata.TopicID,
		Kind:    string(req.Metadata.Kind),
	}
	if receipt != nil {
		d.ObjectKey = receipt.ObjectKey
	}
	if err != nil {
		d.Error = err.Error()
	}
	if logErr := c.cfg.EventLog.LogSubmit(eventType, sessionID, d); logErr != nil {
		slog.Warn("failed to write event log", "type", eventType, "error", logErr)
	}
}
