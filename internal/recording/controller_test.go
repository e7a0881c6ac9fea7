package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/playback"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// fakeUploader records requests and fails or blocks on demand.
type fakeUploader struct {
	mu      sync.Mutex
	err     error
	block   bool
	started chan struct{}
	reqs    []*types.UploadRequest
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{started: make(chan struct{}, 8)}
}

func (u *fakeUploader) setError(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.err = err
}

func (u *fakeUploader) requests() []*types.UploadRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*types.UploadRequest(nil), u.reqs...)
}

func (u *fakeUploader) Upload(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	u.mu.Lock()
	u.reqs = append(u.reqs, req)
	err, block := u.err, u.block
	u.mu.Unlock()

	u.started <- struct{}{}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &types.Receipt{ClipID: req.ID, ObjectKey: "clips/" + req.ID + ".wav", UploadedAt: time.Now()}, nil
}

type harness struct {
	ctrl     *Controller
	clock    *clockwork.FakeClock
	mic      *mediatest.Microphone
	speaker  *mediatest.Speaker
	uploader *fakeUploader
	tempDir  string
	logPath  string

	frames   atomic.Int32
	mu       sync.Mutex
	statuses []types.ControllerStatus
}

func newHarness(t *testing.T, presetName string) *harness {
	t.Helper()
	preset, ok := PresetFor(presetName)
	require.True(t, ok)

	h := &harness{
		clock:    clockwork.NewFakeClock(),
		mic:      &mediatest.Microphone{},
		speaker:  mediatest.NewSpeaker(),
		uploader: newFakeUploader(),
		tempDir:  t.TempDir(),
	}
	h.logPath = filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(h.logPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	h.ctrl, err = New(Config{
		Preset:              preset,
		Microphone:          h.mic,
		Speaker:             h.speaker,
		Registry:            capture.NewRegistry(),
		Uploader:            h.uploader,
		Identity:            types.Identity{ProfileID: "profile-1", DeviceID: "device-1"},
		MimeTypePreferences: []string{"audio/webm;codecs=opus", "audio/wav"},
		TempDir:             h.tempDir,
		Clock:               h.clock,
		EventLog:            logger,
		OnStatus: func(st types.ControllerStatus) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.statuses = append(h.statuses, st)
		},
		OnFrame: func(types.LevelFrame, time.Duration) { h.frames.Add(1) },
	})
	require.NoError(t, err)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) statusCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.statuses)
}

func (h *harness) countState(state types.RecordingState) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, st := range h.statuses {
		if st.State == state {
			n++
		}
	}
	return n
}

// record starts a take, feeds it audio and advances the clock by d. It
// waits for one level frame first so the take carries analysed bars.
func (h *harness) record(t *testing.T, pcm []byte, d time.Duration) {
	t.Helper()
	const warmup = 100 * time.Millisecond
	require.GreaterOrEqual(t, d, warmup)

	require.NoError(t, h.ctrl.Start(context.Background()))
	stream := h.mic.Last()
	require.NotNil(t, stream)
	require.True(t, stream.Emit(pcm))

	frames := h.frames.Load()
	h.clock.Advance(warmup)
	require.Eventually(t, func() bool {
		return h.frames.Load() > frames
	}, 2*time.Second, time.Millisecond)
	h.clock.Advance(d - warmup)
}

func (h *harness) review(t *testing.T, d time.Duration) {
	t.Helper()
	h.record(t, mediatest.Tone(9600), d)
	require.NoError(t, h.ctrl.Stop())
	require.Equal(t, types.StateReviewing, h.ctrl.State())
}

func readEvents(t *testing.T, path string, filter eventlog.TypeFilter) []eventlog.Event {
	t.Helper()
	events, _, err := eventlog.ReadLast(path, eventlog.MaxReadLimit, 0, filter)
	require.NoError(t, err)
	return events
}

func countEvents(events []eventlog.Event, eventType eventlog.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func validMetadata() types.Metadata {
	return types.Metadata{Kind: types.KindReaction, TopicID: "topic-1", Mood: "happy", ContentRating: types.RatingGeneral}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScenarioTooShort(t *testing.T) {
	h := newHarness(t, "reaction")

	h.record(t, mediatest.Tone(4800), 500*time.Millisecond)
	err := h.ctrl.Stop()

	require.ErrorIs(t, err, ErrTooShort)
	var nerr *NoticeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, types.ErrorTooShort, nerr.Notice.Kind)
	st := h.ctrl.Status()
	assert.Equal(t, types.StateIdle, st.State)
	require.NotNil(t, st.Notice)
	assert.Equal(t, types.ErrorTooShort, st.Notice.Kind)

	err = h.ctrl.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.False(t, errors.As(err, &nerr), "state errors carry no notice")
	assert.Nil(t, h.ctrl.Take())
	assert.True(t, h.mic.Last().Closed())
	assert.Zero(t, h.countState(types.StateReviewing))
	assert.Equal(t, 1, countEvents(readEvents(t, h.logPath, eventlog.FilterRecording), eventlog.RecordingTooShort))
	assertNoTempFiles(t, h.tempDir)
}

func TestScenarioStopToReview(t *testing.T) {
	h := newHarness(t, "reaction")

	h.record(t, mediatest.Tone(9600), 3*time.Second)
	require.NoError(t, h.ctrl.Stop())

	st := h.ctrl.Status()
	assert.Equal(t, types.StateReviewing, st.State)
	assert.Equal(t, 3, st.DurationSeconds)
	assert.Equal(t, "audio/wav", st.MimeType)
	assert.Positive(t, st.BlobSize)
	assert.Nil(t, st.Notice)

	take := h.ctrl.Take()
	require.NotNil(t, take)
	assert.NotEmpty(t, take.Blob)
	assert.Len(t, take.Bars, 16)
	assert.Len(t, h.ctrl.Frame().Bars, 16)
	assert.True(t, h.mic.Last().Closed())
}

func TestScenarioAutoStopAtMaxDuration(t *testing.T) {
	h := newHarness(t, "reaction")

	h.record(t, mediatest.Tone(9600), 5*time.Second)

	require.Eventually(t, func() bool {
		return h.countState(types.StateReviewing) == 1
	}, 2*time.Second, 5*time.Millisecond)

	frames := h.frames.Load()
	statuses := h.statusCount()
	frame := h.ctrl.Frame()

	h.clock.Advance(5 * time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, frames, h.frames.Load(), "no level frames after auto-stop")
	assert.Equal(t, statuses, h.statusCount(), "no status updates after auto-stop")
	assert.Equal(t, frame, h.ctrl.Frame(), "bars stay frozen")

	st := h.ctrl.Status()
	assert.Equal(t, int64(5000), st.ElapsedMs)
	assert.Equal(t, 5, st.DurationSeconds)
	assert.Equal(t, 1, h.countState(types.StateReviewing))
	assert.Equal(t, 1, countEvents(readEvents(t, h.logPath, eventlog.FilterRecording), eventlog.RecordingStopped))

	// A manual stop after the auto-stop is a no-op.
	assert.ErrorIs(t, h.ctrl.Stop(), ErrNotRecording)
}

func TestScenarioSubmitFailureKeepsTake(t *testing.T) {
	h := newHarness(t, "reaction")
	h.review(t, 3*time.Second)
	blob := h.ctrl.Take().Blob

	h.uploader.setError(errors.New("backend unavailable"))
	receipt, err := h.ctrl.Submit(context.Background(), validMetadata())

	require.ErrorIs(t, err, ErrSubmitFailed)
	assert.Nil(t, receipt)
	st := h.ctrl.Status()
	assert.Equal(t, types.StateReviewing, st.State)
	require.NotNil(t, st.Notice)
	assert.Equal(t, types.ErrorSubmitFailure, st.Notice.Kind)
	require.NotNil(t, h.ctrl.Take())
	assert.Equal(t, blob, h.ctrl.Take().Blob)

	// Re-submit without re-recording.
	h.uploader.setError(nil)
	receipt, err = h.ctrl.Submit(context.Background(), validMetadata())
	require.NoError(t, err)
	require.NotNil(t, receipt)

	reqs := h.uploader.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, blob, reqs[0].Audio)
	assert.Equal(t, blob, reqs[1].Audio)
	assert.Equal(t, 1, h.mic.Opens())

	st = h.ctrl.Status()
	assert.Equal(t, types.StateIdle, st.State)
	assert.Equal(t, receipt, st.LastReceipt)
	assert.Nil(t, h.ctrl.Take())

	events := readEvents(t, h.logPath, eventlog.FilterSubmit)
	assert.Equal(t, 1, countEvents(events, eventlog.SubmitFailed))
	assert.Equal(t, 1, countEvents(events, eventlog.SubmitCompleted))
	assertNoTempFiles(t, h.tempDir)
}

func TestScenarioCloseWhileRecording(t *testing.T) {
	h := newHarness(t, "comment")

	h.record(t, mediatest.Tone(4800), time.Second)
	stream := h.mic.Last()

	h.ctrl.Close()

	assert.True(t, stream.Closed())
	assert.Equal(t, types.StateIdle, h.ctrl.State())

	frames := h.frames.Load()
	statuses := h.statusCount()

	h.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, stream.Emit(mediatest.Tone(480)))
	assert.Equal(t, frames, h.frames.Load())
	assert.Equal(t, statuses, h.statusCount())
	assert.Equal(t, types.StateIdle, h.ctrl.State())
	assert.False(t, audio.HasSignal(h.ctrl.Frame().Bars))
	assertNoTempFiles(t, h.tempDir)
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind types.ErrorKind
	}{
		{"permission denied", media.ErrPermissionDenied, types.ErrorPermissionDenied},
		{"no device", media.ErrDeviceUnavailable, types.ErrorDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "comment")
			h.mic.SetOpenError(tt.err)

			err := h.ctrl.Start(context.Background())
			require.ErrorIs(t, err, tt.err)

			st := h.ctrl.Status()
			assert.Equal(t, types.StateIdle, st.State)
			require.NotNil(t, st.Notice)
			assert.Equal(t, tt.kind, st.Notice.Kind)
			assertNoTempFiles(t, h.tempDir)

			// Recovers once the device is back.
			h.mic.SetOpenError(nil)
			require.NoError(t, h.ctrl.Start(context.Background()))
			assert.Nil(t, h.ctrl.Status().Notice)
		})
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, "comment")
	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrAlreadyRecording)
	assert.Equal(t, 1, h.mic.Opens())
}

func TestStopWithoutAudio(t *testing.T) {
	h := newHarness(t, "comment")
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.clock.Advance(2 * time.Second)

	err := h.ctrl.Stop()
	require.ErrorIs(t, err, capture.ErrEmptyRecording)
	st := h.ctrl.Status()
	assert.Equal(t, types.StateIdle, st.State)
	require.NotNil(t, st.Notice)
	assert.Equal(t, types.ErrorEmptyRecording, st.Notice.Kind)
}

func TestEncodingFailureWhileRecording(t *testing.T) {
	h := newHarness(t, "comment")
	h.record(t, mediatest.Tone(4800), time.Second)
	stream := h.mic.Last()

	require.True(t, stream.Fail(errors.New("device unplugged")))

	require.Eventually(t, func() bool {
		return h.ctrl.State() == types.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	st := h.ctrl.Status()
	require.NotNil(t, st.Notice)
	assert.Equal(t, types.ErrorEncodingFailure, st.Notice.Kind)
	assert.True(t, stream.Closed())
	assert.Equal(t, 1, countEvents(readEvents(t, h.logPath, eventlog.FilterRecording), eventlog.RecordingError))
}

func TestDiscardResetsToBaseline(t *testing.T) {
	h := newHarness(t, "comment")
	h.review(t, 2*time.Second)
	require.True(t, audio.HasSignal(h.ctrl.Frame().Bars))

	require.NoError(t, h.ctrl.Discard())

	assert.Equal(t, types.StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.Take())
	assert.Equal(t, audio.BaselineBars(24), h.ctrl.Frame().Bars)
	assert.ErrorIs(t, h.ctrl.Discard(), ErrNothingToReview)
	assertNoTempFiles(t, h.tempDir)
}

func TestSubmitBuildsRequest(t *testing.T) {
	h := newHarness(t, "reaction")
	h.review(t, 2400*time.Millisecond)

	_, err := h.ctrl.Submit(context.Background(), validMetadata())
	require.NoError(t, err)

	reqs := h.uploader.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, 2, req.DurationSeconds)
	assert.Equal(t, "audio/wav", req.MimeType)
	assert.Equal(t, types.Identity{ProfileID: "profile-1", DeviceID: "device-1"}, req.Identity)
	assert.Equal(t, validMetadata(), req.Metadata)
	assert.Len(t, req.Waveform, 16)
	assert.True(t, audio.HasSignal(req.Waveform))
	assert.Greater(t, req.PeakDB, -10.0)
}

func TestSubmitSilentTakeUsesPlaceholderWaveform(t *testing.T) {
	h := newHarness(t, "reaction")
	h.record(t, make([]byte, 9600), 2*time.Second)
	require.NoError(t, h.ctrl.Stop())

	_, err := h.ctrl.Submit(context.Background(), validMetadata())
	require.NoError(t, err)

	req := h.uploader.requests()[0]
	assert.Equal(t, audio.PlaceholderWaveform(req.ID, 16), req.Waveform)
}

func TestSubmitRejectsInvalidMetadata(t *testing.T) {
	h := newHarness(t, "reaction")
	h.review(t, 2*time.Second)

	_, err := h.ctrl.Submit(context.Background(), types.Metadata{Kind: "podcast"})

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.StateReviewing, h.ctrl.State())
	assert.Empty(t, h.uploader.requests())
}

func TestCloseCancelsSubmit(t *testing.T) {
	h := newHarness(t, "reaction")
	h.review(t, 2*time.Second)
	h.uploader.block = true

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Submit(context.Background(), validMetadata())
		errCh <- err
	}()
	<-h.uploader.started
	assert.Equal(t, types.StateSubmitting, h.ctrl.State())
	_, err := h.ctrl.Submit(context.Background(), validMetadata())
	assert.ErrorIs(t, err, ErrBusy)

	h.ctrl.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("submit was not cancelled")
	}
	assert.Equal(t, types.StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.Status().LastReceipt)
}

func TestPreviewPlayAndPause(t *testing.T) {
	h := newHarness(t, "comment")
	h.review(t, 2*time.Second)
	h.speaker.BlockUntilCancelled(0)

	require.NoError(t, h.ctrl.Play(context.Background()))
	<-h.speaker.Started()
	assert.True(t, h.ctrl.Status().Playing)

	require.NoError(t, h.ctrl.Pause())
	assert.False(t, h.ctrl.Status().Playing)
	assert.Equal(t, types.StateReviewing, h.ctrl.State())

	plays := h.speaker.Plays()
	require.Len(t, plays, 1)
	assert.Len(t, plays[0], 19200)
}

func TestPreviewFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, "comment")
	h.review(t, 2*time.Second)
	h.speaker.SetError(media.ErrPlaybackUnavailable)

	require.NoError(t, h.ctrl.Play(context.Background()))

	require.Eventually(t, func() bool {
		n := h.ctrl.Status().Notice
		return n != nil && n.Kind == types.ErrorPlaybackFailure
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, types.StateReviewing, h.ctrl.State())
	assert.NotNil(t, h.ctrl.Take())

	// Submitting still works with the kept take.
	_, err := h.ctrl.Submit(context.Background(), validMetadata())
	require.NoError(t, err)
}

func TestPlayWithoutSpeaker(t *testing.T) {
	h := newHarness(t, "comment")
	h.ctrl.cfg.Speaker = nil
	h.review(t, 2*time.Second)

	err := h.ctrl.Play(context.Background())
	require.ErrorIs(t, err, playback.ErrPlaybackFailed)
	assert.Equal(t, types.ErrorPlaybackFailure, h.ctrl.Status().Notice.Kind)
	assert.Equal(t, types.StateReviewing, h.ctrl.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, "comment")
	h.ctrl.Close()
	h.ctrl.Close()
	assert.Zero(t, h.statusCount())

	h.review(t, 2*time.Second)
	h.ctrl.Close()
	h.ctrl.Close()
	assert.Equal(t, types.StateIdle, h.ctrl.State())
	assert.Equal(t, 1, countEvents(readEvents(t, h.logPath, eventlog.FilterRecording), eventlog.RecordingClosed))
}

func TestSetPresetOnlyWhileIdle(t *testing.T) {
	h := newHarness(t, "comment")
	duet, _ := PresetFor("duet")
	require.NoError(t, h.ctrl.SetPreset(duet))
	assert.Len(t, h.ctrl.Frame().Bars, 50)

	require.NoError(t, h.ctrl.Start(context.Background()))
	reaction, _ := PresetFor("reaction")
	assert.ErrorIs(t, h.ctrl.SetPreset(reaction), ErrBusy)
	assert.Equal(t, "duet", h.ctrl.Preset().Name)
}

func TestSetInputAppliesToNextTake(t *testing.T) {
	h := newHarness(t, "comment")
	require.NoError(t, h.ctrl.SetInput("hw:1"))
	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, "hw:1", h.mic.Constraints().Device)
	assert.ErrorIs(t, h.ctrl.SetInput("hw:2"), ErrBusy)
}

func TestCloseAbortsPendingStart(t *testing.T) {
	h := newHarness(t, "comment")
	release := h.mic.BlockOpen()
	t.Cleanup(release)

	started := make(chan error, 1)
	go func() { started <- h.ctrl.Start(context.Background()) }()
	require.Eventually(t, func() bool { return h.mic.Opens() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, types.StateIdle, h.ctrl.Status().State)
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrBusy)
	reaction, _ := PresetFor("reaction")
	assert.ErrorIs(t, h.ctrl.SetPreset(reaction), ErrBusy)

	closed := make(chan struct{})
	go func() {
		h.ctrl.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited for the microphone to open")
	}

	release()
	select {
	case err := <-started:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after the microphone opened")
	}

	assert.Equal(t, types.StateIdle, h.ctrl.State())
	require.NotNil(t, h.mic.Last())
	assert.True(t, h.mic.Last().Closed(), "late stream must be released")
	assertNoTempFiles(t, h.tempDir)

	require.NoError(t, h.ctrl.SetPreset(reaction))
}
