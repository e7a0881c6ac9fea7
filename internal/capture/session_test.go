package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

type hookCounts struct {
	elapsed  atomic.Int32
	frames   atomic.Int32
	autoStop atomic.Int32
	errors   atomic.Int32
	lastErr  atomic.Value
}

func (h *hookCounts) hooks() Hooks {
	return Hooks{
		OnElapsed:  func(time.Duration) { h.elapsed.Add(1) },
		OnFrame:    func(types.LevelFrame) { h.frames.Add(1) },
		OnAutoStop: func() { h.autoStop.Add(1) },
		OnError: func(err error) {
			h.lastErr.Store(err)
			h.errors.Add(1)
		},
	}
}

func newTestSession(t *testing.T) (*Session, *mediatest.Microphone, *clockwork.FakeClock, *hookCounts, string) {
	t.Helper()
	mic := &mediatest.Microphone{}
	clock := clockwork.NewFakeClock()
	counts := &hookCounts{}
	dir := t.TempDir()
	s := NewSession(Config{
		Microphone: mic,
		Registry:   NewRegistry(),
		Clock:      clock,
		TempDir:    dir,
		Hooks:      counts.hooks(),
	})
	t.Cleanup(s.Dispose)
	return s, mic, clock, counts, dir
}

func defaultOptions() Options {
	return Options{
		MaxDuration:         5 * time.Second,
		MimeTypePreferences: []string{"audio/webm;codecs=opus", "audio/wav"},
		BarCount:            16,
		Constraints:         media.Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true},
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary encoder files must be released")
}

func TestSessionStopYieldsBlobAndRoundedDuration(t *testing.T) {
	s, mic, clock, counts, dir := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	assert.Equal(t, StateRecording, s.State())
	assert.Equal(t, "audio/wav", s.MimeType())
	assert.True(t, mic.Constraints().NoiseSuppression)

	stream := mic.Last()
	require.True(t, stream.Emit(mediatest.Tone(4800)))
	clock.Advance(2600 * time.Millisecond)

	require.Eventually(t, func() bool { return counts.frames.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return counts.elapsed.Load() > 0 }, time.Second, 5*time.Millisecond)

	res, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 2600*time.Millisecond, res.Duration)
	assert.Equal(t, 3, res.DurationSeconds)
	assert.Equal(t, "audio/wav", res.MimeType)
	assert.Equal(t, "RIFF", string(res.Blob[:4]))
	assert.Greater(t, len(res.Blob), 9600)
	assert.Len(t, res.Bars, 16)
	assert.Greater(t, res.Levels.Peak, -10.0)
	assert.True(t, stream.Closed(), "microphone track must be stopped")
	assertDirEmpty(t, dir)

	assert.False(t, stream.Emit(mediatest.Tone(480)), "no data after stop")
	assert.Equal(t, 2600*time.Millisecond, s.Elapsed(), "elapsed is frozen after stop")
}

func TestSessionKeepsSamplesAlignedAcrossOddReads(t *testing.T) {
	s, mic, clock, _, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	pcm := mediatest.Tone(4800)
	stream := mic.Last()
	for chunk := range slices.Chunk(pcm, 961) {
		require.True(t, stream.Emit(chunk))
	}
	clock.Advance(100 * time.Millisecond)

	res, err := s.Stop()
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(res.Blob))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, 4800)
	for i, v := range buf.Data {
		want := int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		require.Equal(t, want, v, "sample %d", i)
	}
}

func TestSessionStartTwice(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	assert.ErrorIs(t, s.Start(context.Background(), defaultOptions()), ErrAlreadyRecording)
}

func TestSessionStopWhenNotRecording(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestSessionEmptyRecording(t *testing.T) {
	s, _, clock, _, dir := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	clock.Advance(2 * time.Second)

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrEmptyRecording)
	assertDirEmpty(t, dir)
}

func TestSessionAutoStopsOnceAtMaxDuration(t *testing.T) {
	s, mic, clock, counts, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	mic.Last().Emit(mediatest.Tone(4800))

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return counts.autoStop.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5*time.Second, s.Elapsed())

	frames, elapsed := counts.frames.Load(), counts.elapsed.Load()
	clock.Advance(5 * time.Second)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(1), counts.autoStop.Load())
	assert.Equal(t, frames, counts.frames.Load(), "no frames after the limit")
	assert.Equal(t, elapsed, counts.elapsed.Load(), "no elapsed updates after the limit")
	assert.Equal(t, 5*time.Second, s.Elapsed(), "elapsed is clamped to the maximum")

	res, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, res.Duration)
	assert.Equal(t, 5, res.DurationSeconds)
}

func TestSessionPermissionDenied(t *testing.T) {
	s, mic, _, _, dir := newTestSession(t)
	mic.SetOpenError(media.ErrPermissionDenied)

	err := s.Start(context.Background(), defaultOptions())

	require.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.Equal(t, StateIdle, s.State())
	assertDirEmpty(t, dir)
}

func TestSessionDisposeIsIdempotent(t *testing.T) {
	s, mic, clock, counts, dir := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	mic.Last().Emit(mediatest.Tone(4800))

	s.Dispose()
	s.Dispose()

	assert.Equal(t, StateDisposed, s.State())
	assert.True(t, mic.Last().Closed())
	assertDirEmpty(t, dir)

	frames, elapsed := counts.frames.Load(), counts.elapsed.Load()
	clock.Advance(10 * time.Second)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, frames, counts.frames.Load())
	assert.Equal(t, elapsed, counts.elapsed.Load())
	assert.Zero(t, counts.autoStop.Load())

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.ErrorIs(t, s.Start(context.Background(), defaultOptions()), ErrDisposed)
}

func TestSessionStreamFailureIsEncodingFailure(t *testing.T) {
	s, mic, _, counts, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background(), defaultOptions()))
	require.True(t, mic.Last().Fail(errors.New("device unplugged")))

	require.Equal(t, int32(1), counts.errors.Load())
	reported, _ := counts.lastErr.Load().(error)
	assert.ErrorIs(t, reported, ErrEncodingFailure)

	mic.Last().Fail(errors.New("again"))
	assert.Equal(t, int32(1), counts.errors.Load(), "failure is reported once")

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrEncodingFailure)
}

type failingEncoder struct{}

func (failingEncoder) MimeType() string        { return "audio/test" }
func (failingEncoder) Write([]byte) error      { return errors.New("disk full") }
func (failingEncoder) Finish() ([]byte, error) { return nil, errors.New("disk full") }
func (failingEncoder) Abort()                  {}

func TestSessionEncoderWriteFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register("audio/test", func(string, media.Format) (Encoder, error) { return failingEncoder{}, nil })
	mic := &mediatest.Microphone{}
	counts := &hookCounts{}
	s := NewSession(Config{Microphone: mic, Registry: reg, Clock: clockwork.NewFakeClock(), TempDir: t.TempDir(), Hooks: counts.hooks()})
	t.Cleanup(s.Dispose)

	opts := defaultOptions()
	opts.MimeTypePreferences = []string{"audio/test"}
	require.NoError(t, s.Start(context.Background(), opts))

	mic.Last().Emit(mediatest.Tone(480))

	assert.Equal(t, int32(1), counts.errors.Load())
	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrEncodingFailure)
}
