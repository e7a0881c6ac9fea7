package util

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 500*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 500*time.Millisecond, b.Next())
	assert.Equal(t, 500*time.Millisecond, b.Current())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestBackoffWaitHonoursCancellation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(time.Second, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx, clock)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBackoffWaitReturnsAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(time.Second, time.Minute)

	done := make(chan error, 1)
	go func() { done <- b.Wait(context.Background(), clock) }()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the delay elapsed")
	}
}

func TestRoundSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{499 * time.Millisecond, 0},
		{500 * time.Millisecond, 1},
		{2499 * time.Millisecond, 2},
		{2500 * time.Millisecond, 3},
		{3 * time.Second, 3},
		{29900 * time.Millisecond, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundSeconds(tt.in), "RoundSeconds(%v)", tt.in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "4.2s", FormatDuration(4200))
	assert.Equal(t, "45s", FormatDuration(45_000))
	assert.Equal(t, "2m 34s", FormatDuration(154_000))
	assert.Equal(t, "1h 23m", FormatDuration(4_980_000))
}

func TestSanitizeSegment(t *testing.T) {
	assert.Equal(t, "morning-show_42", SanitizeSegment("morning show_42", "x"))
	assert.Equal(t, "abc", SanitizeSegment("../a/b/c", "x"))
	assert.Equal(t, "x", SanitizeSegment("///", "x"))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("storage.local_path", "/var/lib/voice"))
	assert.Error(t, ValidatePath("storage.local_path", ""))
	assert.Error(t, ValidatePath("storage.local_path", "/var/../etc"))
}

func TestCheckPathWritable(t *testing.T) {
	assert.NoError(t, CheckPathWritable(t.TempDir()))
}

func TestExtractLastError(t *testing.T) {
	assert.Equal(t, "last", ExtractLastError("first\n\nlast\n\n"))
	assert.Equal(t, "", ExtractLastError(""))
}

func TestResolveFFmpegPathRejectsMissingConfiguredBinary(t *testing.T) {
	assert.Empty(t, ResolveFFmpegPath(filepath.Join(t.TempDir(), "no-ffmpeg")))
}
