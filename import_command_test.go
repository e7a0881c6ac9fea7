package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// writeWAV writes samples of tone as 48 kHz mono WAV.
func writeWAV(t *testing.T, path string, samples int) {
	t.Helper()
	pcm := mediatest.Tone(samples)
	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 48000, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 48000},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestImportCommand(t *testing.T) {
	t.Setenv("VOICE_API_KEY", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	raw, err := json.Marshal(map[string]any{"event_log": map[string]any{"path": filepath.Join(dir, "events.jsonl")}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, raw, 0o600))

	clipPath := filepath.Join(dir, "take.wav")
	writeWAV(t, clipPath, 48000)

	out, err := runCLI(t, "--config", cfgPath, "import", "--topic", "topic-9", "--title", "Imported", clipPath)
	require.NoError(t, err)

	var receipts []types.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipts))
	require.Len(t, receipts, 1)
	assert.FileExists(t, receipts[0].LocalPath)

	store, err := catalog.Open(filepath.Join(dir, "clips.db"))
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // test cleanup

	clip, err := store.Get(context.Background(), receipts[0].ClipID)
	require.NoError(t, err)
	assert.Equal(t, string(types.KindBulk), clip.Kind)
	assert.Equal(t, "topic-9", clip.TopicID)
	assert.Equal(t, 1, clip.DurationSeconds)
}

func TestImportCommandRejectsMissingTopic(t *testing.T) {
	dir := t.TempDir()
	clipPath := filepath.Join(dir, "take.wav")
	writeWAV(t, clipPath, 48000)

	_, err := runCLI(t, "--config", filepath.Join(dir, "config.json"), "import", clipPath)
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestImportCommandUnknownExtension(t *testing.T) {
	t.Setenv("VOICE_API_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	_, err := runCLI(t, "--config", filepath.Join(dir, "config.json"), "import", "--topic", "t", path)
	assert.ErrorContains(t, err, "unknown audio type")
}

func TestImportCommandRejectsShortAndLongFiles(t *testing.T) {
	t.Setenv("VOICE_API_KEY", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	raw, err := json.Marshal(map[string]any{"event_log": map[string]any{"path": filepath.Join(dir, "events.jsonl")}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, raw, 0o600))

	short := filepath.Join(dir, "short.wav")
	writeWAV(t, short, 9600)
	_, err = runCLI(t, "--config", cfgPath, "import", "--topic", "t1", short)
	assert.ErrorIs(t, err, recording.ErrTooShort)

	long := filepath.Join(dir, "long.wav")
	writeWAV(t, long, 48000*31)
	_, err = runCLI(t, "--config", cfgPath, "import", "--topic", "t1", long)
	assert.ErrorIs(t, err, errTooLong)

	entries, err := os.ReadDir(filepath.Join(dir, "clips"))
	if err == nil {
		assert.Empty(t, entries, "rejected files must not be stored")
	}
}
