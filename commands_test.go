package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestClipsCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	store, err := catalog.Open(filepath.Join(dir, "clips.db"))
	require.NoError(t, err)
	for _, id := range []string{"clip-a", "clip-b"} {
		require.NoError(t, store.Insert(context.Background(), &catalog.Clip{
			ID:         id,
			Kind:       string(types.KindComment),
			TopicID:    "topic-1",
			MimeType:   "audio/wav",
			RecordedAt: time.Now(),
		}))
	}
	require.NoError(t, store.Close())

	out, err := runCLI(t, "--config", cfgPath, "clips", "--topic", "topic-1")
	require.NoError(t, err)
	var list server.ClipsListResult
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Clips, 2)

	out, err = runCLI(t, "--config", cfgPath, "clips", "show", "clip-a")
	require.NoError(t, err)
	assert.Contains(t, out, `"clip-a"`)

	_, err = runCLI(t, "--config", cfgPath, "clips", "show", "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestEventsCommand(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	cfgPath := filepath.Join(dir, "config.json")

	logger, err := eventlog.NewLogger(logPath)
	require.NoError(t, err)
	require.NoError(t, logger.LogRecording(eventlog.RecordingStarted, "s1", &eventlog.RecordingDetails{}))
	require.NoError(t, logger.LogSubmit(eventlog.SubmitCompleted, "s1", &eventlog.SubmitDetails{ClipID: "c1"}))
	require.NoError(t, logger.Close())

	raw, err := json.Marshal(map[string]any{"event_log": map[string]any{"path": logPath}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, raw, 0o600))

	out, err := runCLI(t, "--config", cfgPath, "events", "--filter", "submit")
	require.NoError(t, err)
	var res server.EventsViewResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Events, 1)
	assert.Equal(t, eventlog.SubmitCompleted, res.Events[0].Type)

	_, err = runCLI(t, "--config", cfgPath, "events", "--filter", "bogus")
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "config.json"), "--log-level", "loud", "devices")
	assert.Error(t, err)
}
