package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := New(path)
	require.NoError(t, cfg.Load())
	assert.FileExists(t, path)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultPreset, snap.Preset)
	assert.Equal(t, types.StorageLocal, snap.StorageMode)
	assert.Equal(t, filepath.Join(dir, "sub", "clips"), snap.LocalPath)
	assert.Equal(t, filepath.Join(dir, "sub", "clips.db"), snap.CatalogPath)
	assert.Equal(t, DefaultMQTTTopic, snap.MQTTTopic)
	assert.True(t, snap.EchoCancellation)

	// The written file loads back cleanly.
	again := New(path)
	require.NoError(t, again.Load())
	assert.Equal(t, snap.LocalPath, again.Snapshot().LocalPath)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr string
	}{
		{
			name:    "bad port",
			config:  map[string]any{"system": map[string]any{"port": 70000}},
			wantErr: "port",
		},
		{
			name:    "unknown preset",
			config:  map[string]any{"recording": map[string]any{"preset": "podcast"}},
			wantErr: "preset",
		},
		{
			name:    "min exceeds max",
			config:  map[string]any{"recording": map[string]any{"min_seconds": 10, "max_seconds": 5}},
			wantErr: "min_seconds",
		},
		{
			name:    "bad storage mode",
			config:  map[string]any{"storage": map[string]any{"mode": "ftp"}},
			wantErr: "mode",
		},
		{
			name:    "s3 without bucket",
			config:  map[string]any{"storage": map[string]any{"mode": "s3"}},
			wantErr: "s3_bucket",
		},
		{
			name:    "rest without endpoint",
			config:  map[string]any{"storage": map[string]any{"mode": "rest"}},
			wantErr: "rest_endpoint",
		},
		{
			name:    "path traversal",
			config:  map[string]any{"catalog": map[string]any{"path": "../clips.db"}},
			wantErr: "catalog.path",
		},
		{
			name:    "bad webhook url",
			config:  map[string]any{"notifications": map[string]any{"webhook_url": "not a url"}},
			wantErr: "webhook_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.config)
			err := New(path).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvSecretsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"system": map[string]any{"api_key": "file-key-0123456789"},
		"storage": map[string]any{
			"mode":             "s3",
			"s3_bucket":        "clips",
			"s3_access_key_id": "AKIA",
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvMQTTPassword+"=from-dotenv\n"), 0o600))
	t.Setenv(EnvMQTTPassword, "")
	require.NoError(t, os.Unsetenv(EnvMQTTPassword))
	t.Setenv(EnvS3SecretAccessKey, "env-secret")
	t.Setenv(EnvAPIKey, "env-key")

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, "env-secret", snap.S3SecretAccessKey)
	assert.Equal(t, "env-key", snap.APIKey)
	assert.Equal(t, "env-key", cfg.GetAPIKey())
	assert.Equal(t, "from-dotenv", snap.MQTTPassword)

	// Environment secrets are never persisted.
	require.NoError(t, cfg.SetAudioInput("hw:1"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "env-secret")
	assert.NotContains(t, string(data), "env-key")
	assert.Contains(t, string(data), "hw:1")
}

func TestSetPreset(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetPreset("reaction"))
	assert.Equal(t, "reaction", cfg.Snapshot().Preset)

	require.Error(t, cfg.SetPreset("podcast"))
	assert.Equal(t, "reaction", cfg.Snapshot().Preset)
}

func TestSnapshotIsCopy(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	cfg.Recording.MimePreferences = []string{"audio/webm"}

	snap := cfg.Snapshot()
	snap.MimePreferences[0] = "audio/wav"
	assert.Equal(t, "audio/webm", cfg.Recording.MimePreferences[0])
}

func TestSnapshotHelpers(t *testing.T) {
	snap := Snapshot{WebhookURL: "https://example.com/hook"}
	assert.True(t, snap.HasWebhook())
	assert.False(t, snap.HasMQTT())
	assert.False(t, snap.HasCatalog())
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
