// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/joho/godotenv"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort      = 8080
	DefaultAudioBackend = "exec"
	DefaultPreset       = "comment"
	DefaultStorageMode  = types.StorageLocal
	DefaultMQTTTopic    = "voice/clips/{topic_id}"
	DefaultMQTTClientID = "zwfm-voicerecorder"
	DefaultQueueSize    = 8
	DefaultMaxRetries   = 3
)

// Environment variables that override secrets from the config file.
const (
	EnvS3SecretAccessKey = "VOICE_S3_SECRET_ACCESS_KEY"
	EnvRESTClientSecret  = "VOICE_REST_CLIENT_SECRET"
	EnvMQTTPassword      = "VOICE_MQTT_PASSWORD"
	EnvAPIKey            = "VOICE_API_KEY"
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`                                 // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" validate:"gte=1,lte=65535"`             // HTTP server port
	APIKey     string `json:"api_key" validate:"omitempty,min=16,max=128"` // Key required by the control socket
}

// AudioConfig holds audio input device settings.
type AudioConfig struct {
	Input            string `json:"input"`                                             // Audio input device identifier
	Backend          string `json:"backend" validate:"omitempty,oneof=exec miniaudio"` // Capture and playback backend
	EchoCancellation bool   `json:"echo_cancellation"`
	NoiseSuppression bool   `json:"noise_suppression"`
	AutoGainControl  bool   `json:"auto_gain_control"`
}

// RecordingConfig holds recording settings. Zero values keep the preset's own bounds.
type RecordingConfig struct {
	Preset          string   `json:"preset" validate:"omitempty,oneof=reaction comment duet ama record_button bulk"`
	MinSeconds      int      `json:"min_seconds" validate:"gte=0,lte=300"`
	MaxSeconds      int      `json:"max_seconds" validate:"gte=0,lte=600"`
	BarCount        int      `json:"bar_count" validate:"gte=0,lte=256"`
	MimePreferences []string `json:"mime_preferences" validate:"dive,min=1"`
	TempDir         string   `json:"temp_dir"`
}

// IdentityConfig holds the caller identifiers attached to every clip.
type IdentityConfig struct {
	ProfileID string `json:"profile_id" validate:"omitempty,max=64"`
	DeviceID  string `json:"device_id" validate:"omitempty,max=64"`
}

// StorageConfig holds where finished clips are stored.
type StorageConfig struct {
	Mode      types.StorageMode `json:"mode" validate:"oneof=local s3 both rest"`
	LocalPath string            `json:"local_path"`

	S3Endpoint        string `json:"s3_endpoint" validate:"omitempty,url"`
	S3Region          string `json:"s3_region"`
	S3Bucket          string `json:"s3_bucket"`
	S3Prefix          string `json:"s3_prefix"`
	S3AccessKeyID     string `json:"s3_access_key_id"`
	S3SecretAccessKey string `json:"s3_secret_access_key"`
	S3PublicURL       string `json:"s3_public_url" validate:"omitempty,url"`

	RESTEndpoint     string   `json:"rest_endpoint" validate:"omitempty,url"`
	RESTTokenURL     string   `json:"rest_token_url" validate:"omitempty,url"`
	RESTClientID     string   `json:"rest_client_id"`
	RESTClientSecret string   `json:"rest_client_secret"`
	RESTScopes       []string `json:"rest_scopes"`

	QueueSize  int `json:"queue_size" validate:"gte=0,lte=1000"`
	MaxRetries int `json:"max_retries" validate:"gte=0,lte=20"`
}

// CatalogConfig holds the clip catalog location.
type CatalogConfig struct {
	Path string `json:"path"` // SQLite file (empty = next to the config file)
}

// NotificationsConfig holds all announcement channel settings.
type NotificationsConfig struct {
	WebhookURL   string `json:"webhook_url" validate:"omitempty,url"`
	MQTTBroker   string `json:"mqtt_broker" validate:"omitempty,url"`
	MQTTTopic    string `json:"mqtt_topic"`
	MQTTClientID string `json:"mqtt_client_id"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`
}

// EventLogConfig holds the event log location.
type EventLogConfig struct {
	Path string `json:"path"` // JSON lines file (empty = default per port)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Audio         AudioConfig         `json:"audio"`
	Recording     RecordingConfig     `json:"recording"`
	Identity      IdentityConfig      `json:"identity"`
	Storage       StorageConfig       `json:"storage"`
	Catalog       CatalogConfig       `json:"catalog"`
	Notifications NotificationsConfig `json:"notifications"`
	EventLog      EventLogConfig      `json:"event_log"`

	mu       sync.RWMutex
	filePath string
	env      envSecrets
}

// envSecrets holds secrets read from the environment. They override the
// file values but are never written back.
type envSecrets struct {
	s3SecretAccessKey string
	restClientSecret  string
	mqttPassword      string
	apiKey            string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Audio: AudioConfig{
			Backend:          DefaultAudioBackend,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Recording: RecordingConfig{
			Preset:          DefaultPreset,
			MimePreferences: []string{},
		},
		Storage: StorageConfig{
			Mode:       DefaultStorageMode,
			QueueSize:  DefaultQueueSize,
			MaxRetries: DefaultMaxRetries,
		},
		Notifications: NotificationsConfig{
			MQTTTopic:    DefaultMQTTTopic,
			MQTTClientID: DefaultMQTTClientID,
		},
		filePath: filePath,
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists. A .env
// file next to the config is loaded into the environment first.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	envFile := filepath.Join(filepath.Dir(c.filePath), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", envFile, "error", err)
	}
	c.readEnv()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// readEnv captures secrets from the environment. Caller must hold c.mu.
func (c *Config) readEnv() {
	c.env = envSecrets{
		s3SecretAccessKey: os.Getenv(EnvS3SecretAccessKey),
		restClientSecret:  os.Getenv(EnvRESTClientSecret),
		mqttPassword:      os.Getenv(EnvMQTTPassword),
		apiKey:            os.Getenv(EnvAPIKey),
	}
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := types.Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r := c.Recording
	if r.MinSeconds > 0 && r.MaxSeconds > 0 && r.MinSeconds > r.MaxSeconds {
		return fmt.Errorf("invalid config: recording.min_seconds %d exceeds max_seconds %d", r.MinSeconds, r.MaxSeconds)
	}

	for field, path := range map[string]string{
		"recording.temp_dir": r.TempDir,
		"storage.local_path": c.Storage.LocalPath,
		"catalog.path":       c.Catalog.Path,
		"event_log.path":     c.EventLog.Path,
		"system.ffmpeg_path": c.System.FFmpegPath,
	} {
		if path == "" {
			continue
		}
		if err := util.ValidatePath(field, path); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	s := c.Storage
	switch s.Mode {
	case types.StorageS3, types.StorageBoth:
		if !util.IsConfigured(s.S3Bucket, s.S3AccessKeyID) {
			return fmt.Errorf("invalid config: storage mode %q requires s3_bucket and s3_access_key_id", s.Mode)
		}
		if cmp.Or(c.env.s3SecretAccessKey, s.S3SecretAccessKey) == "" {
			return fmt.Errorf("invalid config: storage mode %q requires s3_secret_access_key or %s", s.Mode, EnvS3SecretAccessKey)
		}
	case types.StorageREST:
		if s.RESTEndpoint == "" {
			return fmt.Errorf("invalid config: storage mode %q requires rest_endpoint", s.Mode)
		}
		if s.RESTClientID != "" && s.RESTTokenURL == "" {
			return fmt.Errorf("invalid config: rest_client_id requires rest_token_url")
		}
	}

	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	dir := filepath.Dir(c.filePath)

	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	// Audio defaults
	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultAudioBackend
	}
	// Recording defaults
	if c.Recording.Preset == "" {
		c.Recording.Preset = DefaultPreset
	}
	if c.Recording.MimePreferences == nil {
		c.Recording.MimePreferences = []string{}
	}
	// Storage defaults
	if c.Storage.Mode == "" {
		c.Storage.Mode = DefaultStorageMode
	}
	if c.Storage.LocalPath == "" {
		c.Storage.LocalPath = filepath.Join(dir, "clips")
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = DefaultQueueSize
	}
	// Catalog defaults
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(dir, "clips.db")
	}
	// Notification defaults
	if c.Notifications.MQTTTopic == "" {
		c.Notifications.MQTTTopic = DefaultMQTTTopic
	}
	if c.Notifications.MQTTClientID == "" {
		c.Notifications.MQTTClientID = DefaultMQTTClientID
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// GetAPIKey returns the control socket API key, preferring the environment.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.env.apiKey, c.System.APIKey)
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetPreset updates the default recording preset and saves the configuration.
func (c *Config) SetPreset(preset string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.Recording.Preset
	c.Recording.Preset = preset
	if err := types.Validate(&c.Recording); err != nil {
		c.Recording.Preset = previous
		return err
	}
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort    int
	FFmpegPath string
	APIKey     string

	// Audio
	AudioInput       string
	AudioBackend     string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// Recording
	Preset          string
	MinSeconds      int
	MaxSeconds      int
	BarCount        int
	MimePreferences []string
	TempDir         string

	// Identity
	ProfileID string
	DeviceID  string

	// Storage
	StorageMode       types.StorageMode
	LocalPath         string
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicURL       string
	RESTEndpoint      string
	RESTTokenURL      string
	RESTClientID      string
	RESTClientSecret  string
	RESTScopes        []string
	QueueSize         int
	MaxRetries        int

	// Catalog
	CatalogPath string

	// Notifications
	WebhookURL   string
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Event log
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:    c.System.Port,
		FFmpegPath: c.System.FFmpegPath,
		APIKey:     cmp.Or(c.env.apiKey, c.System.APIKey),

		// Audio
		AudioInput:       c.Audio.Input,
		AudioBackend:     cmp.Or(c.Audio.Backend, DefaultAudioBackend),
		EchoCancellation: c.Audio.EchoCancellation,
		NoiseSuppression: c.Audio.NoiseSuppression,
		AutoGainControl:  c.Audio.AutoGainControl,

		// Recording
		Preset:          cmp.Or(c.Recording.Preset, DefaultPreset),
		MinSeconds:      c.Recording.MinSeconds,
		MaxSeconds:      c.Recording.MaxSeconds,
		BarCount:        c.Recording.BarCount,
		MimePreferences: slices.Clone(c.Recording.MimePreferences),
		TempDir:         c.Recording.TempDir,

		// Identity
		ProfileID: c.Identity.ProfileID,
		DeviceID:  c.Identity.DeviceID,

		// Storage
		StorageMode:       cmp.Or(c.Storage.Mode, DefaultStorageMode),
		LocalPath:         c.Storage.LocalPath,
		S3Endpoint:        c.Storage.S3Endpoint,
		S3Region:          c.Storage.S3Region,
		S3Bucket:          c.Storage.S3Bucket,
		S3Prefix:          c.Storage.S3Prefix,
		S3AccessKeyID:     c.Storage.S3AccessKeyID,
		S3SecretAccessKey: cmp.Or(c.env.s3SecretAccessKey, c.Storage.S3SecretAccessKey),
		S3PublicURL:       c.Storage.S3PublicURL,
		RESTEndpoint:      c.Storage.RESTEndpoint,
		RESTTokenURL:      c.Storage.RESTTokenURL,
		RESTClientID:      c.Storage.RESTClientID,
		RESTClientSecret:  cmp.Or(c.env.restClientSecret, c.Storage.RESTClientSecret),
		RESTScopes:        slices.Clone(c.Storage.RESTScopes),
		QueueSize:         cmp.Or(c.Storage.QueueSize, DefaultQueueSize),
		MaxRetries:        c.Storage.MaxRetries,

		// Catalog
		CatalogPath: c.Catalog.Path,

		// Notifications
		WebhookURL:   c.Notifications.WebhookURL,
		MQTTBroker:   c.Notifications.MQTTBroker,
		MQTTTopic:    cmp.Or(c.Notifications.MQTTTopic, DefaultMQTTTopic),
		MQTTClientID: cmp.Or(c.Notifications.MQTTClientID, DefaultMQTTClientID),
		MQTTUsername: c.Notifications.MQTTUsername,
		MQTTPassword: cmp.Or(c.env.mqttPassword, c.Notifications.MQTTPassword),

		// Event log
		EventLogPath: c.EventLog.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasMQTT reports whether an MQTT broker is configured.
func (s *Snapshot) HasMQTT() bool {
	return s.MQTTBroker != ""
}

// HasCatalog reports whether a catalog path is configured.
func (s *Snapshot) HasCatalog() bool {
	return s.CatalogPath != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
