package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/config"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/notify"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/upload"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// App holds the recording pipeline and its collaborators.
type App struct {
	config       *config.Config
	ffmpegPath   string
	registry     *capture.Registry
	eventLog     *eventlog.Logger
	eventLogPath string
	catalog      *catalog.Store
	mqtt         *notify.MQTTAnnouncer
	notifier     *notify.Notifier
	store        upload.Store
	queue        *upload.Queue
	controller   *recording.Controller
}

// newApp builds the pipeline from the current configuration. onStatus, if
// non-nil, receives every controller transition.
func newApp(cfg *config.Config, onStatus func(types.ControllerStatus)) (*App, error) {
	snap := cfg.Snapshot()

	a := &App{config: cfg}

	a.ffmpegPath = util.ResolveFFmpegPath(cfg.GetFFmpegPath())
	if a.ffmpegPath == "" {
		slog.Warn("FFmpeg not found, only WAV encoding is available", "configured_path", cfg.GetFFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", a.ffmpegPath)
	}
	a.registry = capture.DefaultRegistry(a.ffmpegPath)

	a.eventLogPath = snap.EventLogPath
	if a.eventLogPath == "" {
		a.eventLogPath = eventlog.DefaultLogPath(snap.WebPort)
	}
	logger, err := eventlog.NewLogger(a.eventLogPath)
	if err != nil {
		slog.Warn("event log disabled", "path", a.eventLogPath, "error", err)
	} else {
		a.eventLog = logger
	}

	if snap.HasCatalog() {
		store, err := catalog.Open(snap.CatalogPath)
		if err != nil {
			a.Close()
			return nil, util.WrapError("open catalog", err)
		}
		a.catalog = store
	}

	if err := a.buildNotifier(&snap); err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = newStore(&snap)
	if err != nil {
		a.Close()
		return nil, err
	}

	var cat upload.Catalog
	if a.catalog != nil {
		cat = a.catalog
	}
	a.queue = upload.NewQueue(upload.NewService(a.store, cat, a.notifier), upload.QueueOptions{
		Capacity:   snap.QueueSize,
		MaxRetries: snap.MaxRetries,
		EventLog:   a.eventLog,
	})

	preset, err := presetFor(&snap, snap.Preset)
	if err != nil {
		a.Close()
		return nil, err
	}

	mic, speaker := newMediaBackend(snap.AudioBackend, a.ffmpegPath)
	a.controller, err = recording.New(recording.Config{
		Preset:              preset,
		Microphone:          mic,
		Speaker:             speaker,
		Registry:            a.registry,
		Uploader:            a.queue,
		Identity:            types.Identity{ProfileID: snap.ProfileID, DeviceID: snap.DeviceID},
		MimeTypePreferences: snap.MimePreferences,
		Constraints: media.Constraints{
			Device:           snap.AudioInput,
			EchoCancellation: snap.EchoCancellation,
			NoiseSuppression: snap.NoiseSuppression,
			AutoGainControl:  snap.AutoGainControl,
		},
		TempDir:    snap.TempDir,
		FFmpegPath: a.ffmpegPath,
		EventLog:   a.eventLog,
		OnStatus:   onStatus,
	})
	if err != nil {
		a.Close()
		return nil, util.WrapError("create recorder", err)
	}

	slog.Info("recorder ready",
		"preset", preset.Name,
		"storage", a.store.Mode(),
		"mime_types", a.registry.MimeTypes(),
		"catalog", snap.CatalogPath,
		"announcers", a.notifier.Enabled())
	return a, nil
}

// buildNotifier creates the announcers that are configured.
func (a *App) buildNotifier(snap *config.Snapshot) error {
	var announcers []notify.Announcer
	if snap.HasWebhook() {
		announcers = append(announcers, notify.NewWebhookAnnouncer(snap.WebhookURL))
	}
	if snap.HasMQTT() {
		m, err := notify.NewMQTTAnnouncer(notify.MQTTConfig{
			Broker:       snap.MQTTBroker,
			ClientID:     snap.MQTTClientID,
			Username:     snap.MQTTUsername,
			Password:     snap.MQTTPassword,
			TopicPattern: snap.MQTTTopic,
		})
		if err != nil {
			return util.WrapError("connect MQTT", err)
		}
		a.mqtt = m
		announcers = append(announcers, m)
	}
	if len(announcers) > 0 {
		a.notifier = notify.NewNotifier(a.eventLog, announcers...)
	}
	return nil
}

// newStore returns the clip store for the configured storage mode.
func newStore(snap *config.Snapshot) (upload.Store, error) {
	s3cfg := upload.S3Config{
		Endpoint:        snap.S3Endpoint,
		Region:          snap.S3Region,
		Bucket:          snap.S3Bucket,
		Prefix:          snap.S3Prefix,
		AccessKeyID:     snap.S3AccessKeyID,
		SecretAccessKey: snap.S3SecretAccessKey,
		PublicURL:       snap.S3PublicURL,
	}

	switch snap.StorageMode {
	case types.StorageLocal:
		return upload.NewLocalStore(snap.LocalPath)
	case types.StorageS3:
		return upload.NewS3Store(s3cfg)
	case types.StorageBoth:
		local, err := upload.NewLocalStore(snap.LocalPath)
		if err != nil {
			return nil, err
		}
		remote, err := upload.NewS3Store(s3cfg)
		if err != nil {
			return nil, err
		}
		return upload.NewBothStore(local, remote), nil
	case types.StorageREST:
		return upload.NewRESTStore(upload.RESTConfig{
			Endpoint:     snap.RESTEndpoint,
			TokenURL:     snap.RESTTokenURL,
			ClientID:     snap.RESTClientID,
			ClientSecret: snap.RESTClientSecret,
			Scopes:       snap.RESTScopes,
		})
	default:
		return nil, fmt.Errorf("unknown storage mode %q", snap.StorageMode)
	}
}

// newMediaBackend returns the microphone and speaker for backend. Playback
// always goes through miniaudio.
func newMediaBackend(backend, ffmpegPath string) (media.Microphone, media.Speaker) {
	speaker := media.NewMiniaudioSpeaker()
	if backend == "miniaudio" {
		return media.NewMiniaudioMicrophone(), speaker
	}
	return media.NewExecMicrophone(ffmpegPath), speaker
}

// presetFor resolves a preset with the configured overrides applied.
func presetFor(snap *config.Snapshot, name string) (recording.Preset, error) {
	p, ok := recording.PresetFor(name)
	if !ok {
		return recording.Preset{}, fmt.Errorf("unknown preset %q (want one of %s)", name, strings.Join(recording.PresetNames(), ", "))
	}
	return p.WithOverrides(snap.MinSeconds, snap.MaxSeconds, snap.BarCount), nil
}

// devices lists capture devices for the configured backend.
func devices(backend string) []types.AudioDevice {
	var found []audio.Device
	if backend == "miniaudio" {
		var err error
		found, err = media.MiniaudioDevices()
		if err != nil {
			slog.Warn("failed to list miniaudio devices", "error", err)
		}
	} else {
		found = audio.Devices()
	}

	return audio.ToAudioDevices(found)
}

// testStorage checks that the configured remote store accepts writes.
func (a *App) testStorage(ctx context.Context) error {
	switch s := a.store.(type) {
	case *upload.S3Store:
		return s.TestConnection(ctx)
	case *upload.BothStore:
		return s.TestConnection(ctx)
	case *upload.LocalStore:
		return util.CheckPathWritable(s.Dir())
	default:
		return errors.New("storage mode has no connection test")
	}
}

// Close stops the recorder and releases every collaborator. Pending uploads
// are drained first.
func (a *App) Close() {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	a.notifier.Wait()
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.catalog != nil {
		util.SafeClose(a.catalog, "catalog")
	}
	if a.eventLog != nil {
		util.SafeClose(a.eventLog, "event log")
	}
}
