// Package types provides shared type definitions used across the recorder.
package types

import (
	"time"
)

// RecordingState represents the state of a recording controller.
type RecordingState string

const (
	// StateIdle indicates no take is in progress.
	StateIdle RecordingState = "idle"
	// StateRecording indicates the microphone is captured and encoding.
	StateRecording RecordingState = "recording"
	// StateReviewing indicates a finished take is waiting to be previewed or submitted.
	StateReviewing RecordingState = "reviewing"
	// StateSubmitting indicates the take is being handed to the upload collaborator.
	StateSubmitting RecordingState = "submitting"
)

// ErrorKind classifies a pipeline failure for the user.
type ErrorKind string

// Error kinds surfaced by the recording pipeline.
const (
	ErrorPermissionDenied  ErrorKind = "permission_denied"
	ErrorDeviceUnavailable ErrorKind = "device_unavailable"
	ErrorTooShort          ErrorKind = "recording_too_short"
	ErrorEmptyRecording    ErrorKind = "empty_recording"
	ErrorEncodingFailure   ErrorKind = "encoding_failure"
	ErrorPlaybackFailure   ErrorKind = "playback_failure"
	ErrorSubmitFailure     ErrorKind = "submit_failure"
)

// Notice is a short user-facing message attached to a failure.
type Notice struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Audio format constants for PCM capture.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of capture channels (mono voice).
	Channels = 1
	// BytesPerSample is the size of one S16LE sample.
	BytesPerSample = 2
)

// ClipKind identifies which recording flow produced a clip.
type ClipKind string

// Supported clip kinds.
const (
	KindReaction     ClipKind = "reaction"
	KindComment      ClipKind = "comment"
	KindDuet         ClipKind = "duet"
	KindAMA          ClipKind = "ama"
	KindRecordButton ClipKind = "record_button"
	KindBulk         ClipKind = "bulk"
)

// ContentRating is the audience rating of a clip.
type ContentRating string

// Supported content ratings.
const (
	RatingGeneral   ContentRating = "general"
	RatingSensitive ContentRating = "sensitive"
)

// LevelFrame is one reduced snapshot of live audio energy.
type LevelFrame struct {
	Bars []float64 `json:"bars"` // Normalized bar heights in [0,1]
	Seq  uint64    `json:"seq"`  // Frame sequence number within the session
}

// Clone returns a deep copy of the frame.
func (f LevelFrame) Clone() LevelFrame {
	bars := make([]float64, len(f.Bars))
	copy(bars, f.Bars)
	return LevelFrame{Bars: bars, Seq: f.Seq}
}

// Metadata is caller-supplied context for a submitted take.
type Metadata struct {
	Kind          ClipKind      `json:"kind" validate:"required,oneof=reaction comment duet ama record_button bulk"`
	TopicID       string        `json:"topic_id,omitempty" validate:"required_without=ParentClipID,omitempty,max=64"`
	ParentClipID  string        `json:"parent_clip_id,omitempty" validate:"omitempty,max=64"`
	Mood          string        `json:"mood,omitempty" validate:"omitempty,max=32"`
	Title         string        `json:"title,omitempty" validate:"omitempty,max=120"`
	Caption       string        `json:"caption,omitempty" validate:"omitempty,max=500"`
	ContentRating ContentRating `json:"content_rating,omitempty" validate:"omitempty,oneof=general sensitive"`
}

// Identity holds the caller identifiers resolved by the surrounding app.
type Identity struct {
	ProfileID string `json:"profile_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// UploadRequest is handed to the upload collaborator on submit.
type UploadRequest struct {
	ID              string    `json:"id"`
	Audio           []byte    `json:"-"`
	MimeType        string    `json:"mime_type"`
	DurationSeconds int       `json:"duration_seconds"`
	Waveform        []float64 `json:"waveform"`
	Metadata        Metadata  `json:"metadata"`
	Identity        Identity  `json:"identity"`
	PeakDB          float64   `json:"peak_db"`
	RMSDB           float64   `json:"rms_db"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Receipt is returned by the upload collaborator after a successful upload.
type Receipt struct {
	ClipID     string    `json:"clip_id"`
	ObjectKey  string    `json:"object_key,omitempty"`
	LocalPath  string    `json:"local_path,omitempty"`
	URL        string    `json:"url,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// StorageMode determines where finished clips are stored.
type StorageMode string

// Supported storage modes.
const (
	StorageLocal StorageMode = "local" // Save only to local filesystem
	StorageS3    StorageMode = "s3"    // Upload only to S3
	StorageBoth  StorageMode = "both"  // Save locally AND upload to S3
	StorageREST  StorageMode = "rest"  // Post to the backend REST endpoint
)

// ControllerStatus is a point-in-time view of a recording controller.
type ControllerStatus struct {
	State           RecordingState `json:"state"`
	SessionID       string         `json:"session_id,omitempty"`
	Preset          string         `json:"preset"`
	ElapsedMs       int64          `json:"elapsed_ms"`
	MaxDurationMs   int64          `json:"max_duration_ms"`
	MinDurationMs   int64          `json:"min_duration_ms"`
	MimeType        string         `json:"mime_type,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	BlobSize        int            `json:"blob_size,omitempty"`
	Playing         bool           `json:"playing,omitzero"`
	PlaybackMs      int64          `json:"playback_ms,omitzero"`
	Notice          *Notice        `json:"notice,omitempty"`
	LastReceipt     *Receipt       `json:"last_receipt,omitempty"`
}

// WSStatusResponse is sent to clients with full recorder status.
type WSStatusResponse struct {
	Type            string           `json:"type"`             // Message type identifier
	FFmpegAvailable bool             `json:"ffmpeg_available"` // FFmpeg binary is available
	Recorder        ControllerStatus `json:"recorder"`         // Controller status
	MimeTypes       []string         `json:"mime_types"`       // Encodings this host supports
	Devices         []AudioDevice    `json:"devices"`          // Available audio devices
	Settings        WSSettings       `json:"settings"`         // Current settings
	Version         VersionInfo      `json:"version"`          // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	AudioInput   string      `json:"audio_input"`   // Selected audio input device
	AudioBackend string      `json:"audio_backend"` // Capture backend
	StorageMode  StorageMode `json:"storage_mode"`  // Where clips go
	Platform     string      `json:"platform"`      // Operating system platform
}

// WSLevelsResponse is sent to clients with live level frames.
type WSLevelsResponse struct {
	Type      string     `json:"type"`       // Message type identifier
	ElapsedMs int64      `json:"elapsed_ms"` // Elapsed recording time
	Frame     LevelFrame `json:"frame"`      // Current bar heights
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
