// Package notify announces newly stored clips to realtime subscribers: an
// HTTP webhook and an MQTT topic per conversation topic.
package notify

import (
	"context"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// AppName is the application name used in announcements.
const AppName = "ZuidWest FM Voice Recorder"

// EventClipCreated is the event name for new clips.
const EventClipCreated = "clip_created"

// ClipEvent is the payload announced for a stored clip.
type ClipEvent struct {
	Event           string    `json:"event"`
	ClipID          string    `json:"clip_id"`
	TopicID         string    `json:"topic_id,omitempty"`
	ParentClipID    string    `json:"parent_clip_id,omitempty"`
	Kind            string    `json:"kind"`
	Mood            string    `json:"mood,omitempty"`
	Title           string    `json:"title,omitempty"`
	MimeType        string    `json:"mime_type"`
	DurationSeconds int       `json:"duration_seconds"`
	Waveform        []float64 `json:"waveform"`
	ProfileID       string    `json:"profile_id,omitempty"`
	URL             string    `json:"url,omitempty"`
	ObjectKey       string    `json:"object_key,omitempty"`
	Source          string    `json:"source"`
	Timestamp       string    `json:"timestamp"`
}

// NewClipEvent builds the announcement for a stored upload.
func NewClipEvent(req *types.UploadRequest, receipt *types.Receipt) *ClipEvent {
	e := &ClipEvent{
		Event:           EventClipCreated,
		ClipID:          req.ID,
		TopicID:         req.Metadata.TopicID,
		ParentClipID:    req.Metadata.ParentClipID,
		Kind:            string(req.Metadata.Kind),
		Mood:            req.Metadata.Mood,
		Title:           req.Metadata.Title,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		Waveform:        req.Waveform,
		ProfileID:       req.Identity.ProfileID,
		Source:          AppName,
		Timestamp:       timestampUTC(),
	}
	if receipt != nil {
		e.URL = receipt.URL
		e.ObjectKey = receipt.ObjectKey
	}
	return e
}

// Announcer delivers clip events to one channel.
type Announcer interface {
	Name() string
	Announce(ctx context.Context, e *ClipEvent) error
}

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
