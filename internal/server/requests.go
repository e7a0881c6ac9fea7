package server

import "github.com/oszuidwest/zwfm-voicerecorder/internal/types"

// Request types for WebSocket commands with validation tags.

// StartRequest is the request body for recording/start. An empty preset
// keeps the current one.
type StartRequest struct {
	Preset string `json:"preset" validate:"omitempty,oneof=reaction comment duet ama record_button bulk"`
}

// PresetRequest is the request body for recording/preset.
type PresetRequest struct {
	Preset string `json:"preset" validate:"required,oneof=reaction comment duet ama record_button bulk"`
}

// SubmitRequest is the request body for recording/submit.
type SubmitRequest struct {
	Metadata types.Metadata `json:"metadata"`
}

// ClipsListRequest is the request body for clips/list. Without a topic the
// most recent clips are returned.
type ClipsListRequest struct {
	TopicID string `json:"topic_id" validate:"omitempty,max=64"`
	Limit   int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset  int    `json:"offset" validate:"omitempty,gte=0"`
}

// EventsViewRequest is the request body for events/view.
type EventsViewRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=recording submit"`
}
