package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/config"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
)

// Default page sizes for list commands.
const (
	DefaultClipsLimit  = 50
	DefaultEventsLimit = 100
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Options holds the collaborators of a CommandHandler. Catalog and
// EventLogPath are optional.
type Options struct {
	Config       *config.Config
	Controller   *recording.Controller
	Catalog      *catalog.Store
	EventLogPath string
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	ctx          context.Context
	cfg          *config.Config
	ctrl         *recording.Controller
	catalog      *catalog.Store
	eventLogPath string
}

// NewCommandHandler creates a new command handler. ctx bounds long-running
// actions such as uploads and playback.
func NewCommandHandler(ctx context.Context, opts Options) *CommandHandler {
	return &CommandHandler{
		ctx:          ctx,
		cfg:          opts.Config,
		ctrl:         opts.Controller,
		catalog:      opts.Catalog,
		eventLogPath: opts.EventLogPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "recording/start", "clips/list")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "recording":
		h.handleRecording(action, cmd, send, triggerStatusUpdate)
	case "preview":
		h.handlePreview(action, cmd, send)
	case "clips":
		h.handleClips(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "config":
		h.handleConfig(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		return
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleRecording routes recording/* commands
func (h *CommandHandler) handleRecording(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "start":
		h.handleStart(cmd, send)
	case "stop":
		h.handleStop(cmd, send)
	case "discard":
		h.handleDiscard(cmd, send)
	case "submit":
		h.handleSubmit(cmd, send, triggerStatusUpdate)
	case "close":
		h.handleClose(cmd, send)
	case "preset":
		h.handlePreset(cmd, send)
	case "status":
		SendSuccess(send, cmd.Type, h.ctrl.Status())
	default:
		slog.Warn("unknown recording action", "action", action)
	}
}

// handlePreview routes preview/* commands
func (h *CommandHandler) handlePreview(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "play":
		h.handlePlay(cmd, send)
	case "pause":
		h.handlePause(cmd, send)
	default:
		slog.Warn("unknown preview action", "action", action)
	}
}

// handleClips routes clips/* commands
func (h *CommandHandler) handleClips(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		h.handleClipsList(cmd, send)
	default:
		slog.Warn("unknown clips action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		h.handleEventsView(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}
