package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/config"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/notify"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
)

// apiTestTimeout bounds connection tests triggered from the API.
const apiTestTimeout = 15 * time.Second

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeResult reports the outcome of an action that does not fail the request.
func (s *Server) writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// queryInt returns the integer query parameter name, or fallback when it is
// absent or malformed.
func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

// handleHealth reports liveness without authentication.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"state":           s.app.controller.State(),
		"pending_uploads": s.app.queue.Pending(),
		"clients":         s.hub.Subscribers(),
		"version":         Version,
	})
}

// handleAPIConfig returns the configuration with secrets masked.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, server.RedactSnapshot(s.app.config.Snapshot()))
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices(s.app.config.Snapshot().AudioBackend),
	})
}

// SettingsUpdateRequest is the request body for POST /api/settings.
type SettingsUpdateRequest struct {
	AudioInput *string `json:"audio_input"`
	Preset     *string `json:"preset"`
}

// handleAPISettings updates the input device and default preset. Both take
// effect on the next take and are refused while one is in progress.
// POST /api/settings
func (s *Server) handleAPISettings(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[SettingsUpdateRequest](s, w, r)
	if !ok {
		return
	}

	if req.Preset != nil {
		snap := s.app.config.Snapshot()
		preset, err := presetFor(&snap, *req.Preset)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.app.controller.SetPreset(preset); err != nil {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err := s.app.config.SetPreset(*req.Preset); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if req.AudioInput != nil {
		if err := s.app.controller.SetInput(*req.AudioInput); err != nil {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err := s.app.config.SetAudioInput(*req.AudioInput); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.hub.Notify()
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPIClips lists catalogued clips, newest first.
// GET /api/clips?topic_id=&limit=&offset=
func (s *Server) handleAPIClips(w http.ResponseWriter, r *http.Request) {
	if s.app.catalog == nil {
		s.writeError(w, http.StatusServiceUnavailable, "clip catalog not configured")
		return
	}

	topicID := r.URL.Query().Get("topic_id")
	limit := min(max(queryInt(r, "limit", server.DefaultClipsLimit), 1), 500)
	offset := max(queryInt(r, "offset", 0), 0)

	var (
		clips []*catalog.Clip
		err   error
	)
	if topicID != "" {
		clips, err = s.app.catalog.ListByTopic(r.Context(), topicID, limit, offset)
	} else {
		clips, err = s.app.catalog.Recent(r.Context(), limit, offset)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.app.catalog.Count(r.Context(), topicID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, server.ClipsListResult{Clips: clips, Total: total})
}

// handleAPIClip returns one catalogued clip.
// GET /api/clips/{id}
func (s *Server) handleAPIClip(w http.ResponseWriter, r *http.Request) {
	if s.app.catalog == nil {
		s.writeError(w, http.StatusServiceUnavailable, "clip catalog not configured")
		return
	}

	clip, err := s.app.catalog.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "clip not found")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, clip)
	}
}

// handleAPIEvents returns event log entries, newest first.
// GET /api/events?filter=&limit=&offset=
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	filter := eventlog.TypeFilter(r.URL.Query().Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterRecording, eventlog.FilterSubmit:
	default:
		s.writeError(w, http.StatusBadRequest, "filter must be recording or submit")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.app.eventLogPath,
		queryInt(r, "limit", server.DefaultEventsLimit), queryInt(r, "offset", 0), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, server.EventsViewResult{Events: events, HasMore: hasMore})
}

// handleAPITestStorage checks that the configured store accepts writes.
// POST /api/test/storage
func (s *Server) handleAPITestStorage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTestTimeout)
	defer cancel()
	s.writeResult(w, s.app.testStorage(ctx))
}

// WebhookTestRequest is the request body for POST /api/test/webhook.
type WebhookTestRequest struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

// handleAPITestWebhook sends a test payload to the given or configured URL.
// POST /api/test/webhook
func (s *Server) handleAPITestWebhook(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[WebhookTestRequest](s, w, r)
	if !ok {
		return
	}

	url := cmp.Or(req.WebhookURL, s.app.config.Snapshot().WebhookURL)
	if url == "" {
		s.writeResult(w, errors.New("no webhook URL configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTestTimeout)
	defer cancel()
	s.writeResult(w, notify.NewWebhookAnnouncer(url).SendTest(ctx))
}

// handleAPIRegenerateKey replaces the API key. The caller must use the new
// key from then on.
// POST /api/key/regenerate
func (s *Server) handleAPIRegenerateKey(w http.ResponseWriter, _ *http.Request) {
	newKey, err := config.GenerateAPIKey()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.app.config.SetAPIKey(newKey); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"api_key": newKey})
}
