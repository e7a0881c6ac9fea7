package server

import (
	"cmp"
	"fmt"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/config"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// redacted replaces configured secrets in config/get responses.
const redacted = "********"

// ClipsListResult is the data of a clips/list result.
type ClipsListResult struct {
	Clips []*catalog.Clip `json:"clips"`
	Total int             `json:"total"`
}

// EventsViewResult is the data of an events/view result.
type EventsViewResult struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

func (h *CommandHandler) handleClipsList(cmd WSCommand, send chan<- any) {
	var req ClipsListRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if h.catalog == nil {
		SendError(send, cmd.Type, fmt.Errorf("clip catalog not configured"))
		return
	}

	limit := cmp.Or(req.Limit, DefaultClipsLimit)
	var (
		clips []*catalog.Clip
		err   error
	)
	if req.TopicID != "" {
		clips, err = h.catalog.ListByTopic(h.ctx, req.TopicID, limit, req.Offset)
	} else {
		clips, err = h.catalog.Recent(h.ctx, limit, req.Offset)
	}
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	total, err := h.catalog.Count(h.ctx, req.TopicID)
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	SendSuccess(send, cmd.Type, ClipsListResult{Clips: clips, Total: total})
}

func (h *CommandHandler) handleEventsView(cmd WSCommand, send chan<- any) {
	var req EventsViewRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if h.eventLogPath == "" {
		SendError(send, cmd.Type, fmt.Errorf("event log not configured"))
		return
	}

	events, hasMore, err := eventlog.ReadLast(h.eventLogPath, cmp.Or(req.Limit, DefaultEventsLimit), req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	SendSuccess(send, cmd.Type, EventsViewResult{Events: events, HasMore: hasMore})
}

func (h *CommandHandler) handleConfigGet(send chan<- any) {
	trySend(send, "config/get", types.WSConfigResponse{
		Type:   "config",
		Config: RedactSnapshot(h.cfg.Snapshot()),
	})
}

// RedactSnapshot hides secrets before a snapshot leaves the process.
func RedactSnapshot(s config.Snapshot) config.Snapshot {
	for _, secret := range []*string{
		&s.APIKey,
		&s.S3SecretAccessKey,
		&s.RESTClientSecret,
		&s.MQTTPassword,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return s
}
