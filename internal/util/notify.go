package util

import (
	"log/slog"
	"time"
)

// LogAnnouncement records the outcome of announcing clipID to target.
func LogAnnouncement(target, clipID string, took time.Duration, err error) {
	if err != nil {
		slog.Error("announcement failed", "target", target, "clip_id", clipID, "took", took, "error", err)
		return
	}
	slog.Info("announcement sent", "target", target, "clip_id", clipID, "took", took)
}
