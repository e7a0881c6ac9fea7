package notify

import (
	"context"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// announceTimeout bounds each announcer call.
const announceTimeout = 15 * time.Second

// Notifier fans clip events out to every configured announcer.
type Notifier struct {
	announcers []Announcer
	eventLog   *eventlog.Logger

	wg sync.WaitGroup
}

// NewNotifier returns a Notifier. A nil eventLog disables event logging.
func NewNotifier(eventLog *eventlog.Logger, announcers ...Announcer) *Notifier {
	return &Notifier{announcers: announcers, eventLog: eventLog}
}

// Enabled reports whether any announcer is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.announcers) > 0
}

// Announce sends the clip event to all announcers in the background.
func (n *Notifier) Announce(req *types.UploadRequest, receipt *types.Receipt) {
	if !n.Enabled() {
		return
	}
	event := NewClipEvent(req, receipt)
	for _, a := range n.announcers {
		n.wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
			defer cancel()
			start := time.Now()
			err := a.Announce(ctx, event)
			util.LogAnnouncement(a.Name(), event.ClipID, time.Since(start), err)
			n.logResult(a.Name(), event, err)
		})
	}
}

// Wait blocks until all pending announcements have finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) logResult(target string, e *ClipEvent, err error) {
	if n.eventLog == nil || err != nil {
		return
	}
	_ = n.eventLog.LogSubmit(eventlog.ClipAnnounced, "", &eventlog.SubmitDetails{
		ClipID:    e.ClipID,
		TopicID:   e.TopicID,
		Kind:      e.Kind,
		ObjectKey: e.ObjectKey,
		Target:    target,
	})
}
