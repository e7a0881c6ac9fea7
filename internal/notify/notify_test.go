package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

func testRequest() *types.UploadRequest {
	return &types.UploadRequest{
		ID:              "clip-1",
		MimeType:        "audio/wav",
		DurationSeconds: 3,
		Waveform:        []float64{0.1, 0.5, 0.2},
		Metadata:        types.Metadata{Kind: types.KindComment, TopicID: "topic 42"},
		Identity:        types.Identity{ProfileID: "p1"},
	}
}

func TestNewClipEvent(t *testing.T) {
	receipt := &types.Receipt{ClipID: "clip-1", ObjectKey: "2026/10/15/clip-1.wav", URL: "https://cdn/clip-1.wav"}
	e := NewClipEvent(testRequest(), receipt)

	assert.Equal(t, EventClipCreated, e.Event)
	assert.Equal(t, "clip-1", e.ClipID)
	assert.Equal(t, "topic 42", e.TopicID)
	assert.Equal(t, "comment", e.Kind)
	assert.Equal(t, 3, e.DurationSeconds)
	assert.Equal(t, "p1", e.ProfileID)
	assert.Equal(t, receipt.ObjectKey, e.ObjectKey)
	assert.Equal(t, receipt.URL, e.URL)
	assert.NotEmpty(t, e.Timestamp)
}

func TestWebhookAnnouncer(t *testing.T) {
	var got ClipEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookAnnouncer(srv.URL)
	require.NoError(t, w.Announce(context.Background(), NewClipEvent(testRequest(), nil)))
	assert.Equal(t, "clip-1", got.ClipID)
	assert.Equal(t, []float64{0.1, 0.5, 0.2}, got.Waveform)
}

func TestWebhookAnnouncerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookAnnouncer(srv.URL).Announce(context.Background(), NewClipEvent(testRequest(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookAnnouncerUnconfigured(t *testing.T) {
	w := NewWebhookAnnouncer("")
	assert.NoError(t, w.Announce(context.Background(), NewClipEvent(testRequest(), nil)))
	assert.Error(t, w.SendTest(context.Background()))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeMQTT records publishes. Methods not overridden panic if called.
type fakeMQTT struct {
	mqtt.Client

	mu           sync.Mutex
	err          error
	topics       []string
	payloads     [][]byte
	qos          []byte
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.qos = append(f.qos, qos)
	f.payloads = append(f.payloads, payload.([]byte))
	return newFakeToken(f.err)
}

func (f *fakeMQTT) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func TestMQTTAnnouncerPublishesPerTopic(t *testing.T) {
	client := &fakeMQTT{}
	m := newMQTTAnnouncer(client, "")

	require.NoError(t, m.Announce(context.Background(), NewClipEvent(testRequest(), nil)))

	require.Len(t, client.topics, 1)
	assert.Equal(t, "voice/clips/topic-42", client.topics[0])
	assert.Equal(t, byte(1), client.qos[0])

	var e ClipEvent
	require.NoError(t, json.Unmarshal(client.payloads[0], &e))
	assert.Equal(t, "clip-1", e.ClipID)

	m.Close()
	assert.True(t, client.disconnected)
}

func TestMQTTAnnouncerReplyUsesParent(t *testing.T) {
	client := &fakeMQTT{}
	m := newMQTTAnnouncer(client, "app/{topic_id}/clips")

	req := testRequest()
	req.Metadata.TopicID = ""
	req.Metadata.ParentClipID = "parent-9"
	require.NoError(t, m.Announce(context.Background(), NewClipEvent(req, nil)))
	assert.Equal(t, "app/parent-9/clips", client.topics[0])

	req.Metadata.ParentClipID = "#"
	require.NoError(t, m.Announce(context.Background(), NewClipEvent(req, nil)))
	assert.Equal(t, "app/general/clips", client.topics[1])
}

func TestMQTTAnnouncerPublishError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	err := newMQTTAnnouncer(client, "").Announce(context.Background(), NewClipEvent(testRequest(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

type recordingAnnouncer struct {
	name string
	err  error

	mu     sync.Mutex
	events []*ClipEvent
}

func (r *recordingAnnouncer) Name() string { return r.name }

func (r *recordingAnnouncer) Announce(_ context.Context, e *ClipEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestNotifierFansOut(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(logPath)
	require.NoError(t, err)
	defer logger.Close()

	ok := &recordingAnnouncer{name: "webhook"}
	failing := &recordingAnnouncer{name: "mqtt", err: errors.New("broker down")}
	n := NewNotifier(logger, ok, failing)
	require.True(t, n.Enabled())

	n.Announce(testRequest(), &types.Receipt{ClipID: "clip-1"})
	n.Wait()

	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)

	events, _, err := eventlog.ReadLast(logPath, 10, 0, eventlog.FilterSubmit)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.ClipAnnounced, events[0].Type)
}

func TestNotifierDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	n.Announce(testRequest(), nil)
	n.Wait()

	assert.False(t, NewNotifier(nil).Enabled())
}
