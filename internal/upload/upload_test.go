package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/notify"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

var recordedAt = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func testRequest(id string) *types.UploadRequest {
	return &types.UploadRequest{
		ID:              id,
		Audio:           []byte("RIFF....WAVEfmt "),
		MimeType:        "audio/wav",
		DurationSeconds: 4,
		Waveform:        []float64{0.2, 0.8, 0.4},
		Metadata:        types.Metadata{Kind: types.KindReaction, TopicID: "topic-1"},
		Identity:        types.Identity{ProfileID: "profile-1", DeviceID: "device-1"},
		RecordedAt:      recordedAt,
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "2026/10/15/clip-1.wav", objectKey(testRequest("clip-1")))
	assert.Equal(t, "2026/10/15/clip-1.json", sidecarKey("2026/10/15/clip-1.wav"))

	req := testRequest("../evil")
	req.MimeType = "audio/webm;codecs=opus"
	assert.Equal(t, "2026/10/15/evil.webm", objectKey(req))
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	receipt, err := store.Put(context.Background(), testRequest("clip-1"))
	require.NoError(t, err)
	assert.Equal(t, "clip-1", receipt.ClipID)
	assert.Equal(t, "2026/10/15/clip-1.wav", receipt.ObjectKey)
	assert.Equal(t, filepath.Join(dir, "2026", "10", "15", "clip-1.wav"), receipt.LocalPath)

	blob, err := os.ReadFile(receipt.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WAVEfmt "), blob)

	raw, err := os.ReadFile(filepath.Join(dir, "2026", "10", "15", "clip-1.json"))
	require.NoError(t, err)
	var meta sidecar
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "topic-1", meta.Metadata.TopicID)
	assert.Equal(t, 4, meta.DurationSeconds)
}

func TestLocalStoreRequiresPath(t *testing.T) {
	_, err := NewLocalStore("")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type s3Request struct {
	method      string
	path        string
	contentType string
}

func fakeS3(t *testing.T) (*httptest.Server, func() []s3Request) {
	t.Helper()
	var mu sync.Mutex
	var reqs []s3Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		reqs = append(reqs, s3Request{method: r.Method, path: r.URL.Path, contentType: r.Header.Get("Content-Type")})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), reqs...)
	}
}

func TestS3StorePut(t *testing.T) {
	srv, requests := fakeS3(t)
	store, err := NewS3Store(S3Config{
		Endpoint:        srv.URL,
		Bucket:          "clips",
		Prefix:          "/voice/",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicURL:       "https://cdn.example.com/",
	})
	require.NoError(t, err)

	receipt, err := store.Put(context.Background(), testRequest("clip-1"))
	require.NoError(t, err)
	assert.Equal(t, "voice/2026/10/15/clip-1.wav", receipt.ObjectKey)
	assert.Equal(t, "https://cdn.example.com/voice/2026/10/15/clip-1.wav", receipt.URL)

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, "/clips/voice/2026/10/15/clip-1.wav", reqs[0].path)
	assert.Equal(t, "/clips/voice/2026/10/15/clip-1.json", reqs[1].path)
}

func TestS3StoreConnectionTest(t *testing.T) {
	srv, requests := fakeS3(t)
	store, err := NewS3Store(S3Config{Endpoint: srv.URL, Bucket: "clips", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)

	require.NoError(t, store.TestConnection(context.Background()))
	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, http.MethodDelete, reqs[1].method)
}

func TestS3StoreRequiresCredentials(t *testing.T) {
	_, err := NewS3Store(S3Config{Bucket: "clips"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRESTStoreMultipartWithToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var auth string
	var meta sidecar
	var audio []byte
	var audioType string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &meta))
		f, header, err := r.FormFile("audio")
		if assert.NoError(t, err) {
			audio, _ = io.ReadAll(f)
			audioType = header.Header.Get("Content-Type")
			assert.Equal(t, "clip-1.wav", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"server-1","url":"https://api.example.com/clips/server-1"}`))
	}))
	defer api.Close()

	store, err := NewRESTStore(RESTConfig{
		Endpoint:     api.URL,
		TokenURL:     tokenSrv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	})
	require.NoError(t, err)

	receipt, err := store.Put(context.Background(), testRequest("clip-1"))
	require.NoError(t, err)
	assert.Equal(t, "server-1", receipt.ClipID)
	assert.Equal(t, "https://api.example.com/clips/server-1", receipt.URL)
	assert.Equal(t, "Bearer tok-123", auth)
	assert.Equal(t, "clip-1", meta.ID)
	assert.Equal(t, types.KindReaction, meta.Metadata.Kind)
	assert.Equal(t, []byte("RIFF....WAVEfmt "), audio)
	assert.Equal(t, "audio/wav", audioType)
}

func TestRESTStoreStatusClassification(t *testing.T) {
	status := http.StatusBadRequest
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer api.Close()

	store, err := NewRESTStore(RESTConfig{Endpoint: api.URL})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), testRequest("clip-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	status = http.StatusServiceUnavailable
	_, err = store.Put(context.Background(), testRequest("clip-1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "503")
}

type recordingAnnouncer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingAnnouncer) Name() string { return "test" }

func (r *recordingAnnouncer) Announce(_ context.Context, e *notify.ClipEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, e.ClipID)
	return nil
}

func TestServiceStoresCataloguesAndAnnounces(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "clips"))
	require.NoError(t, err)
	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()

	announcer := &recordingAnnouncer{}
	notifier := notify.NewNotifier(nil, announcer)
	svc := NewService(store, cat, notifier)
	assert.Equal(t, types.StorageLocal, svc.Mode())

	receipt, err := svc.Upload(context.Background(), testRequest("clip-1"))
	require.NoError(t, err)
	notifier.Wait()

	clip, err := cat.Get(context.Background(), "clip-1")
	require.NoError(t, err)
	assert.Equal(t, receipt.ObjectKey, clip.ObjectKey)
	assert.Equal(t, "topic-1", clip.TopicID)
	assert.Equal(t, []string{"clip-1"}, announcer.ids)

	// A retried upload of the same clip succeeds without a second row.
	_, err = svc.Upload(context.Background(), testRequest("clip-1"))
	require.NoError(t, err)
	n, err := cat.Count(context.Background(), "topic-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServiceRejectsInvalidRequests(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(store, nil, nil)

	req := testRequest("")
	_, err = svc.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)

	req = testRequest("clip-1")
	req.Audio = nil
	_, err = svc.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)

	req = testRequest("clip-1")
	req.Metadata.Kind = "podcast"
	_, err = svc.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)
}

// flakyUploader fails the first failures calls with err.
type flakyUploader struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyUploader) Upload(_ context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &types.Receipt{ClipID: req.ID}, nil
}

func (f *flakyUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(logPath)
	require.NoError(t, err)
	defer logger.Close()

	up := &flakyUploader{failures: 2, err: errors.New("connection reset")}
	q := NewQueue(up, QueueOptions{MaxRetries: 3, Clock: clock, EventLog: logger})
	defer q.Close()

	done := make(chan error, 1)
	go func() {
		_, err := q.Upload(context.Background(), testRequest("clip-1"))
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Minute)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
	}
	assert.Equal(t, 3, up.callCount())

	events, _, err := eventlog.ReadLast(logPath, 10, 0, eventlog.FilterSubmit)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, eventlog.UploadRetry, events[0].Type)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	up := &flakyUploader{failures: 10, err: errors.New("timeout")}
	q := NewQueue(up, QueueOptions{MaxRetries: 1, Clock: clock})
	defer q.Close()

	done := make(chan error, 1)
	go func() {
		_, err := q.Upload(context.Background(), testRequest("clip-1"))
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
	}
	assert.Equal(t, 2, up.callCount())
}

func TestQueueDoesNotRetryRejected(t *testing.T) {
	up := &flakyUploader{failures: 10, err: ErrRejected}
	q := NewQueue(up, QueueOptions{MaxRetries: 3, Clock: clockwork.NewFakeClock()})
	defer q.Close()

	_, err := q.Upload(context.Background(), testRequest("clip-1"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, up.callCount())
}

// blockingUploader blocks every call until release is closed.
type blockingUploader struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingUploader) Upload(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return &types.Receipt{ClipID: req.ID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestQueueFull(t *testing.T) {
	up := &blockingUploader{started: make(chan struct{}, 4), release: make(chan struct{})}
	q := NewQueue(up, QueueOptions{Capacity: 1, Clock: clockwork.NewFakeClock()})

	results := make(chan error, 2)
	go func() {
		_, err := q.Upload(context.Background(), testRequest("clip-1"))
		results <- err
	}()
	<-up.started

	go func() {
		_, err := q.Upload(context.Background(), testRequest("clip-2"))
		results <- err
	}()
	require.Eventually(t, func() bool { return q.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := q.Upload(context.Background(), testRequest("clip-3"))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(up.release)
	assert.NoError(t, <-results)
	assert.NoError(t, <-results)

	q.Close()
	_, err = q.Upload(context.Background(), testRequest("clip-4"))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCallerCancellation(t *testing.T) {
	up := &blockingUploader{started: make(chan struct{}, 1), release: make(chan struct{})}
	q := NewQueue(up, QueueOptions{Clock: clockwork.NewFakeClock()})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Upload(ctx, testRequest("clip-1"))
		done <- err
	}()
	<-up.started
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}
