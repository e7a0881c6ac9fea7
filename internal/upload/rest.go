package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// restTimeout bounds one upload request.
const restTimeout = 60 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// RESTConfig holds the backend clip endpoint settings. When ClientID is set
// requests carry an OAuth2 client-credentials token.
type RESTConfig struct {
	Endpoint     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// RESTStore posts clips as multipart uploads to the backend.
type RESTStore struct {
	endpoint   string
	httpClient *http.Client
}

// restResponse is the backend's reply to a clip upload.
type restResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ObjectKey string `json:"object_key"`
}

// NewRESTStore creates a store for cfg.
func NewRESTStore(cfg RESTConfig) (*RESTStore, error) {
	if !util.IsConfigured(cfg.Endpoint) {
		return nil, fmt.Errorf("rest endpoint: %w", ErrNotConfigured)
	}

	baseClient := &http.Client{Timeout: restTimeout}
	httpClient := baseClient

	if cfg.ClientID != "" {
		if !util.IsConfigured(cfg.TokenURL, cfg.ClientSecret) {
			return nil, fmt.Errorf("rest token url and client secret: %w", ErrNotConfigured)
		}
		conf := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
		httpClient = conf.Client(ctx)
	}

	return &RESTStore{endpoint: cfg.Endpoint, httpClient: httpClient}, nil
}

// Mode implements Store.
func (r *RESTStore) Mode() types.StorageMode { return types.StorageREST }

// Put implements Store. Client errors other than 408 and 429 wrap ErrRejected.
func (r *RESTStore) Put(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	body, contentType, err := multipartBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return nil, util.WrapError("create upload request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, util.WrapError("send upload request", err)
	}
	defer util.SafeClose(resp.Body, "upload response body")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, util.WrapError("read upload response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(respBody))
	default:
		return nil, fmt.Errorf("%w: backend returned %d: %s", ErrRejected, resp.StatusCode, truncate(respBody))
	}

	var parsed restResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, util.WrapError("decode upload response", err)
		}
	}

	receipt := &types.Receipt{
		ClipID:     req.ID,
		ObjectKey:  parsed.ObjectKey,
		URL:        parsed.URL,
		UploadedAt: time.Now(),
	}
	if parsed.ID != "" {
		receipt.ClipID = parsed.ID
	}
	return receipt, nil
}

// multipartBody encodes the metadata document and the audio blob.
func multipartBody(req *types.UploadRequest) (*bytes.Buffer, string, error) {
	meta, err := marshalSidecar(req)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Disposition", `form-data; name="metadata"`)
	metaHeader.Set("Content-Type", "application/json")
	part, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, "", util.WrapError("create metadata part", err)
	}
	if _, err := part.Write(meta); err != nil {
		return nil, "", util.WrapError("write metadata part", err)
	}

	audioHeader := textproto.MIMEHeader{}
	filename := req.ID + "." + capture.FileExtension(req.MimeType)
	audioHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	audioHeader.Set("Content-Type", req.MimeType)
	part, err = w.CreatePart(audioHeader)
	if err != nil {
		return nil, "", util.WrapError("create audio part", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", util.WrapError("write audio part", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", util.WrapError("close multipart body", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
