package upload

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/capture"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// Store persists a clip blob and reports where it went.
type Store interface {
	Mode() types.StorageMode
	Put(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error)
}

// sidecar is the metadata document stored next to each blob.
type sidecar struct {
	ID              string         `json:"id"`
	MimeType        string         `json:"mime_type"`
	DurationSeconds int            `json:"duration_seconds"`
	Waveform        []float64      `json:"waveform"`
	Metadata        types.Metadata `json:"metadata"`
	Identity        types.Identity `json:"identity"`
	PeakDB          float64        `json:"peak_db"`
	RMSDB           float64        `json:"rms_db"`
	RecordedAt      time.Time      `json:"recorded_at"`
}

// objectKey returns the storage key for a clip: YYYY/MM/DD/<id>.<ext>.
func objectKey(req *types.UploadRequest) string {
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	id := util.SanitizeSegment(req.ID, "clip")
	return path.Join(util.DatePrefix(recordedAt), id+"."+capture.FileExtension(req.MimeType))
}

// sidecarKey returns the metadata key for a blob key.
func sidecarKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + ".json"
}

// marshalSidecar encodes the clip metadata document.
func marshalSidecar(req *types.UploadRequest) ([]byte, error) {
	data, err := json.MarshalIndent(sidecar{
		ID:              req.ID,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		Waveform:        req.Waveform,
		Metadata:        req.Metadata,
		Identity:        req.Identity,
		PeakDB:          req.PeakDB,
		RMSDB:           req.RMSDB,
		RecordedAt:      req.RecordedAt,
	}, "", "  ")
	if err != nil {
		return nil, util.WrapError("marshal clip metadata", err)
	}
	return data, nil
}

// BothStore saves clips locally and to S3. The local copy is written first
// so a clip survives an object store outage.
type BothStore struct {
	local *LocalStore
	s3    *S3Store
}

// NewBothStore combines a local and an S3 store.
func NewBothStore(local *LocalStore, s3 *S3Store) *BothStore {
	return &BothStore{local: local, s3: s3}
}

// Mode implements Store.
func (b *BothStore) Mode() types.StorageMode { return types.StorageBoth }

// Put implements Store.
func (b *BothStore) Put(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	localReceipt, err := b.local.Put(ctx, req)
	if err != nil {
		return nil, err
	}
	receipt, err := b.s3.Put(ctx, req)
	if err != nil {
		return nil, err
	}
	receipt.LocalPath = localReceipt.LocalPath
	return receipt, nil
}

// TestConnection checks that the object store accepts writes.
func (b *BothStore) TestConnection(ctx context.Context) error {
	return b.s3.TestConnection(ctx)
}
