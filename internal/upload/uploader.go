// Package upload hands finished takes to storage. A Service writes the blob
// to the configured store, records it in the catalog and announces it; a
// Queue runs uploads on a bounded worker with retries.
package upload

import (
	"context"
	"errors"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Sentinel errors for uploads.
var (
	// ErrQueueFull is returned when the upload queue has no free slot.
	ErrQueueFull = errors.New("upload queue full")

	// ErrQueueClosed is returned when enqueueing after Close.
	ErrQueueClosed = errors.New("upload queue closed")

	// ErrNotConfigured is returned when a store lacks required settings.
	ErrNotConfigured = errors.New("storage not configured")

	// ErrRejected is returned for uploads the backend refuses permanently.
	ErrRejected = errors.New("upload rejected")
)

// Uploader accepts a finished take and returns where it was stored.
type Uploader interface {
	Upload(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error)

// Upload implements Uploader.
func (f UploaderFunc) Upload(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	return f(ctx, req)
}
