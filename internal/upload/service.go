package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/catalog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/notify"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Catalog records stored clips.
type Catalog interface {
	Insert(ctx context.Context, c *catalog.Clip) error
}

// Service stores a clip, records it in the catalog and announces it.
type Service struct {
	store    Store
	catalog  Catalog
	notifier *notify.Notifier
}

// NewService returns a Service. The catalog and notifier are optional.
func NewService(store Store, cat Catalog, notifier *notify.Notifier) *Service {
	return &Service{store: store, catalog: cat, notifier: notifier}
}

// Mode returns the storage mode of the underlying store.
func (s *Service) Mode() types.StorageMode { return s.store.Mode() }

// Upload implements Uploader. It is safe to retry: a clip that is already
// catalogued is not inserted twice.
func (s *Service) Upload(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing clip id", ErrRejected)
	}
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrRejected)
	}
	if err := types.Validate(&req.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	receipt, err := s.store.Put(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("store clip: %w", err)
	}

	if s.catalog != nil {
		err := s.catalog.Insert(ctx, catalog.ClipFromUpload(req, receipt))
		switch {
		case errors.Is(err, catalog.ErrDuplicate):
			slog.Debug("clip already catalogued", "clip_id", req.ID)
		case err != nil:
			return nil, fmt.Errorf("catalog clip: %w", err)
		}
	}

	slog.Info("clip stored", "clip_id", req.ID, "mode", s.store.Mode(), "key", receipt.ObjectKey)
	s.notifier.Announce(req, receipt)
	return receipt, nil
}
