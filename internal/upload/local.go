package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// LocalStore writes clips below a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore returns a store rooted at dir. The directory must be writable.
func NewLocalStore(dir string) (*LocalStore, error) {
	if !util.IsConfigured(dir) {
		return nil, fmt.Errorf("local path: %w", ErrNotConfigured)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError("create local storage directory", err)
	}
	if err := util.CheckPathWritable(dir); err != nil {
		return nil, err
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the storage root.
func (l *LocalStore) Dir() string { return l.dir }

// Mode implements Store.
func (l *LocalStore) Mode() types.StorageMode { return types.StorageLocal }

// Put implements Store.
func (l *LocalStore) Put(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := objectKey(req)
	blobPath := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return nil, util.WrapError("create clip directory", err)
	}

	meta, err := marshalSidecar(req)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(blobPath, req.Audio); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(l.dir, filepath.FromSlash(sidecarKey(key))), meta); err != nil {
		return nil, err
	}

	return &types.Receipt{
		ClipID:     req.ID,
		ObjectKey:  key,
		LocalPath:  blobPath,
		UploadedAt: time.Now(),
	}, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".clip-*")
	if err != nil {
		return util.WrapError("create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return util.WrapError("write clip file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return util.WrapError("close clip file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return util.WrapError("rename clip file", err)
	}
	return nil
}
