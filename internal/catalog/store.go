// Package catalog indexes submitted clips in SQLite so they can be listed by
// topic or recency without touching the object store.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Sentinel errors for catalog operations.
var (
	// ErrNotFound is returned when no clip has the requested ID.
	ErrNotFound = errors.New("clip not found")

	// ErrDuplicate is returned when inserting a clip ID that already exists.
	ErrDuplicate = errors.New("clip already exists")
)

// MaxListLimit caps list queries.
const MaxListLimit = 500

// Clip is one catalogued voice clip.
type Clip struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	TopicID         string    `json:"topic_id,omitempty"`
	ParentClipID    string    `json:"parent_clip_id,omitempty"`
	Mood            string    `json:"mood,omitempty"`
	Title           string    `json:"title,omitempty"`
	Caption         string    `json:"caption,omitempty"`
	ContentRating   string    `json:"content_rating,omitempty"`
	MimeType        string    `json:"mime_type"`
	DurationSeconds int       `json:"duration_seconds"`
	Waveform        []float64 `json:"waveform"`
	ProfileID       string    `json:"profile_id,omitempty"`
	DeviceID        string    `json:"device_id,omitempty"`
	ObjectKey       string    `json:"object_key,omitempty"`
	LocalPath       string    `json:"local_path,omitempty"`
	URL             string    `json:"url,omitempty"`
	PeakDB          float64   `json:"peak_db"`
	RMSDB           float64   `json:"rms_db"`
	RecordedAt      time.Time `json:"recorded_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// ClipFromUpload builds a catalog row from a stored upload.
func ClipFromUpload(req *types.UploadRequest, receipt *types.Receipt) *Clip {
	c := &Clip{
		ID:              req.ID,
		Kind:            string(req.Metadata.Kind),
		TopicID:         req.Metadata.TopicID,
		ParentClipID:    req.Metadata.ParentClipID,
		Mood:            req.Metadata.Mood,
		Title:           req.Metadata.Title,
		Caption:         req.Metadata.Caption,
		ContentRating:   string(req.Metadata.ContentRating),
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		Waveform:        req.Waveform,
		ProfileID:       req.Identity.ProfileID,
		DeviceID:        req.Identity.DeviceID,
		PeakDB:          req.PeakDB,
		RMSDB:           req.RMSDB,
		RecordedAt:      req.RecordedAt,
	}
	if receipt != nil {
		c.ObjectKey = receipt.ObjectKey
		c.LocalPath = receipt.LocalPath
		c.URL = receipt.URL
		c.CreatedAt = receipt.UploadedAt
	}
	return c
}

// Store manages the clip catalog backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

const clipColumns = `id, kind, topic_id, parent_clip_id, mood, title, caption, content_rating,
    mime_type, duration_seconds, waveform_json, profile_id, device_id,
    object_key, local_path, url, peak_db, rms_db, recorded_at, created_at`

// Insert adds a clip. CreatedAt defaults to now.
func (s *Store) Insert(ctx context.Context, c *Clip) error {
	if c == nil || c.ID == "" {
		return errors.New("clip id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	waveform, err := json.Marshal(c.Waveform)
	if err != nil {
		return fmt.Errorf("marshal waveform: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clips (`+clipColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Kind,
		nullableString(c.TopicID),
		nullableString(c.ParentClipID),
		nullableString(c.Mood),
		nullableString(c.Title),
		nullableString(c.Caption),
		nullableString(c.ContentRating),
		c.MimeType,
		c.DurationSeconds,
		string(waveform),
		nullableString(c.ProfileID),
		nullableString(c.DeviceID),
		nullableString(c.ObjectKey),
		nullableString(c.LocalPath),
		nullableString(c.URL),
		c.PeakDB,
		c.RMSDB,
		c.RecordedAt.UTC().Format(time.RFC3339Nano),
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, c.ID)
		}
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

// Get fetches a clip by ID.
func (s *Store) Get(ctx context.Context, id string) (*Clip, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get clip: %w", err)
	}
	return c, nil
}

// ListByTopic returns the clips of a topic, newest first.
func (s *Store) ListByTopic(ctx context.Context, topicID string, limit, offset int) ([]*Clip, error) {
	return s.query(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE topic_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		topicID, clampLimit(limit), max(offset, 0))
}

// Recent returns the newest clips across all topics.
func (s *Store) Recent(ctx context.Context, limit, offset int) ([]*Clip, error) {
	return s.query(ctx,
		`SELECT `+clipColumns+` FROM clips ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		clampLimit(limit), max(offset, 0))
}

// Count returns the number of clips, optionally restricted to one topic.
func (s *Store) Count(ctx context.Context, topicID string) (int, error) {
	var (
		n   int
		err error
	)
	if topicID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM clips`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM clips WHERE topic_id = ?`, topicID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count clips: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Clip, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	clips := make([]*Clip, 0)
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}
