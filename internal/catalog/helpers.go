package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanClip(row scanner) (*Clip, error) {
	var (
		c                                               Clip
		topicID, parentID, mood, title, caption, rating sql.NullString
		profileID, deviceID, objectKey, localPath, url  sql.NullString
		waveform, recordedAt, createdAt                 string
	)
	err := row.Scan(
		&c.ID, &c.Kind, &topicID, &parentID, &mood, &title, &caption, &rating,
		&c.MimeType, &c.DurationSeconds, &waveform, &profileID, &deviceID,
		&objectKey, &localPath, &url, &c.PeakDB, &c.RMSDB, &recordedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.TopicID = topicID.String
	c.ParentClipID = parentID.String
	c.Mood = mood.String
	c.Title = title.String
	c.Caption = caption.String
	c.ContentRating = rating.String
	c.ProfileID = profileID.String
	c.DeviceID = deviceID.String
	c.ObjectKey = objectKey.String
	c.LocalPath = localPath.String
	c.URL = url.String

	if err := json.Unmarshal([]byte(waveform), &c.Waveform); err != nil {
		return nil, fmt.Errorf("decode waveform for %s: %w", c.ID, err)
	}
	if c.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return nil, fmt.Errorf("parse recorded_at for %s: %w", c.ID, err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", c.ID, err)
	}
	return &c, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
