// Package eventlog provides the pipeline event log. Recording lifecycle
// events (started, stopped, too short, discarded) and submit events
// (started, completed, failed, retry, announced) share one JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Recording event types.
const (
	RecordingStarted   EventType = "recording_started"
	RecordingStopped   EventType = "recording_stopped"
	RecordingTooShort  EventType = "recording_too_short"
	RecordingEmpty     EventType = "recording_empty"
	RecordingError     EventType = "recording_error"
	RecordingDiscarded EventType = "recording_discarded"
	RecordingClosed    EventType = "recording_closed"
)

// Submit event types.
const (
	SubmitStarted   EventType = "submit_started"
	SubmitCompleted EventType = "submit_completed"
	SubmitFailed    EventType = "submit_failed"
	UploadRetry     EventType = "upload_retry"
	ClipAnnounced   EventType = "clip_announced"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// RecordingDetails contains recording-specific event details.
type RecordingDetails struct {
	Preset     string  `json:"preset,omitempty"`
	MimeType   string  `json:"mime_type,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Bytes      int     `json:"bytes,omitempty"`
	PeakDB     float64 `json:"peak_db,omitzero"`
	RMSDB      float64 `json:"rms_db,omitzero"`
	FromState  string  `json:"from_state,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// SubmitDetails contains submit and upload event details.
type SubmitDetails struct {
	ClipID      string `json:"clip_id,omitempty"`
	TopicID     string `json:"topic_id,omitempty"`
	Kind        string `json:"kind,omitempty"`
	StorageMode string `json:"storage_mode,omitempty"`
	ObjectKey   string `json:"object_key,omitempty"`
	Target      string `json:"target,omitempty"` // Announcement channel
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "voicerecorder", "logs", fmt.Sprintf("%d", port), "events.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/voicerecorder", fmt.Sprintf("%d", port), "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogRecording logs a recording lifecycle event.
func (l *Logger) LogRecording(eventType EventType, sessionID string, details *RecordingDetails) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogSubmit logs a submit or upload event.
func (l *Logger) LogSubmit(eventType EventType, sessionID string, details *SubmitDetails) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterRecording TypeFilter = "recording"
	FilterSubmit    TypeFilter = "submit"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest
// first. The second return value reports whether older events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterRecording:
		return IsRecordingEvent(t)
	case FilterSubmit:
		return IsSubmitEvent(t)
	default:
		return true
	}
}

// IsRecordingEvent returns true if the event type is a recording event.
func IsRecordingEvent(t EventType) bool {
	switch t {
	case RecordingStarted, RecordingStopped, RecordingTooShort, RecordingEmpty,
		RecordingError, RecordingDiscarded, RecordingClosed:
		return true
	}
	return false
}

// IsSubmitEvent returns true if the event type is a submit event.
func IsSubmitEvent(t EventType) bool {
	switch t {
	case SubmitStarted, SubmitCompleted, SubmitFailed, UploadRetry, ClipAnnounced:
		return true
	}
	return false
}
