package capture

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// DefaultMimeType is used when no preference is supported. The WAV encoder is
// built in, so it is always available.
const DefaultMimeType = "audio/wav"

// Sentinel errors for encoders.
var (
	// ErrUnsupportedMimeType is returned for encodings with no registered encoder.
	ErrUnsupportedMimeType = errors.New("unsupported mime type")

	// ErrEncoderClosed is returned when writing to a finished or aborted encoder.
	ErrEncoderClosed = errors.New("encoder closed")
)

// Encoder incrementally encodes PCM into a binary container.
type Encoder interface {
	// MimeType returns the container and codec this encoder produces.
	MimeType() string
	// Write appends PCM in the format the encoder was created with.
	Write(pcm []byte) error
	// Finish flushes all buffered data and returns the complete blob. The
	// encoder's temporary files are released.
	Finish() ([]byte, error)
	// Abort releases the encoder without producing output. It is idempotent
	// and a no-op after Finish.
	Abort()
}

// EncoderFactory creates an encoder writing temporary data under tempDir.
type EncoderFactory func(tempDir string, f media.Format) (Encoder, error)

// Registry maps mime types to encoder factories in registration order.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]EncoderFactory
}

// NewRegistry returns a registry holding only the built-in WAV encoder.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]EncoderFactory)}
	r.Register(DefaultMimeType, newWAVEncoder)
	return r
}

// DefaultRegistry returns the WAV encoder plus the FFmpeg encoders when
// ffmpegPath is set.
func DefaultRegistry(ffmpegPath string) *Registry {
	r := NewRegistry()
	if ffmpegPath != "" {
		for _, spec := range ffmpegCodecs {
			r.Register(spec.mimeType, newFFmpegEncoderFactory(ffmpegPath, spec))
		}
	}
	return r
}

// Register adds or replaces the factory for mimeType.
func (r *Registry) Register(mimeType string, f EncoderFactory) {
	key := normalizeMimeType(mimeType)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; !exists {
		r.order = append(r.order, key)
	}
	r.factories[key] = f
}

// MimeTypes returns the registered mime types in registration order.
func (r *Registry) MimeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Negotiate returns the first preference with a registered encoder, or
// DefaultMimeType. A preference without codec parameters also matches a
// registered type with the same container.
func (r *Registry) Negotiate(preferences []string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pref := range preferences {
		if key, ok := r.lookupLocked(pref); ok {
			return key
		}
	}
	return DefaultMimeType
}

// New creates an encoder for mimeType.
func (r *Registry) New(mimeType, tempDir string, f media.Format) (Encoder, error) {
	r.mu.RLock()
	key, ok := r.lookupLocked(mimeType)
	var factory EncoderFactory
	if ok {
		factory = r.factories[key]
	}
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMimeType, mimeType)
	}
	return factory(tempDir, f)
}

func (r *Registry) lookupLocked(mimeType string) (string, bool) {
	key := normalizeMimeType(mimeType)
	if key == "" {
		return "", false
	}
	if _, ok := r.factories[key]; ok {
		return key, true
	}
	if strings.Contains(key, ";") {
		return "", false
	}
	for _, registered := range r.order {
		base, _, _ := strings.Cut(registered, ";")
		if base == key {
			return registered, true
		}
	}
	return "", false
}

// normalizeMimeType lowercases and strips whitespace so "audio/webm; codecs=opus"
// and "audio/webm;codecs=opus" compare equal.
func normalizeMimeType(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// FileExtension returns the conventional extension for a mime type.
func FileExtension(mimeType string) string {
	base, _, _ := strings.Cut(normalizeMimeType(mimeType), ";")
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "wav"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/aac":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	default:
		return "bin"
	}
}

// MimeTypeForExtension is the inverse of FileExtension. It returns "" for
// extensions it does not know.
func MimeTypeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "wav", "wave":
		return "audio/wav"
	case "webm":
		return "audio/webm"
	case "ogg", "oga", "opus":
		return "audio/ogg"
	case "m4a", "mp4", "aac":
		return "audio/mp4"
	case "mp3":
		return "audio/mpeg"
	default:
		return ""
	}
}
