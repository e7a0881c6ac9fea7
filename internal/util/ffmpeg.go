package util

import (
	"cmp"
	"log/slog"
	"os/exec"
)

// ResolveFFmpegPath finds the FFmpeg binary that backs the compressed
// encoders and non-WAV preview decoding. A configured path must resolve on
// its own; there is no fallback to PATH so a typo is not masked. It returns
// "" when FFmpeg is unavailable, leaving only the built-in WAV codec.
func ResolveFFmpegPath(configured string) string {
	path, err := exec.LookPath(cmp.Or(configured, "ffmpeg"))
	if err != nil {
		if configured != "" {
			slog.Warn("configured ffmpeg is not executable", "path", configured, "error", err)
		}
		return ""
	}
	return path
}
