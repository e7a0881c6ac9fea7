//go:build windows

package audio

import (
	"regexp"
	"strings"
)

// getPlatformConfig captures through FFmpeg's DirectShow input. There is no
// default device name, so the first listed microphone is used.
func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:     "ffmpeg",
		InputFormat: "dshow",
		UsesFFmpeg:  true,
		KeepStdin:   true,
	}
}

// dshowInput matches audio lines regardless of whether the FFmpeg build
// prints a section header. Alternative name lines never end in "(audio)".
var dshowInput = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)

// Devices lists DirectShow microphones.
func (cfg *CaptureConfig) Devices() []Device {
	return listInputs(&inputQuery{
		Command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		Pattern: dshowInput,
		Parse: func(m []string) (Device, bool) {
			name := strings.TrimSpace(m[1])
			return Device{ID: "audio=" + name, Name: name}, name != ""
		},
		Exclude: []string{"Stereo Mix", "What U Hear", "Wave Out", "CABLE Output"},
	})
}
