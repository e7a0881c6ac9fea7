//go:build darwin

package audio

import "regexp"

// getPlatformConfig captures through FFmpeg's AVFoundation input; macOS has
// no native raw PCM recorder.
func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		InputFormat:   "avfoundation",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
	}
}

var avfoundationInput = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`)

// Devices lists AVFoundation microphones. The ":N" form selects an audio
// device with no video.
func (cfg *CaptureConfig) Devices() []Device {
	return listInputs(&inputQuery{
		Command:      []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		SectionStart: "AVFoundation audio devices:",
		SectionEnd:   "AVFoundation video devices:",
		Pattern:      avfoundationInput,
		Parse: func(m []string) (Device, bool) {
			return Device{ID: ":" + m[1], Name: m[2]}, true
		},
		Exclude:  []string{"BlackHole", "Soundflower", "Loopback Audio", "ZoomAudioDevice"},
		Fallback: []Device{{ID: ":0", Name: "System microphone"}},
	})
}
