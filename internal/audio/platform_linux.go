//go:build linux

package audio

import (
	"regexp"
	"strconv"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		InputFormat:   "alsa",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(types.SampleRate),
		"-c", strconv.Itoa(types.Channels),
		"-t", "raw",
		"-q",
		"-",
	}
}

var alsaCard = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)

// Devices lists ALSA capture cards. The snd-aloop loopback card is skipped.
func (cfg *CaptureConfig) Devices() []Device {
	return listInputs(&inputQuery{
		Command: []string{"arecord", "-l"},
		Pattern: alsaCard,
		Parse: func(m []string) (Device, bool) {
			return Device{ID: "default:CARD=" + m[2], Name: m[3]}, true
		},
		Exclude:  []string{"Loopback"},
		Fallback: []Device{{ID: "default", Name: "System default"}},
	})
}
