package audio

import "github.com/oszuidwest/zwfm-voicerecorder/internal/types"

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier passed to the capture command.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}

// ToAudioDevices converts devices to their wire representation.
func ToAudioDevices(devices []Device) []types.AudioDevice {
	out := make([]types.AudioDevice, len(devices))
	for i, d := range devices {
		out[i] = types.AudioDevice{ID: d.ID, Name: d.Name}
	}
	return out
}
