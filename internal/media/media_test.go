package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFormat(t *testing.T) {
	f := DefaultFormat()

	assert.Equal(t, 48000, f.SampleRate)
	assert.Equal(t, 1, f.Channels)
	assert.Equal(t, 16, f.BitDepth)
	assert.Equal(t, 96000, f.BytesPerSecond())
	assert.Equal(t, 2, f.FrameSize())
}

func TestClassifyCaptureError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"alsa permission", "arecord: main:830: audio open error: Permission denied\n", ErrPermissionDenied},
		{"macos privacy", "[AVFoundation indev] Operation not permitted", ErrPermissionDenied},
		{"missing card", "arecord: main:830: audio open error: No such file or directory\n", ErrDeviceUnavailable},
		{"empty stderr", "", ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyCaptureError(tt.stderr, errors.New("exit status 1"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClassifyCaptureErrorFallsBackToExitError(t *testing.T) {
	err := ClassifyCaptureError("", errors.New("exit status 1"))
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestClassifyMiniaudioError(t *testing.T) {
	assert.ErrorIs(t, classifyMiniaudioError(errors.New("Access denied.")), ErrPermissionDenied)
	assert.ErrorIs(t, classifyMiniaudioError(errors.New("No device.")), ErrDeviceUnavailable)
}
