package audio

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// CaptureOptions selects the input device and processing hints for a capture
// command.
type CaptureOptions struct {
	Device           string
	FFmpegPath       string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Filters returns the FFmpeg audio filters implementing the processing hints.
// FFmpeg has no reference-free echo canceller, so that hint only adds a
// rumble high-pass.
func (o CaptureOptions) Filters() []string {
	var filters []string
	if o.EchoCancellation {
		filters = append(filters, "highpass=f=80")
	}
	if o.NoiseSuppression {
		filters = append(filters, "afftdn=nf=-25")
	}
	if o.AutoGainControl {
		filters = append(filters, "dynaudnorm=f=150:g=15")
	}
	return filters
}

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the native capture executable (e.g., "arecord", "ffmpeg").
	Command string

	// InputFormat is the FFmpeg input format (e.g., "alsa", "avfoundation", "dshow").
	InputFormat string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates the native command is FFmpeg itself.
	UsesFFmpeg bool

	// KeepStdin leaves FFmpeg's stdin open for the 'q' quit command.
	KeepStdin bool

	// BuildArgs returns the native command arguments for audio capture.
	BuildArgs func(device string) []string
}

// BuildCaptureCommand returns the command and arguments that write S16LE mono
// PCM at types.SampleRate to stdout. If no device is set it uses the platform
// default or the first detected device. When processing hints are requested
// and FFmpeg is available, capture goes through FFmpeg so the filters apply.
func BuildCaptureCommand(opts CaptureOptions) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	device := opts.Device
	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := cfg.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	filters := opts.Filters()
	useFFmpeg := cfg.UsesFFmpeg || (len(filters) > 0 && opts.FFmpegPath != "")
	if !useFFmpeg {
		if len(filters) > 0 {
			slog.Debug("processing hints need ffmpeg, capturing unprocessed", "device", device)
		}
		return cfg.Command, cfg.BuildArgs(device), nil
	}

	command := "ffmpeg"
	if opts.FFmpegPath != "" {
		command = opts.FFmpegPath
	}
	return command, buildFFmpegCaptureArgs(cfg.InputFormat, device, filters, cfg.KeepStdin), nil
}

// buildFFmpegCaptureArgs constructs FFmpeg arguments for audio capture.
func buildFFmpegCaptureArgs(inputFormat, device string, filters []string, keepStdin bool) []string {
	args := []string{
		"-f", inputFormat,
		"-i", device,
	}
	if !keepStdin {
		args = append(args, "-nostdin")
	}
	args = append(args,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
	)
	if len(filters) > 0 {
		chain := filters[0]
		for _, f := range filters[1:] {
			chain += "," + f
		}
		args = append(args, "-af", chain)
	}
	return append(args,
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	)
}
