package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
)

// miniaudioQueueDepth is the number of device callbacks buffered between the
// audio thread and the consumer.
const miniaudioQueueDepth = 64

func initContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
}

func releaseContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		slog.Warn("failed to uninit miniaudio context", "error", err)
	}
	ctx.Free()
}

// classifyMiniaudioError maps a device init failure onto the media sentinels.
func classifyMiniaudioError(err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "permission") || strings.Contains(lower, "access denied") {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

// MiniaudioDevices lists capture devices known to miniaudio.
func MiniaudioDevices() ([]audio.Device, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}
	defer releaseContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	devices := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, audio.Device{ID: info.Name(), Name: info.Name()})
	}
	return devices, nil
}

// MiniaudioMicrophone captures in-process through miniaudio.
type MiniaudioMicrophone struct{}

// NewMiniaudioMicrophone returns a miniaudio-backed microphone.
func NewMiniaudioMicrophone() *MiniaudioMicrophone {
	return &MiniaudioMicrophone{}
}

// Open initialises a capture device and starts delivering S16LE mono PCM.
// Processing hints are not available through miniaudio and are ignored.
func (m *MiniaudioMicrophone) Open(_ context.Context, c Constraints, h Handler) (Stream, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %w", ErrDeviceUnavailable, err)
	}

	format := DefaultFormat()
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)

	if c.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			releaseContext(mctx)
			return nil, fmt.Errorf("%w: list devices: %w", ErrDeviceUnavailable, err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == c.Device {
				cfg.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			releaseContext(mctx)
			return nil, fmt.Errorf("%w: no capture device named %q", ErrDeviceUnavailable, c.Device)
		}
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		slog.Debug("miniaudio capture ignores processing hints")
	}

	s := &miniaudioStream{
		mctx:    mctx,
		format:  format,
		handler: h,
		queue:   make(chan []byte, miniaudioQueueDepth),
		done:    make(chan struct{}),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			b := make([]byte, len(input))
			copy(b, input)
			select {
			case s.queue <- b:
			default:
				s.dropped.Add(1)
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		releaseContext(mctx)
		return nil, classifyMiniaudioError(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		releaseContext(mctx)
		return nil, classifyMiniaudioError(err)
	}
	s.device = dev

	go s.pump()

	slog.Info("microphone opened", "backend", "miniaudio", "device", c.Device)
	return s, nil
}

type miniaudioStream struct {
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	format  Format
	handler Handler
	queue   chan []byte
	done    chan struct{}
	dropped atomic.Int64

	once sync.Once
}

func (s *miniaudioStream) Format() Format { return s.format }

func (s *miniaudioStream) pump() {
	defer close(s.done)
	for b := range s.queue {
		if s.handler.OnData != nil {
			s.handler.OnData(b)
		}
	}
}

// Close stops the device, drains queued buffers and frees the context.
func (s *miniaudioStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.device.Stop()
		s.device.Uninit()
		close(s.queue)
		<-s.done
		releaseContext(s.mctx)
		if n := s.dropped.Load(); n > 0 {
			slog.Warn("microphone buffers dropped", "count", n)
		}
	})
	return err
}

// MiniaudioSpeaker plays PCM through the default output device.
type MiniaudioSpeaker struct{}

// NewMiniaudioSpeaker returns a miniaudio-backed speaker.
func NewMiniaudioSpeaker() *MiniaudioSpeaker {
	return &MiniaudioSpeaker{}
}

// Play streams pcm to the default output until it is consumed or ctx ends.
func (sp *MiniaudioSpeaker) Play(ctx context.Context, f Format, pcm []byte) (int, error) {
	if len(pcm) == 0 {
		return 0, nil
	}
	mctx, err := initContext()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
	}
	defer releaseContext(mctx)

	sampleFormat := malgo.FormatS16
	switch f.BitDepth {
	case 8:
		sampleFormat = malgo.FormatU8
	case 24:
		sampleFormat = malgo.FormatS24
	case 32:
		sampleFormat = malgo.FormatS32
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = sampleFormat
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)

	var (
		mu       sync.Mutex
		pos      int
		finished = make(chan struct{})
		once     sync.Once
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			mu.Lock()
			n := copy(output, pcm[pos:])
			pos += n
			done := pos >= len(pcm)
			mu.Unlock()
			clear(output[n:])
			if done {
				once.Do(func() { close(finished) })
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
	}

	var playErr error
	select {
	case <-finished:
	case <-ctx.Done():
		playErr = context.Cause(ctx)
	}
	if err := dev.Stop(); err != nil {
		slog.Warn("failed to stop playback device", "error", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return pos, playErr
}
