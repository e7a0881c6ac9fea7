package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// errNoDecoder is returned for non-WAV blobs when FFmpeg is unavailable.
var errNoDecoder = errors.New("no decoder for mime type")

// Decode converts the audio file at path to S16LE PCM. WAV is decoded in
// process; anything else goes through FFmpeg at the capture format.
func Decode(ctx context.Context, path, mimeType, ffmpegPath string) (media.Format, []byte, error) {
	if isWAV(mimeType) {
		return decodeWAV(path)
	}
	if ffmpegPath == "" {
		return media.Format{}, nil, fmt.Errorf("%w: %s", errNoDecoder, mimeType)
	}
	format := media.DefaultFormat()
	pcm, err := ffmpeg.Decode(ctx, ffmpegPath, path, format.SampleRate, format.Channels)
	if err != nil {
		return media.Format{}, nil, err
	}
	return format, pcm, nil
}

func isWAV(mimeType string) bool {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}

// decodeWAV reads a PCM WAV file and returns 16-bit samples.
func decodeWAV(path string) (media.Format, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return media.Format{}, nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return media.Format{}, nil, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return media.Format{}, nil, fmt.Errorf("read wav samples: %w", err)
	}

	shift := int(dec.BitDepth) - 16
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case dec.BitDepth == 8:
			v = (v - 128) << 8
		case shift > 0:
			v >>= shift
		}
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
	}

	format := media.Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   16,
	}
	return format, pcm, nil
}
