package capture

import (
	"slices"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// distributor fans captured PCM out to the encoder, the spectrum analyser
// and the input meter. It is not safe for concurrent use; the session
// serialises calls.
type distributor struct {
	encoder   Encoder
	analyser  *audio.Analyser
	levelData audio.LevelData
	captured  int64
	frameSize int
	partial   []byte // bytes of an incomplete frame from the previous read
}

func newDistributor(enc Encoder, analyser *audio.Analyser, format media.Format) *distributor {
	return &distributor{encoder: enc, analyser: analyser, frameSize: max(format.FrameSize(), 1)}
}

// Process hands one PCM buffer to every consumer. Reads need not end on a
// frame boundary: a trailing partial frame is held back and prepended to
// the next buffer. Encoder failures are returned; the analyser and meter
// never fail.
func (d *distributor) Process(pcm []byte) error {
	if len(d.partial) > 0 {
		pcm = append(d.partial, pcm...)
		d.partial = nil
	}
	if rem := len(pcm) % d.frameSize; rem > 0 {
		d.partial = slices.Clone(pcm[len(pcm)-rem:])
		pcm = pcm[:len(pcm)-rem]
	}
	if len(pcm) == 0 {
		return nil
	}
	d.analyser.Write(pcm)
	audio.ProcessSamples(pcm, &d.levelData)

	if err := d.encoder.Write(pcm); err != nil {
		return err
	}
	d.captured += int64(len(pcm))
	return nil
}

// Captured returns the number of PCM bytes accepted by the encoder.
func (d *distributor) Captured() int64 {
	return d.captured
}

// Levels returns the take's RMS and peak levels.
func (d *distributor) Levels() audio.Levels {
	return audio.CalculateLevels(&d.levelData)
}
