package audio

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// Placeholder waveform bounds. Values stay visible without looking clipped.
const (
	placeholderFloor = 0.2
	placeholderSpan  = 0.6
)

// WaveformFromPCM summarises S16LE mono PCM into bars values in [0,1]. Each
// value is the RMS of one contiguous segment, scaled so the loudest segment
// is 1. It returns nil when there are fewer samples than bars.
func WaveformFromPCM(pcm []byte, bars int) []float64 {
	samples := len(pcm) / 2
	if bars <= 0 || samples < bars {
		return nil
	}

	out := make([]float64, bars)
	per := samples / bars
	var loudest float64
	for i := range bars {
		start := i * per
		end := start + per
		if i == bars-1 {
			end = samples
		}
		var sum float64
		for s := start; s < end; s++ {
			v := float64(int16(binary.LittleEndian.Uint16(pcm[2*s:]))) / MaxSampleValue
			sum += v * v
		}
		out[i] = math.Sqrt(sum / float64(end-start))
		loudest = max(loudest, out[i])
	}

	if loudest == 0 {
		return out
	}
	for i := range out {
		out[i] = clamp01(out[i] / loudest)
	}
	return out
}

// PlaceholderWaveform returns a deterministic pseudo-random waveform seeded
// by seed, used when no real analysis is available. The same seed always
// yields the same bars.
func PlaceholderWaveform(seed string, bars int) []float64 {
	if bars <= 0 {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum64()
	rng := rand.New(rand.NewPCG(sum, sum>>1|1))

	out := make([]float64, bars)
	for i := range out {
		out[i] = placeholderFloor + rng.Float64()*placeholderSpan
	}
	return out
}

// HasSignal reports whether any bar is above zero.
func HasSignal(bars []float64) bool {
	for _, b := range bars {
		if b > 0 {
			return true
		}
	}
	return false
}
