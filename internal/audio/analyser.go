package audio

import (
	"encoding/binary"
	"math"
	"math/bits"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser defaults, matching the usual browser analysis node.
const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser exposes frequency-domain magnitude snapshots of a live PCM stream.
// Samples are pushed with Write; ByteFrequencyData computes a windowed FFT of
// the most recent FFTSize samples, smooths it over time and maps the dB range
// onto 0-255. It is safe for concurrent use.
type Analyser struct {
	mu sync.Mutex

	fftSize   int
	ring      []float64 // last fftSize samples, oldest at pos
	pos       int
	frame     []float64
	coeffs    []complex128
	smoothed  []float64
	fft       *fourier.FFT
	smoothing float64
	minDB     float64
	maxDB     float64
	closed    bool
}

// NewAnalyser returns an analyser over fftSize samples. Sizes that are not a
// power of two in [32, 32768] fall back to DefaultFFTSize.
func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize > 32768 || bits.OnesCount(uint(fftSize)) != 1 {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		fftSize:   fftSize,
		ring:      make([]float64, fftSize),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
		fft:       fourier.NewFFT(fftSize),
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
	}
}

// FFTSize returns the analysis window length in samples.
func (a *Analyser) FFTSize() int {
	return a.fftSize
}

// FrequencyBinCount returns the number of frequency bins, half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

// Write pushes S16LE mono PCM into the analysis window.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		a.ring[a.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / MaxSampleValue
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData fills dst with the current byte-scaled spectrum, up to
// FrequencyBinCount values. It returns false once the analyser is closed.
func (a *Analyser) ByteFrequencyData(dst []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}

	n := a.fftSize
	for i := range a.frame {
		a.frame[i] = a.ring[(a.pos+i)%n]
	}
	window.Blackman(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	dbRange := a.maxDB - a.minDB
	count := min(len(dst), len(a.smoothed))
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= count {
			continue
		}
		if a.smoothed[k] <= 0 {
			dst[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		scaled := 255 * (db - a.minDB) / dbRange
		dst[k] = byte(math.Max(0, math.Min(255, scaled)))
	}
	return true
}

// Close releases the analyser. Later reads report false and writes are dropped.
// Close is idempotent.
func (a *Analyser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
