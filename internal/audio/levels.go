package audio

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

const (
	// DefaultFrameInterval is the level monitor tick, roughly one display frame.
	DefaultFrameInterval = 16 * time.Millisecond

	// barCarry is the weight of the previous bar value in the smoothing step.
	barCarry = 0.3
	// maxBinValue is the largest byte-scaled magnitude.
	maxBinValue = 255.0
)

// FrequencySource provides byte-scaled frequency bins. *Analyser implements it.
type FrequencySource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte) bool
}

// BaselineBars returns the flat bar array shown before any audio arrives.
func BaselineBars(n int) []float64 {
	return make([]float64, max(n, 0))
}

// ReduceBars partitions bins into len(prev) contiguous equal-size groups,
// averages each group, normalises it to [0,1] and smooths it against prev as
// 0.3*prev + 0.7*sample. Bins past the last whole group are ignored. The
// result is a new slice clamped to [0,1].
func ReduceBars(bins []byte, prev []float64) []float64 {
	n := len(prev)
	bars := make([]float64, n)
	if n == 0 {
		return bars
	}

	step := max(len(bins)/n, 1)
	for i := range n {
		start := i * step
		var sample float64
		if start < len(bins) {
			end := min(start+step, len(bins))
			var sum int
			for _, b := range bins[start:end] {
				sum += int(b)
			}
			sample = float64(sum) / float64(end-start) / maxBinValue
		}
		bars[i] = clamp01(barCarry*prev[i] + (1-barCarry)*sample)
	}
	return bars
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// MonitorConfig configures a LevelMonitor.
type MonitorConfig struct {
	BarCount int
	Interval time.Duration
	Clock    clockwork.Clock
}

// LevelMonitor samples a FrequencySource on a fixed cadence and publishes
// reduced LevelFrames. A monitor runs at most once; each recording creates a
// new one.
type LevelMonitor struct {
	source   FrequencySource
	clock    clockwork.Clock
	interval time.Duration
	publish  func(types.LevelFrame)

	mu      sync.Mutex
	bars    []float64
	bins    []byte
	seq     uint64
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLevelMonitor creates a monitor reading from source. A nil source is
// allowed and makes every tick a no-op. publish may be nil.
func NewLevelMonitor(source FrequencySource, cfg MonitorConfig, publish func(types.LevelFrame)) *LevelMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFrameInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	m := &LevelMonitor{
		source:   source,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		publish:  publish,
		bars:     BaselineBars(cfg.BarCount),
	}
	if source != nil {
		m.bins = make([]byte, source.FrequencyBinCount())
	}
	return m
}

// Start begins ticking. The ticker is armed before Start returns. Calling
// Start more than once has no effect.
func (m *LevelMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.interval)

	go func() {
		defer close(m.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.tick(ctx)
			}
		}
	}()
}

func (m *LevelMonitor) tick(ctx context.Context) {
	m.mu.Lock()
	if ctx.Err() != nil || m.source == nil || len(m.bars) == 0 {
		m.mu.Unlock()
		return
	}
	if !m.source.ByteFrequencyData(m.bins) {
		m.mu.Unlock()
		return
	}
	m.bars = ReduceBars(m.bins, m.bars)
	m.seq++
	frame := types.LevelFrame{Bars: m.bars, Seq: m.seq}.Clone()
	m.mu.Unlock()

	if m.publish != nil {
		m.publish(frame)
	}
}

// Stop cancels the ticker and waits for an in-flight tick to finish. No frame
// is published after Stop returns. The last frame stays readable via Frame.
func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Frame returns a copy of the most recent frame.
func (m *LevelMonitor) Frame() types.LevelFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.LevelFrame{Bars: m.bars, Seq: m.seq}.Clone()
}

// Reset returns the bars to the flat baseline.
func (m *LevelMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars = BaselineBars(len(m.bars))
	m.seq = 0
}
