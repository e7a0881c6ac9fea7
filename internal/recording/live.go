package recording

import (
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// liveState holds the values session hooks update while recording. It has
// its own lock so hooks never contend with the controller lock, which is
// held while sessions stop.
type liveState struct {
	mu      sync.Mutex
	gen     uint64 // zero when no session is attached
	elapsed time.Duration
	frame   types.LevelFrame
}

func (l *liveState) reset(gen uint64, bars int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen = gen
	l.elapsed = 0
	l.frame = types.LevelFrame{Bars: audio.BaselineBars(bars)}
}

// freeze detaches the session and pins the final bars.
func (l *liveState) freeze(bars []float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen = 0
	l.frame.Bars = slices.Clone(bars)
}

func (l *liveState) setElapsed(gen uint64, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != 0 && l.gen == gen {
		l.elapsed = d
	}
}

func (l *liveState) setFrame(gen uint64, f types.LevelFrame) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == 0 || l.gen != gen {
		return 0, false
	}
	l.frame = f.Clone()
	return l.elapsed, true
}

func (l *liveState) snapshot() types.LevelFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame.Clone()
}
