// Package mediatest provides in-memory media devices for tests.
package mediatest

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/media"
)

// Microphone is a scripted media.Microphone. Tests push audio through the
// Stream returned by Last.
type Microphone struct {
	mu          sync.Mutex
	openErr     error
	opens       int
	constraints media.Constraints
	last        *Stream
	gate        chan struct{}
}

// BlockOpen makes subsequent Open calls wait, ignoring their context, until
// release is called. It stands in for a pending permission prompt.
func (m *Microphone) BlockOpen() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// SetOpenError makes subsequent Open calls fail with err.
func (m *Microphone) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Open implements media.Microphone.
func (m *Microphone) Open(_ context.Context, c media.Constraints, h media.Handler) (media.Stream, error) {
	m.mu.Lock()
	m.opens++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.constraints = c
	m.last = &Stream{handler: h}
	return m.last, nil
}

// Opens returns how many times Open was called.
func (m *Microphone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Constraints returns the constraints of the last successful Open.
func (m *Microphone) Constraints() media.Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.constraints
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stream is an in-memory media.Stream.
type Stream struct {
	handler media.Handler

	mu       sync.Mutex
	closed   bool
	closes   int
	inflight sync.WaitGroup
}

// Format implements media.Stream.
func (s *Stream) Format() media.Format { return media.DefaultFormat() }

// Emit delivers pcm to the data handler. It reports false once closed.
func (s *Stream) Emit(pcm []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if s.handler.OnData != nil {
		s.handler.OnData(pcm)
	}
	return true
}

// Fail delivers err to the error handler as if the device broke.
func (s *Stream) Fail(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
	return true
}

// Close implements media.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closes++
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	return nil
}

// Closed reports whether the track was stopped.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Speaker is a scripted media.Speaker.
type Speaker struct {
	mu      sync.Mutex
	err     error
	block   bool
	pauseAt int
	plays   [][]byte
	started chan struct{}
}

// NewSpeaker returns a speaker that plays instantly.
func NewSpeaker() *Speaker {
	return &Speaker{started: make(chan struct{}, 16)}
}

// SetError makes Play fail with err.
func (s *Speaker) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// BlockUntilCancelled makes Play wait for ctx and report pauseAt bytes played.
func (s *Speaker) BlockUntilCancelled(pauseAt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = true
	s.pauseAt = pauseAt
}

// Started receives once per Play call after it begins.
func (s *Speaker) Started() <-chan struct{} { return s.started }

// Plays returns copies of the PCM passed to each Play call.
func (s *Speaker) Plays() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.plays...)
}

// Play implements media.Speaker.
func (s *Speaker) Play(ctx context.Context, _ media.Format, pcm []byte) (int, error) {
	s.mu.Lock()
	s.plays = append(s.plays, append([]byte(nil), pcm...))
	err, block, pauseAt := s.err, s.block, s.pauseAt
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}
	if err != nil {
		return 0, err
	}
	if !block {
		return len(pcm), nil
	}
	<-ctx.Done()
	return min(pauseAt, len(pcm)), ctx.Err()
}

// Tone returns samples of a 440 Hz S16LE mono sine at half scale.
func Tone(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/48000)
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v*32767)))
	}
	return pcm
}
