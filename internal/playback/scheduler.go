// Package playback schedules decoded response audio back-to-back on an
// output clock so consecutive buffers neither gap nor overlap.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rbright/brainlive/internal/pcm"
)

// ErrPlaybackStartFailed is returned when the sink refuses a buffer.
var ErrPlaybackStartFailed = errors.New("playback start failed")

// Clock reports the output device time in seconds.
type Clock interface {
	Now() float64
}

// Handle is one scheduled, not yet finished buffer.
type Handle interface {
	Stop()
}

// Sink plays buffers at absolute clock times.
//
// Implementations must invoke onEnded asynchronously, never from inside
// Schedule or Handle.Stop.
type Sink interface {
	Schedule(buf pcm.Buffer, at float64, onEnded func()) (Handle, error)
}

// Scheduler owns the next start time and the set of active handles.
type Scheduler struct {
	clock Clock
	sink  Sink

	mu     sync.Mutex
	next   float64
	seq    uint64
	active map[uint64]Handle
}

func NewScheduler(clock Clock, sink Sink) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		active: make(map[uint64]Handle),
	}
}

// Enqueue schedules buf at max(next start, now) and returns the chosen start time.
// On failure the handle is never tracked and the next start time is unchanged.
func (s *Scheduler) Enqueue(buf pcm.Buffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := max(s.next, s.clock.Now())
	s.seq++
	id := s.seq

	handle, err := s.sink.Schedule(buf, startAt, func() { s.finished(id) })
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPlaybackStartFailed, err)
	}
	if handle == nil {
		return 0, fmt.Errorf("%w: sink returned no handle", ErrPlaybackStartFailed)
	}

	s.active[id] = handle
	s.next = startAt + buf.Duration()
	return startAt, nil
}

// Interrupt stops every active handle, clears the set and resets the clock.
// It returns how many handles were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := len(s.active)
	for id, handle := range s.active {
		handle.Stop()
		delete(s.active, id)
	}
	s.next = 0
	return stopped
}

// Shutdown has the same effect as Interrupt and is used during teardown.
func (s *Scheduler) Shutdown() int {
	return s.Interrupt()
}

// Pending returns the number of scheduled buffers that have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the time the next buffer would start if the clock were behind it.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}
