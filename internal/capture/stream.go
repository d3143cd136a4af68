// Package capture turns a live microphone into fixed-size encoded frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rbright/brainlive/internal/pcm"
)

// ErrCaptureUnavailable is returned when no microphone could be acquired.
var ErrCaptureUnavailable = errors.New("capture unavailable")

const (
	DefaultSampleRate     = 16000
	DefaultQuantumSamples = 4096
)

// Device opens a mono s16le input and delivers raw PCM to onPCM until the
// returned closer is closed. onPCM must not be called after Close returns.
type Device interface {
	Open(ctx context.Context, onPCM func([]byte)) (io.Closer, error)
}

// SendFunc receives one encoded frame per quantum.
type SendFunc func(pcm.Frame)

// Config sets the capture format.
type Config struct {
	SampleRate     int
	QuantumSamples int

	// RetainPCM keeps every captured byte for RawPCM.
	RetainPCM bool
}

// Stream chunks device audio into quanta and hands each encoded frame to
// the attached send function.
type Stream struct {
	device Device
	cfg    Config

	sendMu sync.RWMutex
	send   SendFunc

	mu      sync.Mutex
	handle  io.Closer
	opening bool
	closed  bool
	pending []byte
	raw     []byte

	level   atomic.Uint64
	frames  atomic.Int64
	dropped atomic.Int64
}

func NewStream(device Device, cfg Config) *Stream {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.QuantumSamples <= 0 {
		cfg.QuantumSamples = DefaultQuantumSamples
	}
	return &Stream{device: device, cfg: cfg}
}

// Start acquires the microphone. Failures wrap ErrCaptureUnavailable.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return fmt.Errorf("%w: stream already stopped", ErrCaptureUnavailable)
	case s.handle != nil || s.opening:
		s.mu.Unlock()
		return nil
	case s.device == nil:
		s.mu.Unlock()
		return fmt.Errorf("%w: no input device configured", ErrCaptureUnavailable)
	}
	s.opening = true
	s.mu.Unlock()

	// The device may deliver audio before Open returns, so the lock is not held here.
	handle, err := s.device.Open(ctx, s.onPCM)

	s.mu.Lock()
	s.opening = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if s.closed {
		s.mu.Unlock()
		_ = handle.Close()
		return fmt.Errorf("%w: stopped while opening", ErrCaptureUnavailable)
	}
	s.handle = handle
	s.mu.Unlock()
	return nil
}

// Attach routes subsequent quanta to send.
func (s *Stream) Attach(send SendFunc) {
	s.sendMu.Lock()
	s.send = send
	s.sendMu.Unlock()
}

// Detach removes the send function. When it returns, no in-flight quantum
// is still inside the old send function and no later quantum reaches it.
func (s *Stream) Detach() {
	s.sendMu.Lock()
	s.send = nil
	s.sendMu.Unlock()
}

// Stop detaches and then releases the device. Only the first call closes
// the device; later calls return nil.
func (s *Stream) Stop() error {
	s.Detach()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handle := s.handle
	s.handle = nil
	s.pending = nil
	s.mu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.Close()
}

// Level is the RMS of the most recent quantum.
func (s *Stream) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// FramesSent counts quanta handed to a send function.
func (s *Stream) FramesSent() int64 {
	return s.frames.Load()
}

// FramesDropped counts quanta produced while no send function was attached.
func (s *Stream) FramesDropped() int64 {
	return s.dropped.Load()
}

// RawPCM returns a copy of everything captured when RetainPCM is set.
func (s *Stream) RawPCM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.raw...)
}

// SampleRate returns the capture rate.
func (s *Stream) SampleRate() int {
	return s.cfg.SampleRate
}

func (s *Stream) onPCM(buf []byte) {
	quantumBytes := 2 * s.cfg.QuantumSamples

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cfg.RetainPCM {
		s.raw = append(s.raw, buf...)
	}
	s.pending = append(s.pending, buf...)
	var quanta [][]byte
	for len(s.pending) >= quantumBytes {
		quanta = append(quanta, s.pending[:quantumBytes:quantumBytes])
		s.pending = s.pending[quantumBytes:]
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.mu.Unlock()

	for _, q := range quanta {
		s.emit(pcm.SamplesFromPCM16(q))
	}
}

func (s *Stream) emit(samples []float32) {
	s.level.Store(math.Float64bits(pcm.RMS(samples)))

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.send == nil {
		s.dropped.Add(1)
		return
	}

	frame, err := pcm.EncodeFrame(samples, s.cfg.SampleRate)
	if err != nil {
		s.dropped.Add(1)
		return
	}
	s.send(frame)
	s.frames.Add(1)
}
