package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Microphone opens Pulse record streams on the configured source.
type Microphone struct {
	Input      string
	Fallback   string
	SampleRate int

	// FragmentBytes hints the Pulse fragment size; zero keeps the server default.
	FragmentBytes int

	Logger *slog.Logger
}

// Open selects a source and starts a mono s16le record stream that hands
// every Pulse buffer to onPCM until the returned closer is closed.
func (m Microphone) Open(ctx context.Context, onPCM func([]byte)) (io.Closer, error) {
	selection, err := SelectDevice(ctx, m.Input, m.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && m.Logger != nil {
		m.Logger.Warn(selection.Warning, "device", selection.Device.ID)
	}

	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return StartRecording(selection.Device, rate, m.FragmentBytes, onPCM)
}

// Recording is one live Pulse record stream.
type Recording struct {
	device Device
	onPCM  func([]byte)

	client *pulse.Client
	stream *pulse.RecordStream

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartRecording connects to Pulse and starts capturing from device.
func StartRecording(device Device, sampleRate int, fragmentBytes int, onPCM func([]byte)) (*Recording, error) {
	client, err := newClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	rec := &Recording{device: device, onPCM: onPCM, client: client}

	opts := []pulse.RecordOption{
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordMediaName("brainlive microphone"),
	}
	if fragmentBytes > 0 {
		opts = append(opts, pulse.RecordBufferFragmentSize(uint32(fragmentBytes)))
	}

	stream, err := client.NewRecord(pulse.NewWriter(writerFunc(rec.write), pulseproto.FormatInt16LE), opts...)
	if err != nil {
		_ = rec.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	rec.stream = stream
	stream.Start()
	return rec, nil
}

// Device returns the source being recorded.
func (r *Recording) Device() Device {
	return r.device
}

// BytesCaptured reports the total PCM bytes received from Pulse.
func (r *Recording) BytesCaptured() int64 {
	return r.bytes.Load()
}

// Close stops the stream and releases the Pulse connection. Once Close
// returns, onPCM is not called again. Repeated calls are no-ops.
func (r *Recording) Close() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	if r.stream != nil {
		r.stream.Stop()
		r.stream.Close()
	}
	if r.client != nil {
		r.client.Close()
	}
	r.inflight.Wait()
	return nil
}

func (r *Recording) write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped so Close cannot miss it.
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	r.bytes.Add(int64(len(buf)))
	if r.onPCM != nil {
		// Pulse reuses buf after Write returns.
		r.onPCM(append([]byte(nil), buf...))
	}
	return len(buf), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
