package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/brainlive/internal/pcm"
	"github.com/rbright/brainlive/internal/playback"
)

var errOutputClosed = errors.New("audio output closed")

// Output is a continuously running Pulse playback stream that mixes
// buffers scheduled at absolute times. Its clock advances by the number
// of frames handed to Pulse.
type Output struct {
	rate int

	client *pulse.Client
	stream *pulse.PlaybackStream

	mu      sync.Mutex
	played  int64
	nextID  uint64
	sources map[uint64]*source
	closed  bool
}

type source struct {
	start   int64
	samples []float32
	onEnded func()
}

// OpenOutput starts a mono playback stream at sampleRate.
func OpenOutput(sampleRate int) (*Output, error) {
	client, err := newClient("audio-speakers")
	if err != nil {
		return nil, err
	}

	out := newOutput(sampleRate)
	out.client = client

	stream, err := client.NewPlayback(
		pulse.Int16Reader(out.fill),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("brainlive assistant"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	out.stream = stream
	stream.Start()
	return out, nil
}

func newOutput(sampleRate int) *Output {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Output{rate: sampleRate, sources: make(map[uint64]*source)}
}

// Now returns the output clock in seconds.
func (o *Output) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float64(o.played) / float64(o.rate)
}

// Schedule queues buf to start at the given clock time. Buffers at other
// sample rates are resampled to the output rate.
func (o *Output) Schedule(buf pcm.Buffer, at float64, onEnded func()) (playback.Handle, error) {
	samples := resample(buf.Mono(), buf.SampleRate, o.rate)
	if len(samples) == 0 {
		return nil, errors.New("empty audio buffer")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errOutputClosed
	}

	o.nextID++
	id := o.nextID
	o.sources[id] = &source{
		start:   int64(math.Round(at * float64(o.rate))),
		samples: samples,
		onEnded: onEnded,
	}
	return outputHandle{out: o, id: id}, nil
}

// Close stops the stream and drops all scheduled audio. Repeated calls are no-ops.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	clear(o.sources)
	o.mu.Unlock()

	if o.stream != nil {
		o.stream.Stop()
		o.stream.Close()
	}
	if o.client != nil {
		o.client.Close()
	}
	return nil
}

// fill renders the next block of the timeline. Completion callbacks run
// after the lock is released.
func (o *Output) fill(out []int16) (int, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, pulse.EndOfData
	}

	base := o.played
	end := base + int64(len(out))
	mix := make([]float32, len(out))
	var ended []func()

	for id, src := range o.sources {
		srcEnd := src.start + int64(len(src.samples))
		from := max(src.start, base)
		to := min(srcEnd, end)
		for frame := from; frame < to; frame++ {
			mix[frame-base] += src.samples[frame-src.start]
		}
		if srcEnd <= end {
			delete(o.sources, id)
			if src.onEnded != nil {
				ended = append(ended, src.onEnded)
			}
		}
	}
	o.played = end
	o.mu.Unlock()

	for i, v := range mix {
		out[i] = toInt16(v)
	}
	for _, fn := range ended {
		fn()
	}
	return len(out), nil
}

func (o *Output) stop(id uint64) {
	o.mu.Lock()
	delete(o.sources, id)
	o.mu.Unlock()
}

type outputHandle struct {
	out *Output
	id  uint64
}

func (h outputHandle) Stop() {
	h.out.stop(h.id)
}

func toInt16(v float32) int16 {
	s := math.Round(float64(v) * 32767)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// resample converts samples between rates with linear interpolation.
func resample(samples []float32, from int, to int) []float32 {
	if from <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}
