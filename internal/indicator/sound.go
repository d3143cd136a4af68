package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueError
)

func (k cueKind) String() string {
	switch k {
	case cueStart:
		return "start"
	case cueStop:
		return "stop"
	case cueError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	cueSampleRate = 16000
	cueTimeout    = 2 * time.Second
)

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var cuePCM = map[cueKind][]int16{
	cueStart: synthesizeCue([]toneSpec{
		{frequencyHz: 660, duration: 60 * time.Millisecond, volume: 0.16},
		{frequencyHz: 880, duration: 60 * time.Millisecond, volume: 0.16},
		{frequencyHz: 1320, duration: 80 * time.Millisecond, volume: 0.16},
	}),
	cueStop: synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.16},
		{frequencyHz: 660, duration: 100 * time.Millisecond, volume: 0.16},
	}),
	cueError: synthesizeCue([]toneSpec{
		{frequencyHz: 330, duration: 120 * time.Millisecond, volume: 0.2},
		{frequencyHz: 330, duration: 120 * time.Millisecond, volume: 0.2},
	}),
}

func cueSamples(kind cueKind) []int16 {
	return cuePCM[kind]
}

// emitCue plays one cue on the default Pulse sink and waits for it to drain.
func emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("brainlive"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("brainlive "+kind.String()+" cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	drained := make(chan struct{})
	go func() {
		stream.Start()
		stream.Drain()
		close(drained)
	}()

	timer := time.NewTimer(cueTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-ctx.Done():
		stream.Stop()
		return ctx.Err()
	case <-timer.C:
		stream.Stop()
		return fmt.Errorf("cue %s did not drain within %s", kind, cueTimeout)
	}

	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// synthesizeCue joins tones with short silent gaps.
func synthesizeCue(parts []toneSpec) []int16 {
	gap := make([]int16, samplesForDuration(20*time.Millisecond))
	var pcm []int16
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, gap...)
		}
		pcm = append(pcm, synthesizeTone(part)...)
	}
	return pcm
}

// synthesizeTone renders a sine tone with a linear attack and release of at
// most 5ms to avoid clicks.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(max(n/10, 1), cueSampleRate/200)
	pcm := make([]int16, n)
	for i := range n {
		envelope := math.Min(1, float64(min(i, n-i-1))/float64(ramp))
		phase := 2 * math.Pi * spec.frequencyHz * float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(phase) * spec.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
