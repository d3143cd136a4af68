package audio

import (
	"testing"

	"github.com/jfreymuth/pulse"
	"github.com/stretchr/testify/require"

	"github.com/rbright/brainlive/internal/pcm"
	"github.com/rbright/brainlive/internal/playback"
)

var _ playback.Sink = (*Output)(nil)
var _ playback.Clock = (*Output)(nil)

func constant(n int, v float32, rate int) pcm.Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return pcm.Buffer{Channels: [][]float32{samples}, SampleRate: rate}
}

func TestOutputFillPlacesSourcesOnTimeline(t *testing.T) {
	out := newOutput(10)
	ended := 0

	_, err := out.Schedule(constant(3, 0.5, 10), 0.2, func() { ended++ })
	require.NoError(t, err)

	block := make([]int16, 4)
	n, err := out.fill(block)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []int16{0, 0, 16384, 16384}, block)
	require.Zero(t, ended)
	require.InDelta(t, 0.4, out.Now(), 1e-9)

	_, err = out.fill(block)
	require.NoError(t, err)
	require.Equal(t, []int16{16384, 0, 0, 0}, block)
	require.Equal(t, 1, ended)
}

func TestOutputMixesOverlappingSourcesWithClipping(t *testing.T) {
	out := newOutput(10)
	_, err := out.Schedule(constant(2, 0.75, 10), 0, nil)
	require.NoError(t, err)
	_, err = out.Schedule(constant(2, 0.75, 10), 0, nil)
	require.NoError(t, err)

	block := make([]int16, 2)
	_, err = out.fill(block)
	require.NoError(t, err)
	require.Equal(t, []int16{32767, 32767}, block)
}

func TestOutputHandleStopSilencesWithoutCallback(t *testing.T) {
	out := newOutput(10)
	ended := 0
	handle, err := out.Schedule(constant(4, 0.5, 10), 0, func() { ended++ })
	require.NoError(t, err)

	handle.Stop()
	block := make([]int16, 4)
	_, err = out.fill(block)
	require.NoError(t, err)
	require.Equal(t, []int16{0, 0, 0, 0}, block)
	require.Zero(t, ended)
}

func TestOutputClosedRejectsScheduleAndEndsStream(t *testing.T) {
	out := newOutput(10)
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	_, err := out.Schedule(constant(1, 0.1, 10), 0, nil)
	require.ErrorIs(t, err, errOutputClosed)

	n, err := out.fill(make([]int16, 2))
	require.Zero(t, n)
	require.ErrorIs(t, err, pulse.EndOfData)
}

func TestOutputRejectsEmptyBuffer(t *testing.T) {
	out := newOutput(10)
	_, err := out.Schedule(pcm.Buffer{SampleRate: 10}, 0, nil)
	require.Error(t, err)
}

func TestResample(t *testing.T) {
	require.Equal(t, []float32{1, 2}, resample([]float32{1, 2}, 24000, 24000))

	up := resample([]float32{0, 1}, 1, 2)
	require.Len(t, up, 4)
	require.InDelta(t, 0.5, up[1], 1e-6)
	require.Equal(t, float32(1), up[3])

	down := resample([]float32{0, 1, 2, 3}, 2, 1)
	require.Equal(t, []float32{0, 2}, down)
}
