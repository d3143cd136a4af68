// Package pcm converts between float samples and the 16-bit little-endian
// PCM frames carried base64-encoded on the realtime wire.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned when a payload cannot be decoded into whole samples.
var ErrMalformedFrame = errors.New("malformed pcm frame")

const scale = 32768.0

// Frame is one encoded block of signed 16-bit PCM ready for transport.
type Frame struct {
	PCM        []byte
	Base64     string
	SampleRate int
	Channels   int
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.PCM) / (2 * f.Channels)
}

// MIMEType returns the realtime input MIME type for this frame.
func (f Frame) MIMEType() string {
	return MIMEType(f.SampleRate)
}

// MIMEType formats the raw PCM MIME type for sampleRate.
func MIMEType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

// Buffer is decoded audio, one float slice per channel.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the per-channel sample count.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Mono down-mixes the buffer to a single channel.
func (b Buffer) Mono() []float32 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}
	out := make([]float32, b.Frames())
	for _, ch := range b.Channels {
		for i, s := range ch {
			out[i] += s
		}
	}
	n := float32(len(b.Channels))
	for i := range out {
		out[i] /= n
	}
	return out
}

// EncodeFrame quantizes mono samples in [-1, 1] to 16-bit PCM and base64-encodes them.
// Each sample is scaled by 32768 and truncated toward zero.
func EncodeFrame(samples []float32, sampleRate int) (Frame, error) {
	if len(samples) == 0 {
		return Frame{}, fmt.Errorf("%w: empty sample block", ErrMalformedFrame)
	}
	raw := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(quantize(s)))
	}
	return Frame{
		PCM:        raw,
		Base64:     EncodeBase64(raw),
		SampleRate: sampleRate,
		Channels:   1,
	}, nil
}

func quantize(s float32) int16 {
	v := float64(s) * scale
	if math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DecodeFrame converts interleaved 16-bit PCM into a de-interleaved Buffer.
func DecodeFrame(raw []byte, sampleRate int, channels int) (Buffer, error) {
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: channel count %d", ErrMalformedFrame, channels)
	}
	stride := 2 * channels
	if len(raw)%stride != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedFrame, len(raw), stride)
	}

	frames := len(raw) / stride
	out := Buffer{Channels: make([][]float32, channels), SampleRate: sampleRate}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := i*stride + 2*ch
			v := int16(binary.LittleEndian.Uint16(raw[off:]))
			out.Channels[ch][i] = float32(float64(v) / scale)
		}
	}
	return out, nil
}

// SamplesFromPCM16 converts little-endian mono PCM into floats. A trailing odd byte is ignored.
func SamplesFromPCM16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		out[i] = float32(float64(v) / scale)
	}
	return out
}

// EncodeBase64 is standard padded base64.
func EncodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeBase64 reverses EncodeBase64. Failures wrap ErrMalformedFrame.
func DecodeBase64(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return raw, nil
}

// ParseRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000", returning fallback when absent or invalid.
func ParseRate(mimeType string, fallback int) int {
	for _, part := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || rate <= 0 {
			return fallback
		}
		return rate
	}
	return fallback
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
