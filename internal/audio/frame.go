package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Format describes mono 16-bit PCM framing.
type Format struct {
	SampleRate    int
	FrameDuration time.Duration
}

// SamplesPerFrame returns the number of samples in one frame.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// Frame is a fixed-duration slice of mono samples. Frames are treated as
// immutable once captured.
type Frame struct {
	Sequence   int64
	SampleRate int
	Samples    []int16
	Captured   time.Time
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a sample count to wall time.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// Concat joins the samples of frames in order.
func Concat(frames []Frame) []int16 {
	total := 0
	for _, f := range frames {
		total += len(f.Samples)
	}
	out := make([]int16, 0, total)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Float32 normalizes samples into [-1, 1].
func Float32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// RMS returns the root-mean-square level of samples normalized into [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCM16LE encodes samples as little-endian bytes.
func PCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FromPCM16LE decodes little-endian bytes. A trailing odd byte is ignored.
func FromPCM16LE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
