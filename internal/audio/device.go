package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Capture yields frames from an input device in capture order.
type Capture interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Playback writes samples to an output device. Play blocks until the samples
// have drained or ctx is cancelled; on cancellation the device output is
// stopped before Play returns ctx.Err().
type Playback interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
}

// CaptureOpener opens a fresh capture handle.
type CaptureOpener func(ctx context.Context) (Capture, error)

// MockDevice paces silent frames in real time and discards playback after
// sleeping for the audio duration. Injected samples replace the silence of
// the next captured frames.
type MockDevice struct {
	format  Format
	mu      sync.Mutex
	pending []int16
	seq     int64
	closed  atomic.Bool
	ticker  *time.Ticker
	played  atomic.Int64
}

func NewMockDevice(format Format) *MockDevice {
	return &MockDevice{format: format, ticker: time.NewTicker(format.FrameDuration)}
}

// Inject queues samples to be returned by subsequent Read calls.
func (m *MockDevice) Inject(samples []int16) {
	m.mu.Lock()
	m.pending = append(m.pending, samples...)
	m.mu.Unlock()
}

func (m *MockDevice) Read(ctx context.Context) (Frame, error) {
	if m.closed.Load() {
		return Frame{}, &DeviceError{Op: "read", Err: ErrClosed}
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-m.ticker.C:
	}
	n := m.format.SamplesPerFrame()
	samples := make([]int16, n)
	m.mu.Lock()
	copied := copy(samples, m.pending)
	m.pending = m.pending[copied:]
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	return Frame{Sequence: seq, SampleRate: m.format.SampleRate, Samples: samples, Captured: time.Now()}, nil
}

func (m *MockDevice) Play(ctx context.Context, samples []int16, sampleRate int) error {
	if m.closed.Load() {
		return &DeviceError{Op: "play", Err: ErrClosed}
	}
	timer := time.NewTimer(SamplesDuration(len(samples), sampleRate))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	m.played.Add(1)
	return nil
}

// Played returns the number of buffers that drained completely.
func (m *MockDevice) Played() int64 { return m.played.Load() }

func (m *MockDevice) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.ticker.Stop()
	}
	return nil
}
