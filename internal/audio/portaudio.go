//go:build portaudio

package audio

import (
	"context"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const playbackChunkSamples = 1024

// PortAudio owns the host audio API. Capture streams are opened through
// OpenCapture so the Hub can reopen them; playback opens one output stream
// per Play call and never more than one at a time.
type PortAudio struct {
	format Format
	playMu sync.Mutex
}

func OpenPortAudio(format Format) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Op: "initialize", Err: err}
	}
	return &PortAudio{format: format}, nil
}

func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

type portAudioCapture struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int
	seq    int64
}

// OpenCapture opens the default input device. It satisfies CaptureOpener.
func (p *PortAudio) OpenCapture(_ context.Context) (Capture, error) {
	buf := make([]int16, p.format.SamplesPerFrame())
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.format.SampleRate), len(buf), buf)
	if err != nil {
		return nil, &DeviceError{Op: "open input", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &DeviceError{Op: "start input", Err: err}
	}
	return &portAudioCapture{stream: stream, buf: buf, rate: p.format.SampleRate}, nil
}

func (c *portAudioCapture) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if err := c.stream.Read(); err != nil {
		return Frame{}, &DeviceError{Op: "read", Err: err}
	}
	c.seq++
	samples := make([]int16, len(c.buf))
	copy(samples, c.buf)
	return Frame{Sequence: c.seq, SampleRate: c.rate, Samples: samples, Captured: time.Now()}, nil
}

func (c *portAudioCapture) Close() error {
	_ = c.stream.Stop()
	return c.stream.Close()
}

func (p *PortAudio) Play(ctx context.Context, samples []int16, sampleRate int) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	buf := make([]int16, playbackChunkSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return &DeviceError{Op: "open output", Err: err}
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return &DeviceError{Op: "start output", Err: err}
	}

	for offset := 0; offset < len(samples); offset += len(buf) {
		if err := ctx.Err(); err != nil {
			_ = stream.Abort()
			return err
		}
		n := copy(buf, samples[offset:])
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			_ = stream.Abort()
			return &DeviceError{Op: "write", Err: err}
		}
	}
	if err := stream.Stop(); err != nil {
		return &DeviceError{Op: "stop output", Err: err}
	}
	return nil
}
