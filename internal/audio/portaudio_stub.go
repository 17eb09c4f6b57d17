//go:build !portaudio

package audio

import "context"

// PortAudio is unavailable in this build; every operation reports ErrNoPortAudio.
type PortAudio struct{}

func OpenPortAudio(Format) (*PortAudio, error) {
	return nil, &DeviceError{Op: "initialize", Err: ErrNoPortAudio}
}

func (p *PortAudio) Close() error { return nil }

func (p *PortAudio) OpenCapture(context.Context) (Capture, error) {
	return nil, &DeviceError{Op: "open input", Err: ErrNoPortAudio}
}

func (p *PortAudio) Play(context.Context, []int16, int) error {
	return &DeviceError{Op: "open output", Err: ErrNoPortAudio}
}
