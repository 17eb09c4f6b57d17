package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedCapture struct {
	frames []Frame
	fail   error
}

func (s *scriptedCapture) Read(ctx context.Context) (Frame, error) {
	if len(s.frames) == 0 {
		if s.fail != nil {
			return Frame{}, s.fail
		}
		<-ctx.Done()
		return Frame{}, ctx.Err()
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *scriptedCapture) Close() error { return nil }

func frames(start, n int) []Frame {
	out := make([]Frame, n)
	for i := range out {
		out[i] = Frame{Sequence: int64(start + i), SampleRate: 16000, Samples: make([]int16, 16)}
	}
	return out
}

func TestHubFansOutToTapsInOrder(t *testing.T) {
	hub := NewHub(func(context.Context) (Capture, error) {
		return &scriptedCapture{frames: frames(1, 5)}, nil
	}, 16, time.Second, newLogger())

	tap, cancelTap := hub.Tap(16)
	defer cancelTap()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	for i := 1; i <= 5; i++ {
		select {
		case f := <-hub.Frames():
			if f.Sequence != int64(i) {
				t.Fatalf("main: expected sequence %d, got %d", i, f.Sequence)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for main frame %d", i)
		}
		select {
		case f := <-tap:
			if f.Sequence != int64(i) {
				t.Fatalf("tap: expected sequence %d, got %d", i, f.Sequence)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for tap frame %d", i)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if _, ok := <-hub.Frames(); ok {
		t.Fatalf("expected frames channel closed after run")
	}
}

func TestHubReopensFailedDevice(t *testing.T) {
	var opens atomic.Int32
	hub := NewHub(func(context.Context) (Capture, error) {
		n := opens.Add(1)
		if n == 1 {
			return &scriptedCapture{frames: frames(1, 1), fail: errors.New("unplugged")}, nil
		}
		return &scriptedCapture{frames: frames(2, 1)}, nil
	}, 4, 5*time.Second, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	for want := int64(1); want <= 2; want++ {
		select {
		case f := <-hub.Frames():
			if f.Sequence != want {
				t.Fatalf("expected sequence %d, got %d", want, f.Sequence)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for frame %d", want)
		}
	}
	if opens.Load() != 2 {
		t.Fatalf("expected device reopened once, opens=%d", opens.Load())
	}
}

func TestHubGivesUpWithDeviceError(t *testing.T) {
	hub := NewHub(func(context.Context) (Capture, error) {
		return nil, errors.New("no microphone")
	}, 4, 50*time.Millisecond, newLogger())

	err := hub.Run(context.Background())
	if !IsDeviceError(err) {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	samples := []int16{0, 1200, -1200, 32000, -32000, 7}
	if err := WriteWAV(file, samples, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	file.Close()

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	decoded, rate, err := DecodeWAV(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected 16000 Hz, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestFormatSamplesPerFrame(t *testing.T) {
	f := Format{SampleRate: 16000, FrameDuration: 64 * time.Millisecond}
	if got := f.SamplesPerFrame(); got != 1024 {
		t.Fatalf("expected 1024 samples, got %d", got)
	}
	if d := SamplesDuration(1024, 16000); d != 64*time.Millisecond {
		t.Fatalf("expected 64ms, got %s", d)
	}
}
