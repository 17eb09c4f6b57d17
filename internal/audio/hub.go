package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Hub is the single owner of the capture device. It delivers every frame to
// the main consumer channel and copies frames to any active taps, so the
// interrupt monitor never opens a second device handle.
type Hub struct {
	open       CaptureOpener
	log        *slog.Logger
	frames     chan Frame
	maxElapsed time.Duration

	mu      sync.Mutex
	taps    map[int]chan Frame
	nextTap int
	done    bool

	dropped atomic.Int64
}

func NewHub(open CaptureOpener, bufferFrames int, maxElapsed time.Duration, log *slog.Logger) *Hub {
	if bufferFrames <= 0 {
		bufferFrames = 1
	}
	return &Hub{
		open:       open,
		log:        log.With(slog.String("component", "capture-hub")),
		frames:     make(chan Frame, bufferFrames),
		maxElapsed: maxElapsed,
		taps:       make(map[int]chan Frame),
	}
}

// Frames is the main single-consumer frame stream. It is closed when Run returns.
func (h *Hub) Frames() <-chan Frame {
	return h.frames
}

// Tap registers a secondary consumer. Frames are dropped for a tap whose
// buffer is full. The returned func unregisters and closes the tap.
func (h *Hub) Tap(size int) (<-chan Frame, func()) {
	if size <= 0 {
		size = 1
	}
	ch := make(chan Frame, size)
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextTap
	h.nextTap++
	h.taps[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.taps[id]; ok {
				delete(h.taps, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Dropped returns the number of main-channel frames discarded because the
// consumer fell behind.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run reads the device until ctx is cancelled. A failing device is reopened
// with exponential backoff; Run returns a DeviceError once reopening gives up.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	capture, err := h.reopen(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for {
		frame, err := capture.Read(ctx)
		if err != nil {
			_ = capture.Close()
			if ctx.Err() != nil {
				return nil
			}
			h.log.Warn("capture read failed, reopening", slogError(err))
			capture, err = h.reopen(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}
		h.dispatch(frame)
	}
}

func (h *Hub) reopen(ctx context.Context) (Capture, error) {
	opts := []backoff.RetryOption{backoff.WithBackOff(backoff.NewExponentialBackOff())}
	if h.maxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(h.maxElapsed))
	}
	capture, err := backoff.Retry(ctx, func() (Capture, error) {
		c, err := h.open(ctx)
		if err != nil {
			h.log.Warn("capture open failed", slogError(err))
		}
		return c, err
	}, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsDeviceError(err) {
			return nil, err
		}
		return nil, &DeviceError{Op: "open capture", Err: err}
	}
	return capture, nil
}

func (h *Hub) dispatch(frame Frame) {
	select {
	case h.frames <- frame:
	default:
		// Consumer is behind: drop the oldest queued frame to keep latency bounded.
		select {
		case <-h.frames:
			h.dropped.Add(1)
		default:
		}
		select {
		case h.frames <- frame:
		default:
			h.dropped.Add(1)
		}
	}

	h.mu.Lock()
	for _, tap := range h.taps {
		select {
		case tap <- frame:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.done = true
	for id, tap := range h.taps {
		close(tap)
		delete(h.taps, id)
	}
	h.mu.Unlock()
	close(h.frames)
}

// Drain discards frames already queued on ch without blocking.
func Drain(ch <-chan Frame) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
