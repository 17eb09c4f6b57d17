package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/hotwindow"
	"github.com/loqalabs/loqa-voice/internal/trigger"
	"github.com/loqalabs/loqa-voice/internal/turn"
	"github.com/loqalabs/loqa-voice/internal/vad"
	"golang.org/x/sync/errgroup"
)

// ErrCaptureStopped is returned when the frame stream ends while the loop
// is still running.
var ErrCaptureStopped = errors.New("capture stopped")

// State is the externally visible conversation state.
type State int32

const (
	StateWaiting State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateHotWindow
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateHotWindow:
		return "hot_window"
	default:
		return "unknown"
	}
}

// FrameSource is the single capture owner.
type FrameSource interface {
	Frames() <-chan audio.Frame
	Run(ctx context.Context) error
}

// Runner executes one turn.
type Runner interface {
	RunTurn(ctx context.Context, utt *vad.Utterance) turn.Result
}

type Options struct {
	// ListenTimeout bounds the wait for speech after a manual trigger.
	ListenTimeout time.Duration
}

// Loop is the single consumer of the frame stream. It waits for a manual
// trigger or listens passively during a hot window, segments one utterance
// and hands it to the turn runner.
type Loop struct {
	source  FrameSource
	seg     *vad.Segmenter
	runner  Runner
	trigger trigger.Source
	window  *hotwindow.Scheduler
	events  events.Publisher
	opts    Options
	logger  *slog.Logger

	state atomic.Int32
	turns atomic.Int64
}

// New builds a loop. window may be nil to disable the hot window.
func New(source FrameSource, seg *vad.Segmenter, runner Runner, trig trigger.Source, window *hotwindow.Scheduler, pub events.Publisher, opts Options, logger *slog.Logger) *Loop {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Loop{
		source:  source,
		seg:     seg,
		runner:  runner,
		trigger: trig,
		window:  window,
		events:  pub,
		opts:    opts,
		logger:  logger.With(slog.String("component", "conversation")),
	}
}

// State returns the current conversation state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Turns returns the number of turns run.
func (l *Loop) Turns() int64 { return l.turns.Load() }

// Publish tracks playback so State reports speaking while audio plays.
func (l *Loop) Publish(_ context.Context, ev events.Event) {
	if ev.Type == events.PlaybackStarted && l.State() == StateProcessing {
		l.state.Store(int32(StateSpeaking))
	}
}

// Run captures and converses until ctx is cancelled or capture fails.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.source.Run(ctx) })
	g.Go(func() error { return l.converse(ctx) })
	return g.Wait()
}

func (l *Loop) converse(ctx context.Context) error {
	frames := l.source.Frames()
	var expired <-chan struct{}
	for {
		var (
			utt *vad.Utterance
			err error
		)
		if expired != nil {
			utt, err = l.passive(ctx, frames, expired)
		} else {
			utt, err = l.manual(ctx, frames)
		}
		expired = nil
		if err != nil {
			l.seg.Reset()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if utt == nil {
			l.seg.Reset()
			continue
		}

		l.setState(ctx, StateProcessing)
		res := l.runner.RunTurn(ctx, utt)
		l.turns.Add(1)

		// Audio captured during the turn is stale, and may hold our own speech.
		l.seg.Reset()
		if n := audio.Drain(frames); n > 0 {
			l.logger.Debug("discarded frames captured during turn", slog.Int("frames", n))
		}
		if ctx.Err() != nil {
			return nil
		}
		if l.window != nil && res.ActivatesHotWindow() {
			expired = l.window.Activate()
		}
	}
}

// manual waits for a trigger while discarding frames, then listens.
func (l *Loop) manual(ctx context.Context, frames <-chan audio.Frame) (*vad.Utterance, error) {
	l.setState(ctx, StateWaiting)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-frames:
			if !ok {
				return nil, ErrCaptureStopped
			}
		case req := <-l.trigger.C():
			if req.Source != "" {
				l.logger.Debug("manual trigger", slog.String("source", req.Source))
			}
			l.seg.Reset()
			audio.Drain(frames)
			return l.listen(ctx, frames, l.opts.ListenTimeout)
		}
	}
}

// passive races speech against hot-window expiry. A manual trigger also
// ends the window and starts a normal listen.
func (l *Loop) passive(ctx context.Context, frames <-chan audio.Frame, expired <-chan struct{}) (*vad.Utterance, error) {
	l.setState(ctx, StateHotWindow)
	l.seg.Reset()
	for {
		select {
		case <-ctx.Done():
			l.window.Cancel()
			return nil, ctx.Err()
		case <-expired:
			l.logger.Debug("hot window expired without speech")
			return nil, nil
		case <-l.trigger.C():
			l.window.Cancel()
			l.seg.Reset()
			audio.Drain(frames)
			return l.listen(ctx, frames, l.opts.ListenTimeout)
		case frame, ok := <-frames:
			if !ok {
				l.window.Cancel()
				return nil, ErrCaptureStopped
			}
			ev := l.seg.Push(frame)
			switch ev.Type {
			case vad.EventSpeechStarted:
				l.window.Cancel()
				l.speechStarted(ctx, ev)
				return l.listen(ctx, frames, 0)
			case vad.EventSpeechEnded:
				// MaxUtterance can end an utterance on the frame that starts it.
				l.window.Cancel()
				l.speechEnded(ctx, ev)
				return ev.Utterance, nil
			}
		}
	}
}

// listen feeds frames to the segmenter until an utterance completes. A
// positive timeout ends the attempt if speech has not started by then.
func (l *Loop) listen(ctx context.Context, frames <-chan audio.Frame, timeout time.Duration) (*vad.Utterance, error) {
	l.setState(ctx, StateListening)
	var timeoutC <-chan time.Time
	if timeout > 0 && l.seg.State() == vad.StateIdle {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutC:
			l.logger.Info("no speech before listen timeout", slog.Duration("timeout", timeout))
			return nil, nil
		case frame, ok := <-frames:
			if !ok {
				return nil, ErrCaptureStopped
			}
			ev := l.seg.Push(frame)
			switch ev.Type {
			case vad.EventSpeechStarted:
				timeoutC = nil
				l.speechStarted(ctx, ev)
			case vad.EventSpeechEnded:
				l.speechEnded(ctx, ev)
				return ev.Utterance, nil
			}
		}
	}
}

func (l *Loop) speechStarted(ctx context.Context, ev vad.Event) {
	l.events.Publish(ctx, events.Event{Type: events.SpeechStarted, Timestamp: ev.At.UTC()})
}

func (l *Loop) speechEnded(ctx context.Context, ev vad.Event) {
	l.events.Publish(ctx, events.Event{
		Type:      events.SpeechEnded,
		Timestamp: ev.At.UTC(),
		Metrics:   &events.Metrics{UtteranceMS: float64(ev.Utterance.Duration()) / float64(time.Millisecond)},
	})
}

func (l *Loop) setState(ctx context.Context, s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	l.events.Publish(ctx, events.Event{Type: events.StateChanged, Timestamp: time.Now().UTC(), State: s.String()})
}
