package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

// ErrSynthesis marks a sentence that could not be synthesized. Nothing is
// played for it.
var ErrSynthesis = errors.New("speech synthesis failed")

const monitorTapFrames = 32

// Tapper hands out secondary frame streams from the single capture owner.
type Tapper interface {
	Tap(size int) (<-chan audio.Frame, func())
}

// Detector judges whether a short window of frames holds speech. It must be
// an instance the conversational segmenter does not share.
type Detector interface {
	ContainsSpeech(frames []audio.Frame) bool
}

type Options struct {
	Voice     string
	Interrupt bool
	Window    time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Voice:     cfg.TTS.Voice,
		Interrupt: cfg.Interrupt.Enabled,
		Window:    time.Duration(cfg.Interrupt.WindowMS) * time.Millisecond,
	}
}

// Player plays one sentence at a time and listens for interrupt words while
// it does.
type Player struct {
	synth    tts.Synthesizer
	out      audio.Playback
	mic      Tapper
	detector Detector
	stt      stt.Recognizer
	matcher  *Matcher
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	sessions atomic.Int64
}

// New builds a player. mic, detector and recognizer may be nil, in which
// case playback is never interrupted.
func New(synth tts.Synthesizer, out audio.Playback, mic Tapper, detector Detector, recognizer stt.Recognizer, matcher *Matcher, opts Options, logger *slog.Logger) *Player {
	return &Player{
		synth:    synth,
		out:      out,
		mic:      mic,
		detector: detector,
		stt:      recognizer,
		matcher:  matcher,
		opts:     opts,
		logger:   logger.With(slog.String("component", "player")),
	}
}

// PlayInterruptible synthesizes and plays text, returning true if an
// interrupt word cut it short. The output device is released before it
// returns.
func (p *Player) PlayInterruptible(ctx context.Context, text string) (bool, error) {
	return p.play(ctx, tts.SynthRequest{Text: text, Voice: p.opts.Voice})
}

// PlayFiller plays a short latency-masking phrase whose audio may be cached.
func (p *Player) PlayFiller(ctx context.Context, text string) (bool, error) {
	return p.play(ctx, tts.SynthRequest{Text: text, Voice: p.opts.Voice, Cache: true})
}

// Sessions returns the number of playback sessions started.
func (p *Player) Sessions() int64 { return p.sessions.Load() }

func (p *Player) play(ctx context.Context, req tts.SynthRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	speech, err := p.synth.Synthesize(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if len(speech.Samples) == 0 {
		return false, nil
	}

	expected := speech.Duration()
	trace := traceFrom(ctx)
	if trace != nil && trace.SessionStarted != nil {
		trace.SessionStarted(req.Text, expected)
	}
	p.sessions.Add(1)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		interrupted atomic.Bool
		wg          sync.WaitGroup
	)
	if p.monitoring() {
		frames, release := p.mic.Tap(monitorTapFrames)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()
			if word, ok := p.monitor(sessionCtx, frames); ok {
				p.logger.Info("interrupt detected", slog.String("word", word), slog.String("sentence", req.Text))
				interrupted.Store(true)
				cancel()
			}
		}()
	}

	playErr := p.out.Play(sessionCtx, speech.Samples, speech.SampleRate)
	cancel()
	wg.Wait()

	wasInterrupted := interrupted.Load()
	if trace != nil && trace.SessionEnded != nil {
		trace.SessionEnded(req.Text, wasInterrupted)
	}
	switch {
	case wasInterrupted:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case playErr != nil:
		return false, playErr
	}
	p.logger.Debug("sentence played", slog.Duration("expected", expected))
	return false, nil
}

func (p *Player) monitoring() bool {
	return p.opts.Interrupt && p.mic != nil && p.detector != nil && p.stt != nil && p.matcher != nil && p.opts.Window > 0
}

// monitor accumulates windows of microphone audio and checks each one that
// contains speech against the interrupt vocabulary. Every check also covers
// the previous window, so a word spoken across a window boundary is judged
// as one burst.
func (p *Player) monitor(ctx context.Context, frames <-chan audio.Frame) (string, bool) {
	var (
		window []audio.Frame
		carry  []audio.Frame
		filled time.Duration
	)
	for {
		select {
		case <-ctx.Done():
			return "", false
		case frame, ok := <-frames:
			if !ok {
				return "", false
			}
			window = append(window, frame)
			filled += frame.Duration()
			if filled < p.opts.Window {
				continue
			}
			batch := make([]audio.Frame, 0, len(carry)+len(window))
			batch = append(append(batch, carry...), window...)
			carry = window
			window = nil
			filled = 0
			if !p.detector.ContainsSpeech(batch) {
				continue
			}
			result, err := p.stt.Transcribe(ctx, audio.Concat(batch), batch[0].SampleRate)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Debug("interrupt transcription failed", slogError(err))
				}
				continue
			}
			if word, ok := p.matcher.Match(result.Text); ok {
				return word, true
			}
		}
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
