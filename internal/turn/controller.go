package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/player"
	"github.com/loqalabs/loqa-voice/internal/router"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/loqalabs/loqa-voice/turn"
	sentenceQueue       = 8
)

// errHalted stops the generation stream once playback has ended the turn.
var errHalted = errors.New("playback halted")

// Speaker plays sentences one at a time.
type Speaker interface {
	PlayInterruptible(ctx context.Context, text string) (bool, error)
	PlayFiller(ctx context.Context, text string) (bool, error)
}

// Classifier routes a transcript to a tier and supplies filler phrases.
type Classifier interface {
	Classify(text string) router.Decision
	DefaultTier() router.Tier
	Filler(tier router.Tier) string
}

// Deps are the collaborators of a turn.
type Deps struct {
	Recognizer stt.Recognizer
	Classifier Classifier
	Generator  llm.Generator
	Speaker    Speaker
	Events     events.Publisher
}

// Controller runs conversation turns. Turns are expected to run one at a
// time; the Controller itself keeps no per-turn state.
type Controller struct {
	deps   Deps
	llm    config.LLMConfig
	logger *slog.Logger
	tracer trace.Tracer
	inst   *instruments
}

func New(deps Deps, llmCfg config.LLMConfig, logger *slog.Logger) *Controller {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	c := &Controller{
		deps:   deps,
		llm:    llmCfg,
		logger: logger.With(slog.String("component", "turn-controller")),
		tracer: otel.Tracer(instrumentationName),
	}
	inst, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		c.logger.Warn("failed to initialize turn metrics", slogError(err))
	}
	c.inst = inst
	return c
}

// RunTurn drives one turn from a finalized utterance to the end of playback.
// It never returns an error; failures are reported in the Result.
func (c *Controller) RunTurn(ctx context.Context, utt *vad.Utterance) (res Result) {
	res.ID = uuid.NewString()
	res.Metrics.SegmentationEnd = time.Now()

	ctx, span := c.tracer.Start(ctx, "voice.turn", trace.WithAttributes(attribute.String("turn.id", res.ID)))
	defer func() { c.finish(ctx, span, &res) }()

	if utt.Empty() {
		res.Outcome = OutcomeNoSpeech
		return res
	}
	res.Metrics.Utterance = utt.Duration()

	transcript, err := c.transcribe(ctx, utt)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Cause = fmt.Errorf("%w: %w", ErrTranscriptionFailure, err)
		return res
	}
	res.Metrics.Transcribe = transcript.Duration
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		res.Outcome = OutcomeNoSpeech
		return res
	}
	res.Transcript = text
	c.publish(ctx, events.Event{Type: events.TurnTranscript, TurnID: res.ID, Text: text})

	res.Decision = c.deps.Classifier.Classify(text)
	span.SetAttributes(attribute.String("turn.tier", string(res.Decision.Tier)))
	c.publish(ctx, events.Event{
		Type:       events.TurnRouted,
		TurnID:     res.ID,
		Tier:       string(res.Decision.Tier),
		Confidence: res.Decision.Confidence,
	})
	c.logger.Debug("transcript routed",
		slog.String("turn_id", res.ID),
		slog.String("tier", string(res.Decision.Tier)),
		slog.Float64("confidence", res.Decision.Confidence),
		slog.String("reason", res.Decision.Reason))

	c.respond(ctx, &res)
	return res
}

func (c *Controller) transcribe(ctx context.Context, utt *vad.Utterance) (stt.Transcript, error) {
	ctx, span := c.tracer.Start(ctx, "voice.transcribe")
	defer span.End()
	t, err := c.deps.Recognizer.Transcribe(ctx, utt.Samples(), utt.SampleRate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return t, err
}

type spoken struct {
	text   string
	filler bool
}

// playback is owned by the playback worker until it exits.
type playback struct {
	played      int
	interrupted bool
	err         error
}

// respond streams the generation into the player. A single worker plays
// queued sentences in order, so sentence N+1 never starts before N ends.
func (c *Controller) respond(ctx context.Context, res *Result) {
	var (
		pb       playback
		halt     = make(chan struct{})
		haltOnce sync.Once
		queue    = make(chan spoken, sentenceQueue)
		done     = make(chan struct{})
	)
	stop := func() { haltOnce.Do(func() { close(halt) }) }
	halted := func() bool {
		select {
		case <-halt:
			return true
		default:
			return false
		}
	}

	var firstAudio sync.Once
	playCtx := player.WithTrace(ctx, &player.Trace{
		SessionStarted: func(text string, expected time.Duration) {
			firstAudio.Do(func() { res.Metrics.FirstAudio = time.Now() })
			c.publish(ctx, events.Event{Type: events.PlaybackStarted, TurnID: res.ID, Text: text})
		},
	})

	go func() {
		defer close(done)
		for item := range queue {
			if halted() {
				continue
			}
			play := c.deps.Speaker.PlayInterruptible
			if item.filler {
				play = c.deps.Speaker.PlayFiller
			}
			interrupted, err := play(playCtx, item.text)
			if err != nil {
				if item.filler && errors.Is(err, player.ErrSynthesis) {
					c.logger.Warn("filler synthesis failed", slog.String("turn_id", res.ID), slogError(err))
					continue
				}
				pb.err = err
				stop()
				continue
			}
			if !item.filler {
				pb.played++
			}
			if interrupted {
				pb.interrupted = true
				c.publish(ctx, events.Event{Type: events.PlaybackInterrupted, TurnID: res.ID, Text: item.text})
				stop()
			}
		}
	}()

	enqueue := func(item spoken) bool {
		select {
		case queue <- item:
			return true
		case <-halt:
			return false
		}
	}

	if res.Decision.Tier != c.deps.Classifier.DefaultTier() {
		if filler := c.deps.Classifier.Filler(res.Decision.Tier); filler != "" {
			res.Filler = filler
			enqueue(spoken{text: filler, filler: true})
		}
	}

	genErr := c.generate(ctx, res, halted, func(sentence string) bool {
		return enqueue(spoken{text: sentence})
	})
	close(queue)
	<-done
	res.Sentences = pb.played

	switch {
	case pb.interrupted:
		res.Outcome = OutcomeInterrupted
	case genErr != nil:
		res.Outcome = OutcomeFailed
		res.Cause = genErr
	case pb.err != nil:
		res.Outcome = OutcomeFailed
		if errors.Is(pb.err, player.ErrSynthesis) {
			res.Cause = fmt.Errorf("%w: %w", ErrSynthesisFailure, pb.err)
		} else {
			res.Cause = pb.err
		}
	case ctx.Err() != nil:
		res.Outcome = OutcomeFailed
		res.Cause = ctx.Err()
	default:
		res.Outcome = OutcomeCompleted
	}
}

// generate consumes the token stream, handing each complete sentence to
// emit. The unterminated tail is flushed only when the stream ends cleanly.
func (c *Controller) generate(ctx context.Context, res *Result, halted func() bool, emit func(string) bool) error {
	ctx, span := c.tracer.Start(ctx, "voice.generate", trace.WithAttributes(attribute.String("turn.tier", string(res.Decision.Tier))))
	defer span.End()

	req := llm.RequestFromConfig(c.llm, string(res.Decision.Tier), res.Transcript)
	req.SessionID = res.ID
	req.TraceID = span.SpanContext().TraceID().String()

	var (
		splitter Splitter
		tokens   int
	)
	err := c.deps.Generator.Generate(ctx, req, func(chunk llm.Chunk) error {
		if halted() {
			return errHalted
		}
		if chunk.Content == "" {
			return nil
		}
		tokens++
		if res.Metrics.FirstToken.IsZero() {
			res.Metrics.FirstToken = time.Now()
		}
		for _, sentence := range splitter.Push(chunk.Content) {
			if !emit(sentence) {
				return errHalted
			}
		}
		return nil
	})
	span.SetAttributes(attribute.Int("llm.chunks", tokens))

	switch {
	case errors.Is(err, errHalted):
		return nil
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}
	if rest := splitter.Flush(); rest != "" && !halted() {
		emit(rest)
	}
	return nil
}

func (c *Controller) finish(ctx context.Context, span trace.Span, res *Result) {
	res.Metrics.End = time.Now()

	span.SetAttributes(
		attribute.String("turn.outcome", string(res.Outcome)),
		attribute.Int("turn.sentences", res.Sentences),
	)
	if res.Cause != nil {
		span.RecordError(res.Cause)
		span.SetStatus(codes.Error, res.Cause.Error())
	}
	span.End()

	c.inst.record(ctx, *res)

	ev := events.Event{
		Type:       events.TurnCompleted,
		TurnID:     res.ID,
		Tier:       string(res.Decision.Tier),
		Confidence: res.Decision.Confidence,
		Outcome:    string(res.Outcome),
		Metrics:    res.eventMetrics(),
	}
	if res.Cause != nil {
		ev.Cause = res.Cause.Error()
	}
	c.publish(ctx, ev)

	attrs := []any{
		slog.String("turn_id", res.ID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("tier", string(res.Decision.Tier)),
		slog.Int("sentences", res.Sentences),
		slog.Duration("transcribe", res.Metrics.Transcribe),
		slog.Duration("first_token", res.Metrics.TimeToFirstToken()),
		slog.Duration("first_audio", res.Metrics.TimeToFirstAudio()),
		slog.Duration("total", res.Metrics.Total()),
	}
	if res.Cause != nil {
		attrs = append(attrs, slogError(res.Cause))
		c.logger.Warn("turn failed", attrs...)
		return
	}
	c.logger.Info("turn finished", attrs...)
}

func (c *Controller) publish(ctx context.Context, ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.deps.Events.Publish(ctx, ev)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
