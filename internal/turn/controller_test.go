package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/player"
	"github.com/loqalabs/loqa-voice/internal/router"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/vad"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (r *fakeRecognizer) Transcribe(ctx context.Context, samples []int16, rate int) (stt.Transcript, error) {
	r.calls++
	if r.err != nil {
		return stt.Transcript{}, r.err
	}
	return stt.Transcript{Text: r.text, Duration: 5 * time.Millisecond}, nil
}

type fakeClassifier struct {
	tier   router.Tier
	filler string
	calls  int
}

func (c *fakeClassifier) Classify(text string) router.Decision {
	c.calls++
	tier := c.tier
	if tier == "" {
		tier = router.TierFast
	}
	return router.Decision{Tier: tier, Confidence: 0.9}
}

func (c *fakeClassifier) DefaultTier() router.Tier { return router.TierFast }

func (c *fakeClassifier) Filler(tier router.Tier) string { return c.filler }

type fakeGenerator struct {
	tokens   []string
	err      error
	calls    int
	consumed int
}

func (g *fakeGenerator) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	g.calls++
	for i, tok := range g.tokens {
		if err := consumer(llm.Chunk{Content: tok, Partial: i < len(g.tokens)-1}); err != nil {
			return err
		}
		g.consumed++
	}
	return g.err
}

type fakeSpeaker struct {
	mu          sync.Mutex
	played      []string
	interruptOn string
	failOn      string
	fillerErr   error
	calls       int
}

func (s *fakeSpeaker) PlayInterruptible(ctx context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if text == s.failOn {
		return false, fmt.Errorf("%w: engine offline", player.ErrSynthesis)
	}
	s.played = append(s.played, text)
	return text == s.interruptOn, nil
}

func (s *fakeSpeaker) PlayFiller(ctx context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fillerErr != nil {
		return false, s.fillerErr
	}
	s.played = append(s.played, "filler:"+text)
	return false, nil
}

func (s *fakeSpeaker) sentences() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	rec    *fakeRecognizer
	cls    *fakeClassifier
	gen    *fakeGenerator
	spk    *fakeSpeaker
	events *eventLog
	ctrl   *Controller
}

func newFixture(text string, tokens ...string) *fixture {
	f := &fixture{
		rec:    &fakeRecognizer{text: text},
		cls:    &fakeClassifier{},
		gen:    &fakeGenerator{tokens: tokens},
		spk:    &fakeSpeaker{},
		events: &eventLog{},
	}
	f.ctrl = New(Deps{
		Recognizer: f.rec,
		Classifier: f.cls,
		Generator:  f.gen,
		Speaker:    f.spk,
		Events:     f.events,
	}, config.Default().LLM, newLogger())
	return f
}

func utterance() *vad.Utterance {
	frames := make([]audio.Frame, 4)
	for i := range frames {
		frames[i] = audio.Frame{Sequence: int64(i + 1), SampleRate: 16000, Samples: make([]int16, 1024)}
	}
	return &vad.Utterance{Frames: frames, SampleRate: 16000}
}

func TestEmptyTranscriptIsNoSpeech(t *testing.T) {
	f := newFixture("   ")
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeNoSpeech {
		t.Fatalf("expected no speech, got %s", res.Outcome)
	}
	if f.cls.calls != 0 || f.gen.calls != 0 || f.spk.calls != 0 {
		t.Fatalf("expected no classification, generation or synthesis; got %d/%d/%d", f.cls.calls, f.gen.calls, f.spk.calls)
	}
	if res.Cause != nil {
		t.Fatalf("no speech is not an error: %v", res.Cause)
	}
}

func TestEmptyUtteranceSkipsTranscription(t *testing.T) {
	f := newFixture("hello")
	res := f.ctrl.RunTurn(context.Background(), &vad.Utterance{SampleRate: 16000})
	if res.Outcome != OutcomeNoSpeech {
		t.Fatalf("expected no speech, got %s", res.Outcome)
	}
	if f.rec.calls != 0 {
		t.Fatalf("expected transcription to be skipped")
	}
}

func TestCompletedTurnPlaysSentencesInOrder(t *testing.T) {
	f := newFixture("how are you", "Hello ", "there. ", "How are ", "you today?", " Fine")
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", res.Outcome, res.Cause)
	}
	want := []string{"Hello there.", "How are you today?", "Fine"}
	if got := f.spk.sentences(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if res.Sentences != 3 {
		t.Fatalf("expected 3 sentences, got %d", res.Sentences)
	}
	if res.Transcript != "how are you" || res.ID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Metrics.TimeToFirstToken() <= 0 || res.Metrics.Total() < res.Metrics.TimeToFirstToken() {
		t.Fatalf("unexpected metrics %+v", res.Metrics)
	}
	if !res.ActivatesHotWindow() {
		t.Fatalf("completed turn should open the hot window")
	}
}

func TestNonDefaultTierPlaysFillerFirst(t *testing.T) {
	f := newFixture("explain black holes", "Black holes are dense. ", "Very dense.")
	f.cls.tier = router.TierDeep
	f.cls.filler = "Let me think about that."
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", res.Outcome, res.Cause)
	}
	got := f.spk.sentences()
	if len(got) != 3 || got[0] != "filler:Let me think about that." {
		t.Fatalf("expected filler before first sentence, got %q", got)
	}
	if res.Filler == "" || res.Sentences != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDefaultTierPlaysNoFiller(t *testing.T) {
	f := newFixture("what time is it", "Noon.")
	f.cls.filler = "One moment."
	f.ctrl.RunTurn(context.Background(), utterance())
	if got := f.spk.sentences(); len(got) != 1 || got[0] != "Noon." {
		t.Fatalf("expected no filler for default tier, got %q", got)
	}
}

func TestInterruptStopsRemainingSentences(t *testing.T) {
	f := newFixture("tell me a story", "First sentence. ", "Second sentence. ", "Third sentence. ", "Fourth.")
	f.spk.interruptOn = "Second sentence."
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeInterrupted {
		t.Fatalf("expected interrupted, got %s", res.Outcome)
	}
	want := []string{"First sentence.", "Second sentence."}
	if got := f.spk.sentences(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected playback to stop after interrupt, got %q", got)
	}
	if !res.ActivatesHotWindow() {
		t.Fatalf("interrupted turn should open the hot window")
	}
	var sawInterrupt bool
	for _, typ := range f.events.types() {
		if typ == events.PlaybackInterrupted {
			sawInterrupt = true
		}
	}
	if !sawInterrupt {
		t.Fatalf("expected playback.interrupted event, got %v", f.events.types())
	}
}

func TestTranscriptionFailureFailsTurn(t *testing.T) {
	f := newFixture("")
	f.rec.err = errors.New("connection reset")
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeFailed || !errors.Is(res.Cause, ErrTranscriptionFailure) {
		t.Fatalf("expected transcription failure, got %s (%v)", res.Outcome, res.Cause)
	}
	if f.gen.calls != 0 || f.spk.calls != 0 {
		t.Fatalf("expected no generation or playback after failed transcription")
	}
	if res.ActivatesHotWindow() {
		t.Fatalf("failed turn must not open the hot window")
	}
}

func TestGenerationFailureKeepsPlayedSentences(t *testing.T) {
	f := newFixture("question", "One done. ", "Two is cut")
	f.gen.err = errors.New("stream reset")
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeFailed || !errors.Is(res.Cause, ErrGenerationFailure) {
		t.Fatalf("expected generation failure, got %s (%v)", res.Outcome, res.Cause)
	}
	if got := f.spk.sentences(); !reflect.DeepEqual(got, []string{"One done."}) {
		t.Fatalf("expected only the complete sentence played, got %q", got)
	}
}

func TestSynthesisFailureFailsTurn(t *testing.T) {
	f := newFixture("question", "Fine. ", "Broken. ", "Never.")
	f.spk.failOn = "Broken."
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeFailed || !errors.Is(res.Cause, ErrSynthesisFailure) {
		t.Fatalf("expected synthesis failure, got %s (%v)", res.Outcome, res.Cause)
	}
	if got := f.spk.sentences(); !reflect.DeepEqual(got, []string{"Fine."}) {
		t.Fatalf("unexpected playback %q", got)
	}
}

func TestFillerSynthesisFailureIsIgnored(t *testing.T) {
	f := newFixture("plan my week", "Sure.")
	f.cls.tier = router.TierDeep
	f.cls.filler = "One moment."
	f.spk.fillerErr = fmt.Errorf("%w: offline", player.ErrSynthesis)
	res := f.ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed despite filler failure, got %s (%v)", res.Outcome, res.Cause)
	}
}

func TestTurnPublishesEvents(t *testing.T) {
	f := newFixture("hi", "Hello.")
	f.ctrl.RunTurn(context.Background(), utterance())
	got := f.events.types()
	want := []events.Type{events.TurnTranscript, events.TurnRouted, events.TurnCompleted}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Outcome != string(OutcomeCompleted) || last.Metrics == nil {
		t.Fatalf("unexpected completion event %+v", last)
	}
}

type countingOutput struct {
	mu        sync.Mutex
	active    int
	maxActive int
}

func (o *countingOutput) Play(ctx context.Context, samples []int16, rate int) error {
	o.mu.Lock()
	o.active++
	if o.active > o.maxActive {
		o.maxActive = o.active
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil
	}
}

func TestRealPlayerRecordsFirstAudioAndSerializesSessions(t *testing.T) {
	out := &countingOutput{}
	p := player.New(tts.NewMockSynth(16000), out, nil, nil, nil, nil, player.Options{}, newLogger())
	cls := &fakeClassifier{tier: router.TierBalanced, filler: "One moment."}
	ctrl := New(Deps{
		Recognizer: &fakeRecognizer{text: "remind me"},
		Classifier: cls,
		Generator:  llm.NewScriptedGenerator("Okay. I will remind you. Anything else?"),
		Speaker:    p,
	}, config.Default().LLM, newLogger())

	res := ctrl.RunTurn(context.Background(), utterance())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s (%v)", res.Outcome, res.Cause)
	}
	if res.Metrics.TimeToFirstAudio() <= 0 {
		t.Fatalf("expected first audio to be recorded")
	}
	if out.maxActive != 1 {
		t.Fatalf("expected at most one playback session at a time, saw %d", out.maxActive)
	}
	if p.Sessions() != 4 {
		t.Fatalf("expected filler plus 3 sentences, got %d sessions", p.Sessions())
	}
}
