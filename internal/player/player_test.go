package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/vad"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeOutput struct {
	mu        sync.Mutex
	active    int
	maxActive int
	completed int
	cancelled int
}

func (f *fakeOutput) Play(ctx context.Context, samples []int16, sampleRate int) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	timer := time.NewTimer(audio.SamplesDuration(len(samples), sampleRate))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		f.mu.Lock()
		f.cancelled++
		f.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
	}
	f.mu.Lock()
	f.completed++
	f.mu.Unlock()
	return nil
}

// fakeMic hands every tap the same pre-recorded frames.
type fakeMic struct {
	frames []audio.Frame
}

func (m *fakeMic) Tap(size int) (<-chan audio.Frame, func()) {
	ch := make(chan audio.Frame, size)
	for _, f := range m.frames {
		select {
		case ch <- f:
		default:
		}
	}
	return ch, func() {}
}

type alwaysSpeech struct{}

func (alwaysSpeech) ContainsSpeech([]audio.Frame) bool { return true }

type fixedRecognizer struct{ text string }

func (r fixedRecognizer) Transcribe(ctx context.Context, _ []int16, _ int) (stt.Transcript, error) {
	return stt.Transcript{Text: r.text}, nil
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, tts.SynthRequest) (tts.Audio, error) {
	return tts.Audio{}, errors.New("engine offline")
}

func micFrames(n int) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = audio.Frame{Sequence: int64(i + 1), SampleRate: 16000, Samples: make([]int16, 1024)}
	}
	return frames
}

func newPlayer(out audio.Playback, heard string) *Player {
	cfg := config.Default()
	return New(
		tts.NewMockSynth(16000),
		out,
		&fakeMic{frames: micFrames(5)},
		alwaysSpeech{},
		fixedRecognizer{text: heard},
		NewMatcher(cfg.Interrupt.Words, cfg.Interrupt.Similarity),
		OptionsFromConfig(cfg),
		newLogger(),
	)
}

func TestInterruptWordCancelsPlayback(t *testing.T) {
	out := &fakeOutput{}
	p := newPlayer(out, "Stop.")
	start := time.Now()
	interrupted, err := p.PlayInterruptible(context.Background(), "This is a rather long answer that would take a few seconds to read aloud in full.")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !interrupted {
		t.Fatalf("expected playback to be interrupted")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected prompt cancellation, took %s", elapsed)
	}
	if out.cancelled != 1 || out.completed != 0 {
		t.Fatalf("expected device stopped, cancelled=%d completed=%d", out.cancelled, out.completed)
	}
}

func TestNonInterruptSpeechLetsPlaybackFinish(t *testing.T) {
	out := &fakeOutput{}
	p := newPlayer(out, "the weather is lovely this afternoon")
	interrupted, err := p.PlayInterruptible(context.Background(), "Short one.")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if interrupted {
		t.Fatalf("expected playback to complete")
	}
	if out.completed != 1 {
		t.Fatalf("expected one completed buffer, got %d", out.completed)
	}
}

func TestAtMostOneSessionAtATime(t *testing.T) {
	out := &fakeOutput{}
	p := newPlayer(out, "")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.PlayInterruptible(context.Background(), "Hello."); err != nil {
				t.Errorf("play: %v", err)
			}
		}()
	}
	wg.Wait()
	if out.maxActive != 1 {
		t.Fatalf("expected one active session at a time, saw %d", out.maxActive)
	}
	if p.Sessions() != 4 || out.completed != 4 {
		t.Fatalf("expected 4 sessions, got sessions=%d completed=%d", p.Sessions(), out.completed)
	}
}

func TestSynthesisFailurePlaysNothing(t *testing.T) {
	out := &fakeOutput{}
	p := New(failingSynth{}, out, nil, nil, nil, nil, Options{}, newLogger())
	_, err := p.PlayInterruptible(context.Background(), "Hello.")
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if out.completed+out.cancelled != 0 {
		t.Fatalf("expected no playback after synthesis failure")
	}
}

func TestCallerCancellationReleasesDevice(t *testing.T) {
	out := &fakeOutput{}
	p := New(tts.NewMockSynth(16000), out, nil, nil, nil, nil, Options{}, newLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	interrupted, err := p.PlayInterruptible(ctx, "A sentence long enough to outlast the deadline by a wide margin.")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if interrupted {
		t.Fatalf("caller cancellation is not an interrupt")
	}
	if out.active != 0 {
		t.Fatalf("expected device released")
	}
}

func TestTraceHooks(t *testing.T) {
	var started, ended int
	ctx := WithTrace(context.Background(), &Trace{
		SessionStarted: func(text string, expected time.Duration) {
			if expected <= 0 {
				t.Errorf("expected positive duration")
			}
			started++
		},
		SessionEnded: func(text string, interrupted bool) { ended++ },
	})
	p := New(tts.NewMockSynth(16000), &fakeOutput{}, nil, nil, nil, nil, Options{}, newLogger())
	if _, err := p.PlayFiller(ctx, "One moment."); err != nil {
		t.Fatalf("play: %v", err)
	}
	if started != 1 || ended != 1 {
		t.Fatalf("expected hooks once, got started=%d ended=%d", started, ended)
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher(config.Default().Interrupt.Words, 0.7)
	matches := []string{"Stop!", "okay okay", "please wait", "stap", "Shush.", "QUIET"}
	for _, text := range matches {
		if _, ok := m.Match(text); !ok {
			t.Fatalf("expected %q to match", text)
		}
	}
	misses := []string{"", "hello there", "the cat sat on the mat", "sh"}
	for _, text := range misses {
		if w, ok := m.Match(text); ok {
			t.Fatalf("expected %q not to match, got %q", text, w)
		}
	}
	// Fuzzy matching applies only to short utterances.
	if _, ok := m.Match("could you please stap talking now"); ok {
		t.Fatalf("expected long utterance typo not to match")
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("stop", "stop"); s != 1 {
		t.Fatalf("expected 1, got %v", s)
	}
	if s := Similarity("stap", "stop"); s != 0.75 {
		t.Fatalf("expected 0.75, got %v", s)
	}
}

// countingRecognizer reports how often the monitor asked for a transcript.
type countingRecognizer struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (r *countingRecognizer) Transcribe(ctx context.Context, _ []int16, _ int) (stt.Transcript, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return stt.Transcript{Text: r.text}, nil
}

func TestInterruptSpanningWindowBoundary(t *testing.T) {
	cfg := config.Default()
	classifier, err := vad.NewClassifier(cfg.VAD, newLogger())
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	// The conversational options need 250ms of speech inside one check,
	// more than either 300ms window holds on its own here.
	detector := vad.NewSegmenter(vad.OptionsFromConfig(cfg.VAD, cfg.Audio), classifier)

	frames := micFrames(10)
	for i := 3; i <= 7; i++ {
		loud := make([]int16, 1024)
		for j := range loud {
			loud[j] = 8000
		}
		frames[i].Samples = loud
	}

	out := &fakeOutput{}
	rec := &countingRecognizer{text: "stop"}
	p := New(
		tts.NewMockSynth(16000),
		out,
		&fakeMic{frames: frames},
		detector,
		rec,
		NewMatcher(cfg.Interrupt.Words, cfg.Interrupt.Similarity),
		OptionsFromConfig(cfg),
		newLogger(),
	)

	start := time.Now()
	interrupted, err := p.PlayInterruptible(context.Background(), "This is a rather long answer that would take a few seconds to read aloud in full.")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !interrupted {
		t.Fatalf("expected speech across the window boundary to interrupt playback")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected prompt cancellation, took %s", elapsed)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 1 {
		t.Fatalf("expected one transcription, got %d", rec.calls)
	}
}

func TestSilentMicNeverTranscribes(t *testing.T) {
	cfg := config.Default()
	classifier, err := vad.NewClassifier(cfg.VAD, newLogger())
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	detector := vad.NewSegmenter(vad.OptionsFromConfig(cfg.VAD, cfg.Audio).ForWindow(300*time.Millisecond), classifier)
	rec := &countingRecognizer{text: "stop"}
	p := New(tts.NewMockSynth(16000), &fakeOutput{}, &fakeMic{frames: micFrames(10)}, detector, rec,
		NewMatcher(cfg.Interrupt.Words, cfg.Interrupt.Similarity), OptionsFromConfig(cfg), newLogger())

	interrupted, err := p.PlayInterruptible(context.Background(), "Short one.")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if interrupted {
		t.Fatalf("expected silent mic to leave playback alone")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 0 {
		t.Fatalf("expected no transcription for silence, got %d", rec.calls)
	}
}
