package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/hotwindow"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.HTTP.Port = 0
	cfg.Audio.Mode = "mock"
	cfg.Trigger.Mode = "always"
	cfg.Trigger.ListenTimeoutMS = 200
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func TestHealthAndReadiness(t *testing.T) {
	rt := New(config.Default(), newLogger())

	rec := httptest.NewRecorder()
	rt.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestTurnsWithoutJournal(t *testing.T) {
	rt := New(config.Default(), newLogger())
	rec := httptest.NewRecorder()
	rt.handleTurns(rec, httptest.NewRequest(http.MethodGet, "/turns", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHotWindowObserverPublishesTransitions(t *testing.T) {
	var (
		mu  sync.Mutex
		got []events.Event
	)
	pub := events.Func(func(_ context.Context, ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	window := hotwindow.New(20*time.Millisecond, hotWindowObserver(context.Background(), pub))
	expired := window.Activate()
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatalf("window never expired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %+v", got)
	}
	if got[0].Type != events.HotWindowActive || got[1].Type != events.HotWindowExpired {
		t.Fatalf("unexpected event order %+v", got)
	}
	if got[1].Cause != string(hotwindow.ReasonExpired) {
		t.Fatalf("expected expiry cause, got %q", got[1].Cause)
	}
}

func TestHotWindowObserverDistinguishesCancellation(t *testing.T) {
	var (
		mu  sync.Mutex
		got []events.Type
	)
	pub := events.Func(func(_ context.Context, ev events.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	window := hotwindow.New(time.Minute, hotWindowObserver(context.Background(), pub))
	window.Activate()
	if !window.Cancel() {
		t.Fatalf("expected an active window to cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []events.Type{events.HotWindowActive, events.HotWindowCancelled}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestOpenAudioRejectsUnknownMode(t *testing.T) {
	if _, _, _, err := openAudio("alsa", audio.Format{SampleRate: 16000, FrameDuration: 64 * time.Millisecond}); err == nil {
		t.Fatalf("expected error for unknown audio mode")
	}
}

func TestStartServesUntilCancelled(t *testing.T) {
	rt := New(testConfig(t), newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for !rt.ready.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("runtime never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + rt.Addr() + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + rt.Addr() + "/turns")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	var turns []eventstore.Turn
	if err := json.NewDecoder(resp.Body).Decode(&turns); err != nil {
		t.Fatalf("decode turns: %v", err)
	}
	resp.Body.Close()
	if len(turns) != 0 {
		t.Fatalf("expected no turns on silent input, got %d", len(turns))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runtime did not stop")
	}
}
