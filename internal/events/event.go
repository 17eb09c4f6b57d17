package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// Type names a pipeline event.
type Type string

const (
	SpeechStarted       Type = "speech.started"
	SpeechEnded         Type = "speech.ended"
	TurnTranscript      Type = "turn.transcript"
	TurnRouted          Type = "turn.routed"
	PlaybackStarted     Type = "playback.started"
	PlaybackInterrupted Type = "playback.interrupted"
	TurnCompleted       Type = "turn.completed"
	HotWindowActive     Type = "hotwindow.active"
	HotWindowExpired    Type = "hotwindow.expired"
	HotWindowCancelled  Type = "hotwindow.cancelled"
	StateChanged        Type = "state.changed"
)

// Metrics are the per-turn latencies in milliseconds. Zero means the stage
// was never reached.
type Metrics struct {
	UtteranceMS  float64 `json:"utterance_ms,omitempty"`
	TranscribeMS float64 `json:"transcribe_ms,omitempty"`
	FirstTokenMS float64 `json:"first_token_ms,omitempty"`
	FirstAudioMS float64 `json:"first_audio_ms,omitempty"`
	TotalMS      float64 `json:"total_ms,omitempty"`
	Sentences    int     `json:"sentences,omitempty"`
}

// Event is one observable step of the pipeline. Text is omitted by
// publishers that persist data.
type Event struct {
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TurnID     string    `json:"turn_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	State      string    `json:"state,omitempty"`
	Metrics    *Metrics  `json:"metrics,omitempty"`
}

// Publisher receives pipeline events. Publish must not block the pipeline
// and reports failures through its own logging.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// BusPublisher publishes events as JSON on voice.event.<type>.
type BusPublisher struct {
	client *bus.Client
	log    *slog.Logger
}

func NewBusPublisher(client *bus.Client, log *slog.Logger) *BusPublisher {
	return &BusPublisher{client: client, log: log.With(slog.String("component", "event-bus"))}
}

func (b *BusPublisher) Publish(_ context.Context, ev Event) {
	if b == nil || b.client == nil {
		return
	}
	if err := b.client.PublishJSON(protocol.EventSubject(string(ev.Type)), ev); err != nil {
		b.log.Warn("failed to publish event", slog.String("type", string(ev.Type)), slogError(err))
	}
}

// Func adapts a function to Publisher.
type Func func(ctx context.Context, ev Event)

func (f Func) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
