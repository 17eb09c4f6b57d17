package eventstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/events"
)

const (
	journalBuffer  = 256
	journalTimeout = 2 * time.Second
)

// Journal records pipeline events for one daemon session. Writes happen on
// a background goroutine so publishing never waits on disk. Text fields are
// dropped before anything is stored.
type Journal struct {
	store     *Store
	sessionID string
	log       *slog.Logger
	ch        chan events.Event
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewJournal(ctx context.Context, store *Store, sessionID, nodeID string, log *slog.Logger) (*Journal, error) {
	if err := store.AppendSession(ctx, sessionID, nodeID); err != nil {
		return nil, err
	}
	j := &Journal{
		store:     store,
		sessionID: sessionID,
		log:       log.With(slog.String("component", "turn-journal")),
		ch:        make(chan events.Event, journalBuffer),
	}
	j.wg.Add(1)
	go j.run()
	return j, nil
}

// SessionID identifies this daemon run in the store.
func (j *Journal) SessionID() string { return j.sessionID }

func (j *Journal) Publish(_ context.Context, ev events.Event) {
	if !j.store.Enabled() || !journaled(ev.Type) {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	ev.Text = ""
	select {
	case j.ch <- ev:
	default:
		j.log.Warn("journal buffer full, dropping event", slog.String("type", string(ev.Type)))
	}
}

// Close flushes pending events and stops the writer.
func (j *Journal) Close() {
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()
		j.wg.Wait()
	})
}

func (j *Journal) run() {
	defer j.wg.Done()
	for ev := range j.ch {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := j.write(ctx, ev); err != nil {
			j.log.Warn("failed to journal event", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		}
		cancel()
	}
}

func (j *Journal) write(ctx context.Context, ev events.Event) error {
	if ev.Type == events.TurnCompleted {
		t := Turn{
			TurnID:     ev.TurnID,
			SessionID:  j.sessionID,
			Outcome:    ev.Outcome,
			Tier:       ev.Tier,
			Confidence: ev.Confidence,
			Cause:      ev.Cause,
			CreatedAt:  ev.Timestamp,
		}
		if m := ev.Metrics; m != nil {
			t.UtteranceMS = m.UtteranceMS
			t.TranscribeMS = m.TranscribeMS
			t.FirstTokenMS = m.FirstTokenMS
			t.FirstAudioMS = m.FirstAudioMS
			t.TotalMS = m.TotalMS
			t.Sentences = m.Sentences
		}
		return j.store.AppendTurn(ctx, t)
	}
	detail := ev.Tier
	if ev.State != "" {
		detail = ev.State
	}
	return j.store.AppendEvent(ctx, Event{
		SessionID: j.sessionID,
		TurnID:    ev.TurnID,
		Type:      string(ev.Type),
		Detail:    detail,
		CreatedAt: ev.Timestamp,
	})
}

// journaled filters out high-frequency events that carry no metrics.
func journaled(t events.Type) bool {
	switch t {
	case events.TurnCompleted, events.TurnRouted, events.PlaybackInterrupted,
		events.HotWindowActive, events.HotWindowExpired, events.HotWindowCancelled, events.SpeechEnded:
		return true
	}
	return false
}
