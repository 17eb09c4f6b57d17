package trigger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// Request is one manual trigger.
type Request struct {
	Source string
	At     time.Time
}

// Source delivers manual triggers. Pending triggers coalesce: a source
// never queues more than one.
type Source interface {
	C() <-chan Request
	Close() error
}

// New builds the configured trigger source. busClient is required for the
// bus mode; onQuit is called when the keyboard source sees Ctrl-C or Esc.
func New(cfg config.TriggerConfig, busClient *bus.Client, onQuit func(), log *slog.Logger) (Source, error) {
	switch cfg.Mode {
	case "always":
		return NewAlways(), nil
	case "keyboard", "":
		return NewKeyboard(cfg.Key, onQuit, log)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("trigger mode bus requires a bus connection")
		}
		return NewBus(busClient, cfg.Subject, log)
	default:
		return nil, fmt.Errorf("unsupported trigger mode %q", cfg.Mode)
	}
}

// Manual is a Source fired programmatically. It backs the bus source and tests.
type Manual struct {
	ch   chan Request
	once sync.Once
	done chan struct{}
}

func NewManual() *Manual {
	return &Manual{ch: make(chan Request, 1), done: make(chan struct{})}
}

func (m *Manual) C() <-chan Request { return m.ch }

// Fire queues a trigger unless one is already pending. It reports whether
// the trigger was queued.
func (m *Manual) Fire(source string) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ch <- Request{Source: source, At: time.Now()}:
		return true
	default:
		return false
	}
}

func (m *Manual) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// Always triggers every time it is asked, for headless continuous listening.
type Always struct {
	ch chan Request
}

// NewAlways returns a source backed by a closed channel, so a receive
// always succeeds at once with a zero Request.
func NewAlways() *Always {
	ch := make(chan Request)
	close(ch)
	return &Always{ch: ch}
}

func (a *Always) C() <-chan Request { return a.ch }
func (a *Always) Close() error      { return nil }
