package trigger

import (
	"log/slog"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Bus fires on every protocol.TriggerRequest published on its subject.
type Bus struct {
	*Manual
	sub *nats.Subscription
	log *slog.Logger
}

func NewBus(client *bus.Client, subject string, log *slog.Logger) (*Bus, error) {
	b := &Bus{Manual: NewManual(), log: log.With(slog.String("component", "bus-trigger"))}
	sub, err := bus.SubscribeJSON(client, subject, func(_ string, req protocol.TriggerRequest) {
		source := req.Source
		if source == "" {
			source = "bus"
		}
		if !b.Fire(source) {
			b.log.Debug("trigger coalesced", slog.String("source", source))
		}
	})
	if err != nil {
		return nil, err
	}
	b.sub = sub
	return b, nil
}

func (b *Bus) Close() error {
	_ = b.Manual.Close()
	if b.sub != nil {
		return b.sub.Drain()
	}
	return nil
}
