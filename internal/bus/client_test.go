package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = ""
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, "bus-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishSubscribeJSON(t *testing.T) {
	client := startClient(t)
	if !client.Healthy() {
		t.Fatalf("expected healthy connection")
	}

	got := make(chan protocol.TriggerRequest, 1)
	sub, err := SubscribeJSON(client, protocol.SubjectTrigger, func(_ string, req protocol.TriggerRequest) {
		got <- req
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := client.PublishJSON(protocol.SubjectTrigger, protocol.TriggerRequest{Source: "test", Timestamp: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case req := <-got:
		if req.Source != "test" {
			t.Fatalf("unexpected source %q", req.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestSubscribeSkipsMalformedPayloads(t *testing.T) {
	client := startClient(t)
	got := make(chan protocol.TriggerRequest, 2)
	sub, err := SubscribeJSON(client, "test.malformed", func(_ string, req protocol.TriggerRequest) {
		got <- req
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	_ = client.Conn().Flush()

	if err := client.Conn().Publish("test.malformed", []byte("{not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.PublishJSON("test.malformed", protocol.TriggerRequest{Source: "ok"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case req := <-got:
		if req.Source != "ok" {
			t.Fatalf("expected only the valid message, got %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Servers = nil
	if _, err := Connect(context.Background(), cfg, "bus-test", newLogger()); err == nil {
		t.Fatalf("expected error without servers")
	}
}
