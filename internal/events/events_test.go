package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMultiStampsAndFansOut(t *testing.T) {
	var got []Event
	rec := Func(func(_ context.Context, ev Event) { got = append(got, ev) })
	Multi{rec, nil, Nop{}, rec}.Publish(context.Background(), Event{Type: TurnCompleted})
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be filled in")
	}
}

func TestBroadcasterStreamsToWebsocketClients(t *testing.T) {
	b := NewBroadcaster(newLogger())
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(context.Background(), Event{Type: TurnRouted, TurnID: "t1", Tier: "deep"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != TurnRouted || ev.TurnID != "t1" || ev.Tier != "deep" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewBroadcaster(newLogger())
	c := &client{send: make(chan []byte, 1)}
	b.clients[c] = struct{}{}
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), Event{Type: SpeechStarted})
	}
	if len(c.send) != 1 {
		t.Fatalf("expected buffer to stay bounded, got %d", len(c.send))
	}
}
