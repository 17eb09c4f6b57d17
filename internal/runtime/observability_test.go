package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
	"go.opentelemetry.io/otel"
)

func TestSpanExporterSelection(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Telemetry

	exp, kind, err := spanExporter(ctx, cfg)
	if err != nil || exp != nil || kind != spansNone {
		t.Fatalf("expected no span export at info level, got %v %q %v", exp, kind, err)
	}

	cfg.LogLevel = "DEBUG"
	exp, kind, err = spanExporter(ctx, cfg)
	if err != nil || exp == nil || kind != spansStderr {
		t.Fatalf("expected stderr spans at debug level, got %q %v", kind, err)
	}
	_ = exp.Shutdown(ctx)
}

func TestObservabilityServesTurnMetrics(t *testing.T) {
	ctx := context.Background()
	obs, err := installObservability(ctx, config.Default(), newLogger())
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	defer obs.Shutdown(ctx)

	counter, err := otel.Meter("runtime-test").Int64Counter("loqa.voice.turns")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 2)

	rec := httptest.NewRecorder()
	obs.metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"loqa_voice_turns", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}

func TestObservabilityInstallsTwice(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		obs, err := installObservability(ctx, config.Default(), newLogger())
		if err != nil {
			t.Fatalf("install %d: %v", i, err)
		}
		if err := obs.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown %d: %v", i, err)
		}
	}
}
