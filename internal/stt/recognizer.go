package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Transcript captures recognizer output and how long recognition took.
type Transcript struct {
	Text       string
	Confidence float64
	Duration   time.Duration
}

// Recognizer abstracts STT backends. Errors are transient I/O failures.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcript, error)
}

// New builds the configured recognizer, wrapped so every transcript carries
// its processing duration.
func New(cfg config.STTConfig) (Recognizer, error) {
	var (
		r   Recognizer
		err error
	)
	switch cfg.Mode {
	case "mock", "":
		r = NewMockRecognizer("")
	case "exec":
		r, err = NewExecRecognizer(cfg)
	case "openai":
		r = NewOpenAIRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return WithTiming(r, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
}

type timed struct {
	inner   Recognizer
	timeout time.Duration
}

// WithTiming measures each call and bounds it by timeout when positive.
func WithTiming(r Recognizer, timeout time.Duration) Recognizer {
	return &timed{inner: r, timeout: timeout}
}

func (t *timed) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcript, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := t.inner.Transcribe(ctx, samples, sampleRate)
	result.Duration = time.Since(start)
	return result, err
}
