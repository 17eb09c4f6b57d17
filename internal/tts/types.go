package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// SynthRequest contains parameters to synthesize speech. Cache marks short
// fixed phrases (fillers) whose audio may be reused.
type SynthRequest struct {
	Text  string
	Voice string
	Cache bool
}

// Audio is synthesized mono PCM.
type Audio struct {
	Samples    []int16
	SampleRate int
}

// Duration is the expected playback length.
func (a Audio) Duration() time.Duration {
	return audio.SamplesDuration(len(a.Samples), a.SampleRate)
}

// Synthesizer is the contract for producing audio. Errors are transient I/O failures.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (Audio, error)
}

// New builds the configured synthesizer behind the filler cache.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	var (
		s   Synthesizer
		err error
	)
	switch cfg.Mode {
	case "mock", "":
		s = NewMockSynth(cfg.SampleRate)
	case "exec":
		s, err = NewExecSynth(cfg.Command, cfg.SampleRate)
	case "openai":
		s = NewOpenAISynth(cfg)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if cfg.FillerCacheSize <= 0 {
		return s, nil
	}
	return NewCached(s, cfg.FillerCacheSize)
}
