package vad

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// Model is an external frame-level speech classifier. Implementations may
// carry recurrent state between calls; Reset clears it.
type Model interface {
	Predict(samples []float32, sampleRate int) (float32, error)
	Reset()
}

// Classifier scores one frame as a speech probability in [0,1].
type Classifier interface {
	Score(frame audio.Frame) float64
	Reset()
}

// Adapter wraps a Model as a Classifier. Probabilities are clamped and a
// model error scores the frame as non-speech.
type Adapter struct {
	model Model
	log   *slog.Logger
}

func NewAdapter(model Model, log *slog.Logger) *Adapter {
	return &Adapter{model: model, log: log.With(slog.String("component", "vad-adapter"))}
}

func (a *Adapter) Score(frame audio.Frame) float64 {
	if len(frame.Samples) == 0 {
		return 0
	}
	p, err := a.model.Predict(audio.Float32(frame.Samples), frame.SampleRate)
	if err != nil {
		a.log.Warn("vad model predict failed", slog.String("error", err.Error()), slog.Int64("sequence", frame.Sequence))
		return 0
	}
	v := float64(p)
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func (a *Adapter) Reset() { a.model.Reset() }

// EnergyModel maps frame RMS onto a probability with a linear ramp between
// floor and ceiling. It is stateless.
type EnergyModel struct {
	Floor   float64
	Ceiling float64
}

func (m EnergyModel) Predict(samples []float32, _ int) (float32, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	switch {
	case rms <= m.Floor:
		return 0, nil
	case rms >= m.Ceiling:
		return 1, nil
	}
	return float32((rms - m.Floor) / (m.Ceiling - m.Floor)), nil
}

func (m EnergyModel) Reset() {}

// NewClassifier builds the configured classifier. Each call returns an
// independent instance so the interrupt monitor never shares model state
// with the conversational segmenter.
func NewClassifier(cfg config.VADConfig, log *slog.Logger) (Classifier, error) {
	switch cfg.Model {
	case "energy", "":
		return NewAdapter(EnergyModel{Floor: cfg.EnergyFloor, Ceiling: cfg.EnergyCeiling}, log), nil
	default:
		return nil, fmt.Errorf("unsupported vad model %q", cfg.Model)
	}
}
