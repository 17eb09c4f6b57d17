package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	Tier        string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend. Generate delivers chunks in
// order; a consumer error stops generation and is returned unchanged.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// RequestFromConfig builds a request for tier using configured defaults.
func RequestFromConfig(cfg config.LLMConfig, tier, prompt string) Request {
	return Request{
		Prompt:      prompt,
		System:      cfg.SystemPrompt,
		Tier:        tier,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// New builds the configured generator.
func New(cfg config.LLMConfig) (Generator, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, Models{Fast: cfg.ModelFast, Balanced: cfg.ModelBalanced, Deep: cfg.ModelDeep}, timeout), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		return NewOpenAIGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

// Models maps routing tiers onto backend model names.
type Models struct {
	Fast     string
	Balanced string
	Deep     string
}

func (m Models) forTier(tier, fallback string) string {
	switch tier {
	case "fast":
		if m.Fast != "" {
			return m.Fast
		}
	case "balanced":
		if m.Balanced != "" {
			return m.Balanced
		}
	case "deep":
		if m.Deep != "" {
			return m.Deep
		}
	}
	if m.Balanced != "" {
		return m.Balanced
	}
	if m.Fast != "" {
		return m.Fast
	}
	return fallback
}
