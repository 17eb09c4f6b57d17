package llm

import (
	"context"
	"strings"
	"time"
)

const mockTokenDelay = 5 * time.Millisecond

type mockGenerator struct {
	reply string
}

// NewMockGenerator streams an echo of the prompt word by word.
func NewMockGenerator() Generator { return &mockGenerator{} }

// NewScriptedGenerator streams reply word by word regardless of the prompt.
func NewScriptedGenerator(reply string) Generator { return &mockGenerator{reply: reply} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	content := m.reply
	if content == "" {
		content = "You said " + strings.TrimSpace(req.Prompt) + "."
	}
	start := time.Now()
	words := strings.SplitAfter(content, " ")
	for i, w := range words {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(mockTokenDelay):
		}
		if err := consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          w,
			Partial:          i < len(words)-1,
			CompletionTokens: i + 1,
			Latency:          time.Since(start),
			TraceID:          req.TraceID,
		}); err != nil {
			return err
		}
	}
	return nil
}
