package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAIGenerator struct {
	client *openai.Client
	models Models
}

func NewOpenAIGenerator(cfg config.LLMConfig) Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		models: Models{Fast: cfg.ModelFast, Balanced: cfg.ModelBalanced, Deep: cfg.ModelDeep},
	}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.models.forTier(req.Tier, openai.GPT4oMini),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("openai chat stream: %w", err)
	}
	defer stream.Close()

	start := time.Now()
	var completion int
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return consumer(Chunk{SessionID: req.SessionID, CompletionTokens: completion, Latency: time.Since(start), TraceID: req.TraceID})
		}
		if err != nil {
			return fmt.Errorf("openai chat recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		completion++
		if err := consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          delta,
			Partial:          true,
			CompletionTokens: completion,
			Latency:          time.Since(start),
			TraceID:          req.TraceID,
		}); err != nil {
			return err
		}
	}
}
