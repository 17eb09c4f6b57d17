package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-voice/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAIRecognizer(cfg config.STTConfig) Recognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
	}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcript, error) {
	path, err := writeTempWAV(samples, sampleRate)
	if err != nil {
		return Transcript{}, err
	}
	defer os.Remove(path)

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: r.language,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("openai transcription: %w", err)
	}
	return Transcript{Text: resp.Text}, nil
}
