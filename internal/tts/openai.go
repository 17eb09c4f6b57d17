package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAISynth struct {
	client *openai.Client
	model  string
	voice  string
	speed  float64
}

func NewOpenAISynth(cfg config.TTSConfig) Synthesizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAISynth{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		voice:  cfg.Voice,
		speed:  cfg.Speed,
	}
}

func (s *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          s.speed,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	payload, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fmt.Errorf("read speech body: %w", err)
	}
	samples, rate, err := audio.DecodeWAV(payload)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Samples: samples, SampleRate: rate}, nil
}
