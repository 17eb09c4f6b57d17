package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct {
	text string
}

// NewMockRecognizer returns text for every call, or a length marker when text is empty.
func NewMockRecognizer(text string) Recognizer {
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if m.text != "" {
		return Transcript{Text: m.text, Confidence: 1}, nil
	}
	return Transcript{
		Text: fmt.Sprintf("[transcript samples=%d rate=%d]", len(samples), sampleRate),
	}, nil
}
