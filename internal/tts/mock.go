package tts

import (
	"context"
	"math"
	"strings"
	"time"
)

const (
	mockWordDuration = 180 * time.Millisecond
	mockMinDuration  = 200 * time.Millisecond
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth produces a quiet tone whose length scales with the word count.
func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	d := time.Duration(len(strings.Fields(req.Text))) * mockWordDuration
	if d < mockMinDuration {
		d = mockMinDuration
	}
	n := int(int64(m.sampleRate) * int64(d) / int64(time.Second))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(1200 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
	}
	return Audio{Samples: samples, SampleRate: m.sampleRate}, nil
}
