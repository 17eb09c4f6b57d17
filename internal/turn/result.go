package turn

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-voice/internal/events"
	"github.com/loqalabs/loqa-voice/internal/router"
)

// Outcome is the terminal state of one turn.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeNoSpeech    Outcome = "no_speech"
	OutcomeFailed      Outcome = "failed"
)

var (
	ErrTranscriptionFailure = errors.New("transcription failed")
	ErrGenerationFailure    = errors.New("generation failed")
	ErrSynthesisFailure     = errors.New("synthesis failed")
)

// Metrics are turn timestamps used only for observability.
type Metrics struct {
	SegmentationEnd time.Time
	FirstToken      time.Time
	FirstAudio      time.Time
	End             time.Time
	Utterance       time.Duration
	Transcribe      time.Duration
}

func (m Metrics) TimeToFirstToken() time.Duration { return elapsed(m.SegmentationEnd, m.FirstToken) }
func (m Metrics) TimeToFirstAudio() time.Duration { return elapsed(m.SegmentationEnd, m.FirstAudio) }
func (m Metrics) Total() time.Duration            { return elapsed(m.SegmentationEnd, m.End) }

func elapsed(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return to.Sub(from)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Result reports how a turn ended. Cause is set only for OutcomeFailed.
type Result struct {
	ID         string
	Outcome    Outcome
	Cause      error
	Transcript string
	Decision   router.Decision
	Filler     string
	Sentences  int
	Metrics    Metrics
}

// ActivatesHotWindow reports whether the conversation should keep
// listening passively after this turn.
func (r Result) ActivatesHotWindow() bool {
	return r.Outcome == OutcomeCompleted || r.Outcome == OutcomeInterrupted
}

func (r Result) eventMetrics() *events.Metrics {
	return &events.Metrics{
		UtteranceMS:  ms(r.Metrics.Utterance),
		TranscribeMS: ms(r.Metrics.Transcribe),
		FirstTokenMS: ms(r.Metrics.TimeToFirstToken()),
		FirstAudioMS: ms(r.Metrics.TimeToFirstAudio()),
		TotalMS:      ms(r.Metrics.Total()),
		Sentences:    r.Sentences,
	}
}
