package vad

import (
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// State is the segmenter hysteresis state.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateSpeaking
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSpeaking:
		return "speaking"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// EventType identifies what a frame caused.
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStarted
	EventSpeechEnded
)

func (e EventType) String() string {
	switch e {
	case EventSpeechStarted:
		return "speech.started"
	case EventSpeechEnded:
		return "speech.ended"
	default:
		return "none"
	}
}

// Event is emitted on confirmed speech start and on utterance completion.
// Utterance is set only for EventSpeechEnded.
type Event struct {
	Type      EventType
	At        time.Time
	Utterance *Utterance
}

// FrameScore pairs a frame with its speech probability.
type FrameScore struct {
	Frame       audio.Frame
	Probability float64
}

// Utterance is a finalized buffer of one spoken utterance, including the
// pre-speech frames captured before the trigger and trailing padding.
type Utterance struct {
	Frames     []audio.Frame
	SampleRate int
	PreSpeech  int
	Started    time.Time
	Ended      time.Time
}

// Samples concatenates the utterance audio.
func (u *Utterance) Samples() []int16 {
	if u == nil {
		return nil
	}
	return audio.Concat(u.Frames)
}

// Duration is the total audio length.
func (u *Utterance) Duration() time.Duration {
	if u == nil {
		return 0
	}
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// Empty reports a zero-length buffer.
func (u *Utterance) Empty() bool {
	return u == nil || len(u.Frames) == 0 || u.Duration() == 0
}

// Options tunes the hysteresis.
type Options struct {
	Threshold       float64
	MinSpeech       time.Duration
	MinSilence      time.Duration
	SpeechPad       time.Duration
	PreSpeechFrames int
	MaxUtterance    time.Duration
	// FrameDuration is used for frames that carry no samples.
	FrameDuration time.Duration
}

func OptionsFromConfig(v config.VADConfig, a config.AudioConfig) Options {
	return Options{
		Threshold:       v.SpeechThreshold,
		MinSpeech:       time.Duration(v.MinSpeechDurationMS) * time.Millisecond,
		MinSilence:      time.Duration(v.MinSilenceDurationMS) * time.Millisecond,
		SpeechPad:       time.Duration(v.SpeechPadMS) * time.Millisecond,
		PreSpeechFrames: v.PreSpeechFrames,
		MaxUtterance:    time.Duration(v.MaxUtteranceMS) * time.Millisecond,
		FrameDuration:   a.FrameDuration(),
	}
}

// ForWindow shortens MinSpeech to at most half of window, so a short burst
// can be confirmed inside a single monitoring window.
func (o Options) ForWindow(window time.Duration) Options {
	if window <= 0 {
		return o
	}
	if half := window / 2; o.MinSpeech > half {
		o.MinSpeech = half
	}
	return o
}

// Segmenter turns scored frames into utterances. It is owned by a single
// goroutine and is not safe for concurrent use.
type Segmenter struct {
	opts       Options
	classifier Classifier

	state      State
	ring       []audio.Frame
	working    []audio.Frame
	preSpeech  int
	lastSpeech int
	speech     time.Duration
	silence    time.Duration
	total      time.Duration
	started    time.Time
}

func NewSegmenter(opts Options, classifier Classifier) *Segmenter {
	return &Segmenter{opts: opts, classifier: classifier, lastSpeech: -1}
}

// State returns the current hysteresis state.
func (s *Segmenter) State() State { return s.state }

// Push scores frame with the classifier and advances the state machine.
func (s *Segmenter) Push(frame audio.Frame) Event {
	return s.Observe(FrameScore{Frame: frame, Probability: s.classifier.Score(frame)})
}

// Observe advances the state machine with an already-scored frame.
func (s *Segmenter) Observe(score FrameScore) Event {
	frame := score.Frame
	d := frame.Duration()
	if d == 0 {
		d = s.opts.FrameDuration
	}
	speech := score.Probability > s.opts.Threshold

	switch s.state {
	case StateIdle:
		if !speech {
			s.pushRing(frame)
			return Event{}
		}
		s.working = make([]audio.Frame, 0, len(s.ring)+16)
		s.working = append(s.working, s.ring...)
		s.preSpeech = len(s.ring)
		s.ring = s.ring[:0]
		s.working = append(s.working, frame)
		s.lastSpeech = len(s.working) - 1
		s.speech = d
		s.total = d
		s.started = frameTime(frame)
		s.state = StateBuilding
		return s.maybeConfirm(frame)

	case StateBuilding:
		s.working = append(s.working, frame)
		s.total += d
		if !speech {
			s.abandon()
			return Event{}
		}
		s.lastSpeech = len(s.working) - 1
		s.speech += d
		return s.maybeConfirm(frame)

	case StateSpeaking:
		s.working = append(s.working, frame)
		s.total += d
		if speech {
			s.silence = 0
			s.lastSpeech = len(s.working) - 1
		} else {
			s.silence = d
			s.state = StateEnding
			if s.silence >= s.opts.MinSilence {
				return s.finalize(frame)
			}
		}
		return s.maybeCap(frame)

	case StateEnding:
		s.working = append(s.working, frame)
		s.total += d
		if speech {
			s.silence = 0
			s.lastSpeech = len(s.working) - 1
			s.state = StateSpeaking
			return s.maybeCap(frame)
		}
		s.silence += d
		if s.silence >= s.opts.MinSilence {
			return s.finalize(frame)
		}
		return s.maybeCap(frame)
	}
	return Event{}
}

// Reset returns to Idle and clears counters, buffers and classifier state.
// Calling it repeatedly is equivalent to calling it once.
func (s *Segmenter) Reset() {
	s.state = StateIdle
	s.ring = nil
	s.working = nil
	s.preSpeech = 0
	s.lastSpeech = -1
	s.speech = 0
	s.silence = 0
	s.total = 0
	s.started = time.Time{}
	if s.classifier != nil {
		s.classifier.Reset()
	}
}

// ContainsSpeech runs frames through a reset segmenter and reports whether
// speech was confirmed. The segmenter is reset again afterwards.
func (s *Segmenter) ContainsSpeech(frames []audio.Frame) bool {
	s.Reset()
	defer s.Reset()
	for _, f := range frames {
		s.Push(f)
		if s.state == StateSpeaking || s.state == StateEnding {
			return true
		}
	}
	return false
}

func (s *Segmenter) maybeConfirm(frame audio.Frame) Event {
	if s.speech < s.opts.MinSpeech {
		return Event{}
	}
	s.state = StateSpeaking
	s.silence = 0
	return Event{Type: EventSpeechStarted, At: frameTime(frame)}
}

func (s *Segmenter) maybeCap(frame audio.Frame) Event {
	if s.opts.MaxUtterance > 0 && s.total >= s.opts.MaxUtterance {
		return s.finalize(frame)
	}
	return Event{}
}

// abandon drops a Building attempt that never reached the minimum speech
// duration. The newest frames go back into the ring so the next trigger
// still has leading context.
func (s *Segmenter) abandon() {
	s.ring = s.ring[:0]
	for _, f := range s.working {
		s.pushRing(f)
	}
	s.working = nil
	s.preSpeech = 0
	s.lastSpeech = -1
	s.speech = 0
	s.silence = 0
	s.total = 0
	s.started = time.Time{}
	s.state = StateIdle
}

func (s *Segmenter) finalize(frame audio.Frame) Event {
	end := len(s.working)
	if s.lastSpeech >= 0 {
		end = s.lastSpeech + 1 + s.padFrames()
		if end > len(s.working) {
			end = len(s.working)
		}
	}
	frames := make([]audio.Frame, end)
	copy(frames, s.working[:end])

	rate := frame.SampleRate
	if len(frames) > 0 {
		rate = frames[0].SampleRate
	}
	utt := &Utterance{
		Frames:     frames,
		SampleRate: rate,
		PreSpeech:  s.preSpeech,
		Started:    s.started,
		Ended:      frameTime(frame),
	}

	s.ring = nil
	s.working = nil
	s.preSpeech = 0
	s.lastSpeech = -1
	s.speech = 0
	s.silence = 0
	s.total = 0
	s.started = time.Time{}
	s.state = StateIdle
	return Event{Type: EventSpeechEnded, At: utt.Ended, Utterance: utt}
}

func (s *Segmenter) padFrames() int {
	if s.opts.SpeechPad <= 0 || s.opts.FrameDuration <= 0 {
		return 0
	}
	n := s.opts.SpeechPad / s.opts.FrameDuration
	if s.opts.SpeechPad%s.opts.FrameDuration != 0 {
		n++
	}
	return int(n)
}

func (s *Segmenter) pushRing(frame audio.Frame) {
	if s.opts.PreSpeechFrames <= 0 {
		return
	}
	if len(s.ring) == s.opts.PreSpeechFrames {
		copy(s.ring, s.ring[1:])
		s.ring = s.ring[:len(s.ring)-1]
	}
	s.ring = append(s.ring, frame)
}

func frameTime(f audio.Frame) time.Time {
	if f.Captured.IsZero() {
		return time.Now()
	}
	return f.Captured
}
