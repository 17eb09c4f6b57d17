package hotwindow

import (
	"sync"
	"time"
)

// Reason explains a state transition.
type Reason string

const (
	ReasonActivated Reason = "activated"
	ReasonExpired   Reason = "expired"
	ReasonCancelled Reason = "cancelled"
)

// Transition is reported to the observer on every state change.
type Transition struct {
	Active bool
	Expiry time.Time
	Reason Reason
}

// Scheduler owns the hot-window state: Inactive, or Active until an expiry.
// Every activation gets a generation number so a timer from an earlier
// activation can never expire a later one.
type Scheduler struct {
	duration time.Duration
	observe  func(Transition)
	now      func() time.Time

	mu         sync.Mutex
	generation uint64
	active     bool
	expiry     time.Time
	timer      *time.Timer
	expired    chan struct{}
}

// New returns an inactive scheduler. observe may be nil.
func New(duration time.Duration, observe func(Transition)) *Scheduler {
	return &Scheduler{duration: duration, observe: observe, now: time.Now}
}

// Duration is the configured window length.
func (s *Scheduler) Duration() time.Duration { return s.duration }

// Activate opens a window of the configured duration, replacing any active
// one. The returned channel is closed when this window expires; it is never
// closed if the window is cancelled first.
func (s *Scheduler) Activate() <-chan struct{} {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
	gen := s.generation
	s.active = true
	s.expiry = s.now().Add(s.duration)
	s.expired = make(chan struct{})
	ch := s.expired
	s.timer = time.AfterFunc(s.duration, func() { s.expire(gen) })
	t := Transition{Active: true, Expiry: s.expiry, Reason: ReasonActivated}
	s.mu.Unlock()

	s.notify(t)
	return ch
}

// Cancel closes an active window without expiring it. It reports whether a
// window was active.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.generation++
	s.active = false
	s.expiry = time.Time{}
	s.expired = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.notify(Transition{Reason: ReasonCancelled})
	return true
}

// Active reports whether a window is open.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Expiry returns the deadline of the active window, or the zero time.
func (s *Scheduler) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.expiry = time.Time{}
	s.timer = nil
	ch := s.expired
	s.expired = nil
	s.mu.Unlock()

	// Observers see the expiry before anyone waiting on the channel wakes.
	s.notify(Transition{Reason: ReasonExpired})
	close(ch)
}

func (s *Scheduler) notify(t Transition) {
	if s.observe != nil {
		s.observe(t)
	}
}
