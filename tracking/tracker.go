package tracking

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"quest-reward-system/geo"
)

// State of a presence-tracking session.
type State string

const (
	StateIdle      State = "idle"
	StateTracking  State = "tracking"
	StateDwelling  State = "dwelling"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// ErrSessionClosed is returned by Observe once the session reached a terminal
// state (Completed or Aborted).
var ErrSessionClosed = errors.New("tracking: session closed")

// CompletionFunc receives the completion event fired exactly once when the
// dwell requirement is met. It is the session's only side effect — the caller
// wires it to the reward ledger.
type CompletionFunc func(userID, questID string)

// Session drives the anti-spoofing and continuous-dwell state machine for a
// single (user, quest) watch. It is safe for concurrent use, but the caller
// must not run two sessions for the same pair — see Registry.
type Session struct {
	UserID  string
	QuestID string

	quest      geo.Point
	radius     float64
	onComplete CompletionFunc
	now        func() time.Time

	mu         sync.Mutex
	state      State
	last       *Sample
	dwellStart *time.Time
	drops      map[string]int
	released   bool
	release    func()
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithRelease registers a hook invoked exactly once when the session tears
// down, on every exit path (completion, cancellation, source failure).
func WithRelease(fn func()) SessionOption {
	return func(s *Session) { s.release = fn }
}

// NewSession creates an Idle session around the quest geofence.
func NewSession(userID, questID string, quest geo.Point, radiusMeters float64, onComplete CompletionFunc, opts ...SessionOption) *Session {
	s := &Session{
		UserID:     userID,
		QuestID:    questID,
		quest:      quest,
		radius:     radiusMeters,
		onComplete: onComplete,
		now:        time.Now,
		state:      StateIdle,
		drops:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DwellStartedAt returns the start of the current uninterrupted dwell, if any.
func (s *Session) DwellStartedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dwellStart == nil {
		return nil
	}
	t := *s.dwellStart
	return &t
}

// Drops returns per-reason counts of rejected samples.
func (s *Session) Drops() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.drops))
	for k, v := range s.drops {
		out[k] = v
	}
	return out
}

// Observe feeds one sample through validation and the state machine. A
// validation failure drops the sample and returns its reason; the session
// itself keeps running. The returned state is the state after the sample.
func (s *Session) Observe(smp Sample) (State, error) {
	s.mu.Lock()

	if s.state == StateCompleted || s.state == StateAborted {
		st := s.state
		s.mu.Unlock()
		return st, ErrSessionClosed
	}

	now := s.now()

	if err := smp.validate(now); err != nil {
		s.drops[err.Error()]++
		st := s.state
		s.mu.Unlock()
		return st, err
	}

	// Speed-spoofing check against the previous accepted fix. Rejects the
	// sample, never the session.
	if s.last != nil {
		dt := smp.CapturedAt.Sub(s.last.CapturedAt)
		if dt < SpeedCheckWindow {
			d, err := geo.Distance(s.last.Point(), smp.Point())
			if err == nil {
				if dt <= 0 {
					if d > 0 {
						s.drops[ErrSpeedSpoof.Error()]++
						st := s.state
						s.mu.Unlock()
						return st, ErrSpeedSpoof
					}
				} else if d/dt.Seconds() > MaxPlausibleSpeedMps {
					s.drops[ErrSpeedSpoof.Error()]++
					st := s.state
					s.mu.Unlock()
					return st, ErrSpeedSpoof
				}
			}
		}
	}

	s.last = &smp

	inside, err := geo.WithinRadius(smp.Point(), s.quest, s.radius)
	if err != nil {
		s.drops[err.Error()]++
		st := s.state
		s.mu.Unlock()
		return st, err
	}

	var fireCompletion bool
	switch {
	case inside && s.state == StateDwelling:
		if now.Sub(*s.dwellStart) >= DwellDuration {
			s.state = StateCompleted
			fireCompletion = true
		}
	case inside:
		// First accepted in-radius fix starts the dwell timer.
		s.state = StateDwelling
		t := now
		s.dwellStart = &t
	case s.state == StateDwelling:
		// Left the radius: the timer resets, never resumes.
		s.dwellStart = nil
		s.state = StateTracking
	default:
		s.state = StateTracking
	}

	st := s.state
	var done CompletionFunc
	if fireCompletion {
		done = s.onComplete
		s.teardownLocked()
	}
	s.mu.Unlock()

	if fireCompletion {
		log.Printf("📍 Dwell complete: user=%s quest=%s", s.UserID, s.QuestID)
		if done != nil {
			done(s.UserID, s.QuestID)
		}
	}
	return st, nil
}

// Cancel aborts the session. Idempotent; a completed session stays completed.
// The release hook runs on the first transition to a terminal state.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateCompleted || s.state == StateAborted {
		s.mu.Unlock()
		return
	}
	s.state = StateAborted
	s.teardownLocked()
	s.mu.Unlock()
	log.Printf("🛑 Tracking session aborted: user=%s quest=%s", s.UserID, s.QuestID)
}

func (s *Session) teardownLocked() {
	if s.released {
		return
	}
	s.released = true
	if s.release != nil {
		// Run outside any caller-visible ordering concerns; the hook must be
		// safe to call from the sample path.
		go s.release()
	}
}

// Run subscribes to the source and pumps samples into the session until it
// reaches a terminal state, the source closes, or ctx is cancelled. The
// subscription is released on every exit path.
func (s *Session) Run(ctx context.Context, source SampleSource) error {
	ch, err := source.Subscribe()
	if err != nil {
		s.Cancel()
		return err
	}
	defer source.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return nil
		case smp, ok := <-ch:
			if !ok {
				s.Cancel()
				return nil
			}
			st, obsErr := s.Observe(smp)
			if errors.Is(obsErr, ErrSessionClosed) || st == StateCompleted || st == StateAborted {
				return nil
			}
		}
	}
}
