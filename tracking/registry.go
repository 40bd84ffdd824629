package tracking

import (
	"context"
	"errors"
	"sync"
)

// Registry failures.
var (
	ErrSessionActive   = errors.New("tracking: a session is already active for this user and quest")
	ErrSessionNotFound = errors.New("tracking: no active session for this user and quest")
)

// Registry enforces the one-active-watch-per-(user, quest) rule and gives the
// HTTP layer a handle to push samples into and cancel running sessions.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*watch
}

type watch struct {
	session *Session
	source  *ChannelSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*watch)}
}

func watchKey(userID, questID string) string {
	return userID + "|" + questID
}

// Start registers the session and runs its pump goroutine. Fails with
// ErrSessionActive while a non-terminal session exists for the same pair.
func (r *Registry) Start(ctx context.Context, sess *Session) error {
	key := watchKey(sess.UserID, sess.QuestID)

	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		st := existing.session.State()
		if st != StateCompleted && st != StateAborted {
			r.mu.Unlock()
			return ErrSessionActive
		}
	}
	w := &watch{session: sess, source: NewChannelSource(32)}
	r.entries[key] = w
	r.mu.Unlock()

	go func() {
		_ = sess.Run(ctx, w.source)
		r.mu.Lock()
		if r.entries[key] == w {
			delete(r.entries, key)
		}
		r.mu.Unlock()
	}()
	return nil
}

// Push forwards a sample to the active session.
func (r *Registry) Push(userID, questID string, smp Sample) error {
	r.mu.Lock()
	w, ok := r.entries[watchKey(userID, questID)]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return w.source.Push(smp)
}

// Session returns the active session, if any.
func (r *Registry) Session(userID, questID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.entries[watchKey(userID, questID)]
	if !ok {
		return nil, false
	}
	return w.session, true
}

// Cancel aborts the active session and releases its watch.
func (r *Registry) Cancel(userID, questID string) error {
	r.mu.Lock()
	w, ok := r.entries[watchKey(userID, questID)]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	w.session.Cancel()
	w.source.Unsubscribe()
	return nil
}
