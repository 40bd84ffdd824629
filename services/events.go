package services

import "sync"

// EventType enumerates ledger-affecting events.
type EventType string

const (
	// EventQuestVerified: a completion row flipped to Verified.
	EventQuestVerified EventType = "quest_verified"
	// EventClaimSettled: a claim batch was settled against the ledger.
	EventClaimSettled EventType = "claim_settled"
)

// Event is published after the corresponding ledger commit, never before.
type Event struct {
	Type    EventType
	UserID  string
	QuestID string
	TxHash  string
	Amount  int64
}

// Bus is a synchronous in-process observer list. Subscribers run in
// subscription order on the publisher's goroutine, so a subscriber observing
// the ledger always sees the committed state.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every event.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish delivers the event to all subscribers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}
