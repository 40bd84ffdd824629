package tracking

import (
	"errors"
	"sync"
)

// ErrSourceClosed is returned by Push after the subscription was released.
var ErrSourceClosed = errors.New("tracking: sample source closed")

// SampleSource is a push subscription to a location provider. Subscribe
// acquires the underlying watch; Unsubscribe releases it and must be safe to
// call more than once.
type SampleSource interface {
	Subscribe() (<-chan Sample, error)
	Unsubscribe()
}

// ChannelSource adapts an HTTP push feed (or any caller-driven feed) to the
// SampleSource contract. Pushes after close are rejected; pushes into a full
// buffer are dropped rather than blocking the producer.
type ChannelSource struct {
	mu     sync.Mutex
	ch     chan Sample
	closed bool
}

// NewChannelSource creates a source buffering up to size samples.
func NewChannelSource(size int) *ChannelSource {
	if size < 1 {
		size = 16
	}
	return &ChannelSource{ch: make(chan Sample, size)}
}

// Subscribe returns the sample channel.
func (c *ChannelSource) Subscribe() (<-chan Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrSourceClosed
	}
	return c.ch, nil
}

// Unsubscribe closes the feed. Idempotent.
func (c *ChannelSource) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Push offers one sample to the subscriber.
func (c *ChannelSource) Push(s Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSourceClosed
	}
	select {
	case c.ch <- s:
	default:
		// Buffer full — the consumer is behind; dropping is safe since the
		// provider will push another fix shortly.
	}
	return nil
}
