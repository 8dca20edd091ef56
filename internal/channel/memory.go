package channel

import (
	"context"
	"sync"
)

// Published is a message captured by InMemoryPublisher.
type Published struct {
	Topic   string
	Payload []byte
}

// InMemoryPublisher records published messages instead of sending them.
// This is intended for testing and local development.
type InMemoryPublisher struct {
	mu       sync.Mutex
	messages []Published
	err      error
}

// NewInMemoryPublisher creates an empty recording publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

// Publish records the message, or returns the configured failure.
func (p *InMemoryPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.messages = append(p.messages, Published{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// FailWith makes every subsequent Publish return err. Pass nil to recover.
func (p *InMemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Messages returns a copy of everything published so far.
func (p *InMemoryPublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Published, len(p.messages))
	copy(out, p.messages)
	return out
}

// Ping always succeeds.
func (p *InMemoryPublisher) Ping(_ context.Context) error {
	return nil
}
