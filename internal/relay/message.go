package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// BroadcastTarget addresses a message to every receiver regardless of name.
const BroadcastTarget = "all"

// Message is the internal single-recipient routing unit.
type Message struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func emptyMessage() Message {
	return Message{From: "none", To: "none", Body: "none"}
}

// Matches reports whether a receiver called name should get this message.
func (m Message) Matches(name string) bool {
	return m.To == name || m.To == BroadcastTarget
}

// JSON encodes the message as {"from","to","body"}.
func (m Message) JSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return string(data), nil
}

func (m Message) String() string {
	return fmt.Sprintf("[%s -> %s]: %s", m.From, m.To, m.Body)
}

// Pipe is the broadcast router: a single slot holding the latest sent Message.
//
// Delivery is latest-wins. Send overwrites the slot and wakes every waiter;
// nothing is queued. A subscriber that has not re-read the slot before two
// sends only ever sees the second one. There is no at-least-once guarantee
// for any receiver.
type Pipe struct {
	mu      sync.Mutex
	current Message
	version uint64        // bumped on every Send
	changed chan struct{} // closed and replaced on every Send
	closed  bool
}

// constructor for Pipe, the slot starts with a message addressed to nobody
func NewPipe() *Pipe {
	return &Pipe{
		current: emptyMessage(),
		changed: make(chan struct{}),
	}
}

// Send overwrites the slot and notifies all waiters. It never blocks and only
// fails once the pipe has been closed.
func (p *Pipe) Send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipeClosed
	}
	p.current = msg
	p.version++
	close(p.changed)
	p.changed = make(chan struct{})
	return nil
}

// Close wakes every waiter; pending and future Receive calls return ErrPipeClosed.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.changed)
}

// Subscribe returns a consumer positioned at the current slot version, so only
// messages sent after this call are observed.
func (p *Pipe) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Subscription{pipe: p, seen: p.version}
}

// Subscription tracks the last slot version one consumer observed.
// It must not be used from more than one goroutine.
type Subscription struct {
	pipe *Pipe
	seen uint64
}

// Receive blocks until the slot changes and its current message matches name
// (or the broadcast target). Non-matching values are skipped, not buffered.
func (s *Subscription) Receive(ctx context.Context, name string) (Message, error) {
	p := s.pipe
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return Message{}, ErrPipeClosed
		}
		if p.version == s.seen {
			changed := p.changed
			p.mu.Unlock()

			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return Message{}, ctx.Err()
			}
		}

		msg := p.current
		s.seen = p.version
		p.mu.Unlock()

		if msg.Matches(name) {
			return msg, nil
		}
	}
}
