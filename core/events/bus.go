package events

import "sync"

// journal persists emitted events so off-chain clients can replay history.
type journal interface {
	AppendEvent(eventType string, attributes map[string]string) error
}

// attributed is implemented by events that expose a flat attribute payload.
type attributed interface {
	Attributes() map[string]string
}

// Bus fans emitted events out to subscriber channels and, when a journal is
// configured, records them for later replay. Delivery to subscribers is
// non-blocking: a subscriber that falls behind loses the oldest events rather
// than stalling state transitions.
type Bus struct {
	mu      sync.Mutex
	subs    []chan Event
	journal journal
	bufSize int
}

// NewBus constructs a bus whose subscriber channels buffer up to bufSize
// events each.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{bufSize: bufSize}
}

// SetJournal configures the persistence hook invoked for every emitted event.
func (b *Bus) SetJournal(j journal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = j
}

// Subscribe registers a new subscriber channel. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.journal != nil {
		attrs := map[string]string{}
		if a, ok := evt.(attributed); ok {
			attrs = a.Attributes()
		}
		_ = b.journal.AppendEvent(evt.EventType(), attrs)
	}
	for _, sub := range b.subs {
		for {
			select {
			case sub <- evt:
			default:
				// Drop the oldest buffered event to make room.
				select {
				case <-sub:
				default:
				}
				continue
			}
			break
		}
	}
}
