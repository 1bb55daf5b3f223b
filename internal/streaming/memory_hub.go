package streaming

import (
	"context"
	"sync"
)

const defaultChannelBuffer = 64

// MemoryHub is an in-process Hub. Subscriptions are keyed by their delivery
// channel, so cancelling is a map delete and no bookkeeping IDs are needed.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[chan Event]Filter
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[chan Event]Filter)}
}

// Publish fans the event out to every matching subscriber. It never blocks: a
// subscriber that has fallen defaultChannelBuffer events behind loses the
// overflow rather than stalling the execution that published.
func (h *MemoryHub) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, filter := range h.subs {
		if !filter.Matches(event) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a filtered subscription and returns its delivery
// channel together with a cancel function. Cancel is idempotent.
func (h *MemoryHub) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan Event, defaultChannelBuffer)
	h.mu.Lock()
	h.subs[ch] = filter
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel, nil
}
