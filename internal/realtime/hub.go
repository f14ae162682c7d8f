package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// Hub is an in-process Publisher and Subscriber. Slow subscribers drop
// events instead of blocking publishers; any delivered event triggers a full
// reload, so a dropped duplicate loses nothing.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan ChangeEvent]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[chan ChangeEvent]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) PublishChange(ctx context.Context, ev ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[ev.FamilyID] {
		select {
		case ch <- ev:
		default:
			slog.DebugContext(ctx, "Dropping change event for slow subscriber",
				"family_id", ev.FamilyID,
				"table", ev.Table)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, familyID string) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, h.buffer)

	h.mu.Lock()
	if h.subs[familyID] == nil {
		h.subs[familyID] = make(map[chan ChangeEvent]struct{})
	}
	h.subs[familyID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[familyID], ch)
		if len(h.subs[familyID]) == 0 {
			delete(h.subs, familyID)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch, nil
}

// Subscribers returns the number of live subscriptions for a family.
func (h *Hub) Subscribers(familyID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[familyID])
}
