// Package events carries fire-and-forget notifications between the
// completion orchestrator and the sidebar synchronizer.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/logging"
)

// ConversationUpdated is published after a completion was persisted.
type ConversationUpdated struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
	TitleSnippet   string    `json:"title_snippet"`
}

// Publisher is the side of the bus producers depend on.
type Publisher interface {
	Publish(ctx context.Context, ev ConversationUpdated)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan ConversationUpdated
	nextID int
	log    logging.Logger
}

func NewBus(log logging.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan ConversationUpdated),
		log:  log.With("module", "events"),
	}
}

// Subscribe returns a channel receiving every event published from now on
// and a function that unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan ConversationUpdated, func()) {
	ch := make(chan ConversationUpdated, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ctx context.Context, ev ConversationUpdated) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn(ctx, "subscriber full, event dropped", "conversation_id", ev.ID)
		}
	}
}
