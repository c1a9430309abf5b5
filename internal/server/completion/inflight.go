package completion

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/llmgate/internal/common"
)

type inflightEntry struct {
	userID string
	cancel context.CancelCauseFunc
}

// inflight indexes running requests so they can be cancelled by id.
type inflight struct {
	mu      sync.Mutex
	entries map[string]inflightEntry
}

func newInflight() *inflight {
	return &inflight{entries: make(map[string]inflightEntry)}
}

func (f *inflight) add(id, userID string, cancel context.CancelCauseFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; ok {
		return fmt.Errorf("%w: request %s is already running", common.ErrValidation, id)
	}
	f.entries[id] = inflightEntry{userID: userID, cancel: cancel}
	return nil
}

func (f *inflight) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

// cancel stops the request if it belongs to userID. Requests of other users
// are reported as not found.
func (f *inflight) cancel(id, userID string) error {
	f.mu.Lock()
	e, ok := f.entries[id]
	f.mu.Unlock()
	if !ok || e.userID != userID {
		return common.ErrorNotFound
	}
	e.cancel(common.ErrCancelled)
	return nil
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
