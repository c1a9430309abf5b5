package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

// Store is the persistence contract of the ledger. Balances of scopes that
// were never written read as zero.
type Store interface {
	Balance(ctx context.Context, scope models.Scope) (models.Credits, error)
	// SwapBalance sets the balance of scope to new only if it still equals
	// old, appending entry in the same atomic step. It reports whether the
	// swap happened.
	SwapBalance(ctx context.Context, scope models.Scope, old, new models.Credits, entry *models.LedgerEntry) (bool, error)
	// AppendEntry records an entry that does not move the balance.
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	Entries(ctx context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error)
}

// MemoryStore keeps balances and entries in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[models.Scope]models.Credits
	entries  []models.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[models.Scope]models.Credits)}
}

func (s *MemoryStore) Balance(_ context.Context, scope models.Scope) (models.Credits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[scope], nil
}

func (s *MemoryStore) SwapBalance(_ context.Context, scope models.Scope, old, new models.Credits, entry *models.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[scope] != old {
		return false, nil
	}
	s.balances[scope] = new
	if entry != nil {
		s.entries = append(s.entries, *entry)
	}
	return true, nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns the newest entries of scope first.
func (s *MemoryStore) Entries(_ context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Scope == scope {
			out = append(out, s.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
