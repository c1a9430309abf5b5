package ledger

import (
	"sync"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// scopeLocks hands out one mutex per scope. Entries are dropped once no
// goroutine holds or waits for them.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[models.Scope]*refMutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[models.Scope]*refMutex)}
}

func (l *scopeLocks) lock(scope models.Scope) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[scope]
	if !ok {
		m = &refMutex{}
		l.locks[scope] = m
	}
	m.refs++
	l.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, scope)
		}
		l.mu.Unlock()
	}
}

// lockPair locks two distinct scopes in a fixed order.
func (l *scopeLocks) lockPair(a, b models.Scope) (unlock func()) {
	if b.String() < a.String() {
		a, b = b, a
	}
	ua := l.lock(a)
	ub := l.lock(b)
	return func() {
		ub()
		ua()
	}
}

func (l *scopeLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
