// Package provider talks to upstream model providers. Every provider turns
// a Request into a channel of Chunks produced by its own goroutine.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

// Message is one entry of the prompt sent upstream.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type Request struct {
	Model    string
	Image    bool
	Messages []Message
	Params   models.Parameters
}

// Chunk is one piece of streamed output. A Chunk with Err set is the last
// value on its channel; a closed channel without an error means the
// provider finished normally.
type Chunk struct {
	Text string
	Err  error
}

// Provider dispatches requests upstream.
//
// Stream returns an error when the provider refuses the request before any
// output. Otherwise the returned channel is closed once the response ends or
// ctx is cancelled, so the producing goroutine never outlives ctx.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not configured", common.ErrProviderUnavailable, name)
	}
	return p, nil
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
