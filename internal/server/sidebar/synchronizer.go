package sidebar

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/events"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

var ErrStopped = errors.New("synchronizer stopped")

type snapshotReply struct {
	list []models.SidebarConversation
	err  error
}

// envelope is one unit of work for the loop: an action or, when reply is
// set, a snapshot request.
type envelope struct {
	userID string
	action Action
	reply  chan snapshotReply
}

// Synchronizer keeps the lists of users that asked for one. All actions and
// snapshot requests go through one channel and are applied in arrival order
// by the Run goroutine, which is the only owner of the lists.
type Synchronizer struct {
	loader Loader
	inbox  chan envelope
	done   chan struct{}
	lists  map[string][]models.SidebarConversation
	log    logging.Logger
}

func New(loader Loader, log logging.Logger) *Synchronizer {
	return &Synchronizer{
		loader: loader,
		inbox:  make(chan envelope, 64),
		done:   make(chan struct{}),
		lists:  make(map[string][]models.SidebarConversation),
		log:    log.With("module", "sidebar"),
	}
}

// Run applies queued work until ctx is done. Events from updates become
// MessageArrived actions and join the same queue as Apply and Snapshot.
func (s *Synchronizer) Run(ctx context.Context, updates <-chan events.ConversationUpdated) error {
	defer close(s.done)
	var wg sync.WaitGroup
	defer wg.Wait()
	if updates != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.forward(ctx, updates)
		}()
	}

	s.log.Info(ctx, "synchronizer started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "synchronizer stopped")
			return nil
		case env := <-s.inbox:
			s.handle(ctx, env)
		}
	}
}

// forward moves bus events into the inbox until ctx is done or updates is
// closed.
func (s *Synchronizer) forward(ctx context.Context, updates <-chan events.ConversationUpdated) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			err := s.enqueue(ctx, envelope{
				userID: ev.UserID,
				action: MessageArrived{ID: ev.ID, At: ev.LastActivityAt, Snippet: ev.TitleSnippet},
			})
			if err != nil {
				return
			}
		}
	}
}

func (s *Synchronizer) handle(ctx context.Context, env envelope) {
	if env.reply != nil {
		list, err := s.snapshot(ctx, env.userID)
		env.reply <- snapshotReply{list: list, err: err}
		return
	}
	list, ok := s.lists[env.userID]
	if !ok {
		// Not loaded yet: the first snapshot reads the stored state, which
		// already contains this change.
		return
	}
	s.lists[env.userID] = Reduce(list, env.action)
}

func (s *Synchronizer) snapshot(ctx context.Context, userID string) ([]models.SidebarConversation, error) {
	if list, ok := s.lists[userID]; ok {
		return list, nil
	}
	list, err := s.loader.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.SidebarConversation{}
	}
	s.lists[userID] = list
	return list, nil
}

func (s *Synchronizer) enqueue(ctx context.Context, env envelope) error {
	select {
	case s.inbox <- env:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply queues a for userID's list.
func (s *Synchronizer) Apply(ctx context.Context, userID string, a Action) error {
	return s.enqueue(ctx, envelope{userID: userID, action: a})
}

// Snapshot returns userID's list as of all work queued before the call.
// The returned slice must not be modified.
func (s *Synchronizer) Snapshot(ctx context.Context, userID string) ([]models.SidebarConversation, error) {
	reply := make(chan snapshotReply, 1)
	if err := s.enqueue(ctx, envelope{userID: userID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.list, r.err
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
