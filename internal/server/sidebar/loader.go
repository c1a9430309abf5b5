package sidebar

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/repomanager"
)

// Loader returns a user's full conversation list.
type Loader interface {
	Load(ctx context.Context, userID string) ([]models.SidebarConversation, error)
}

type LoaderFunc func(ctx context.Context, userID string) ([]models.SidebarConversation, error)

func (f LoaderFunc) Load(ctx context.Context, userID string) ([]models.SidebarConversation, error) {
	return f(ctx, userID)
}

// RepositoryLoader builds lists from the conversations repository.
type RepositoryLoader struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func NewRepositoryLoader(db *sql.DB, rm repomanager.RepositoryManager) *RepositoryLoader {
	return &RepositoryLoader{db: db, rm: rm}
}

func (l *RepositoryLoader) Load(ctx context.Context, userID string) ([]models.SidebarConversation, error) {
	repo := l.rm.Conversations(l.db)
	convs, err := repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
	}
	tags, err := repo.TagsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
	}

	var list []models.SidebarConversation
	for _, c := range convs {
		list = Reduce(list, Created{Conversation: c.Sidebar(tags[c.ID])})
	}
	return list, nil
}
