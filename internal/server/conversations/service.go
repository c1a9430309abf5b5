// Package conversations is the CRUD surface over conversations. Every change
// is persisted first and then forwarded to the sidebar synchronizer.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/catalog"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/llmgate/internal/server/sidebar"
	"github.com/google/uuid"
)

// Lists is the part of the sidebar synchronizer the service feeds.
type Lists interface {
	Apply(ctx context.Context, userID string, a sidebar.Action) error
	Snapshot(ctx context.Context, userID string) ([]models.SidebarConversation, error)
}

type Service struct {
	db      *sql.DB
	rm      repomanager.RepositoryManager
	lists   Lists
	catalog *catalog.Catalog
	log     logging.Logger
	now     func() time.Time
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, lists Lists, cat *catalog.Catalog, log logging.Logger) *Service {
	return &Service{db: db, rm: rm, lists: lists, catalog: cat, log: log.With("module", "conversations"), now: time.Now}
}

func dbError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
}

// notify forwards a to the synchronizer. The change is already stored, so a
// failure only delays the list until it is reloaded.
func (s *Service) notify(ctx context.Context, userID string, a sidebar.Action) {
	if err := s.lists.Apply(ctx, userID, a); err != nil {
		s.log.Warn(ctx, "sidebar update dropped", "user_id", userID, "error", err)
	}
}

// Create starts a conversation bound to a catalog model.
func (s *Service) Create(ctx context.Context, userID, title, providerName, modelID string) (*models.Conversation, error) {
	m, ok := s.catalog.Lookup(providerName, modelID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %s/%s", common.ErrValidation, providerName, modelID)
	}
	now := s.now()
	c := &models.Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          strings.TrimSpace(title),
		Model:          m.Summary(),
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.rm.Conversations(s.db).Create(ctx, c); err != nil {
		return nil, dbError(err)
	}
	s.notify(ctx, userID, sidebar.Created{Conversation: c.Sidebar(nil)})
	return c, nil
}

func (s *Service) Rename(ctx context.Context, userID, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is empty", common.ErrValidation)
	}
	if err := s.rm.Conversations(s.db).UpdateTitle(ctx, id, userID, title); err != nil {
		return dbError(err)
	}
	s.notify(ctx, userID, sidebar.TitleChanged{ID: id, Title: title})
	return nil
}

// SetTags replaces the tags of a conversation. Tags are matched by name;
// unknown names are created.
func (s *Service) SetTags(ctx context.Context, userID, id string, tags []models.Tag) ([]models.Tag, error) {
	stored, err := dbx.WithTxResult(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) ([]models.Tag, error) {
		repo := s.rm.Conversations(tx)
		c, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.UserID != userID {
			return nil, common.ErrorNotFound
		}

		out := make([]models.Tag, 0, len(tags))
		ids := make([]string, 0, len(tags))
		seen := map[string]bool{}
		for _, t := range tags {
			t.Name = strings.TrimSpace(t.Name)
			if t.Name == "" || seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			saved, err := repo.UpsertTag(ctx, userID, models.Tag{Name: t.Name, Color: t.Color})
			if err != nil {
				return nil, err
			}
			out = append(out, saved)
			ids = append(ids, saved.ID)
		}
		if err := repo.SetTags(ctx, id, ids); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, dbError(err)
	}
	s.notify(ctx, userID, sidebar.TagsChanged{ID: id, Tags: stored})
	return stored, nil
}

func (s *Service) Archive(ctx context.Context, userID, id string) error {
	if err := s.rm.Conversations(s.db).SetActive(ctx, id, userID, false); err != nil {
		return dbError(err)
	}
	s.notify(ctx, userID, sidebar.Archived{ID: id})
	return nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.rm.Conversations(s.db).Delete(ctx, id, userID); err != nil {
		return dbError(err)
	}
	s.notify(ctx, userID, sidebar.Deleted{ID: id})
	return nil
}

// List returns the user's sidebar, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]models.SidebarConversation, error) {
	return s.lists.Snapshot(ctx, userID)
}
