package completion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/archive"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/repomanager"
)

// Turn is what a finished request persists: the prompt, the reply (full or
// partial) and the new activity time of the conversation.
type Turn struct {
	ConversationID string
	Prompt         models.Message
	Reply          models.Message
	At             time.Time
}

// Store loads conversation context and persists finished turns.
type Store interface {
	// LoadConversation returns the conversation owned by userID together
	// with up to limit most recent messages. Conversations of other users
	// are reported as common.ErrorNotFound.
	LoadConversation(ctx context.Context, conversationID, userID string, limit int) (*models.Conversation, []models.Message, error)
	// SaveTurn persists t atomically.
	SaveTurn(ctx context.Context, t Turn) error
}

type PostgresStore struct {
	db      *sql.DB
	rm      repomanager.RepositoryManager
	archive *archive.Archive
	log     logging.Logger
}

func NewPostgresStore(db *sql.DB, rm repomanager.RepositoryManager, arch *archive.Archive, log logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, rm: rm, archive: arch, log: log.With("module", "completion-store")}
}

func (s *PostgresStore) LoadConversation(ctx context.Context, conversationID, userID string, limit int) (*models.Conversation, []models.Message, error) {
	conv, err := s.rm.Conversations(s.db).Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
	}
	if conv.UserID != userID {
		return nil, nil, common.ErrorNotFound
	}
	if limit <= 0 {
		return conv, nil, nil
	}
	history, err := s.rm.Messages(s.db).ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
	}
	s.hydrate(ctx, history)
	return conv, history, nil
}

// hydrate replaces archived previews with the full stored content. A message
// whose object cannot be read keeps its preview.
func (s *PostgresStore) hydrate(ctx context.Context, history []models.Message) {
	if s.archive == nil {
		return
	}
	for i := range history {
		if history[i].StorageKey == "" {
			continue
		}
		full, err := s.archive.Fetch(ctx, history[i].StorageKey)
		if err != nil {
			s.log.Warn(ctx, "fetching archived message failed, using preview", "message_id", history[i].ID, "error", err)
			continue
		}
		history[i].Content = full
	}
}

func (s *PostgresStore) SaveTurn(ctx context.Context, t Turn) error {
	reply := t.Reply
	if err := s.archive.Offload(ctx, &reply); err != nil {
		s.log.Warn(ctx, "archiving reply failed, storing inline", "message_id", reply.ID, "error", err)
		reply = t.Reply
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		msgs := s.rm.Messages(tx)
		if err := msgs.Create(ctx, &t.Prompt); err != nil {
			return err
		}
		if err := msgs.Create(ctx, &reply); err != nil {
			return err
		}
		return s.rm.Conversations(tx).TouchActivity(ctx, t.ConversationID, t.At)
	})
	if err != nil {
		if reply.StorageKey != "" {
			if rmErr := s.archive.Remove(context.WithoutCancel(ctx), reply.StorageKey); rmErr != nil {
				s.log.Warn(ctx, "removing orphaned archive object failed", "key", reply.StorageKey, "error", rmErr)
			}
		}
		return fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
	}
	return nil
}
