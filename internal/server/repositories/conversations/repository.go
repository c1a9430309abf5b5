package conversations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]models.Conversation, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	UpdateTitle(ctx context.Context, id, userID, title string) error
	SetActive(ctx context.Context, id, userID string, active bool) error
	Delete(ctx context.Context, id, userID string) error

	UpsertTag(ctx context.Context, userID string, tag models.Tag) (models.Tag, error)
	SetTags(ctx context.Context, conversationID string, tagIDs []string) error
	TagsByUser(ctx context.Context, userID string) (map[string][]models.Tag, error)
}
