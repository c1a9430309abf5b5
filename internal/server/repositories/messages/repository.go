package messages

import (
	"context"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.Message) error
	ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}
