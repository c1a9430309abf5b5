package ledgerentries

import (
	"context"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, e *models.LedgerEntry) error
	ListByScope(ctx context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error)
}
