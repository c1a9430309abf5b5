package accounts

import (
	"context"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, scope models.Scope) (*models.CreditAccount, error)
	Create(ctx context.Context, scope models.Scope, balance models.Credits) error
	CompareAndSwap(ctx context.Context, scope models.Scope, old, new models.Credits) (bool, error)
}
