// Package accounts provides a PostgreSQL-backed repository for credit
// account balances at user and group scope.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the account for scope or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, scope models.Scope) (*models.CreditAccount, error) {
	query := `
		SELECT balance, updated_at
		FROM credit_accounts
		WHERE scope_kind = $1 AND scope_id = $2
	`
	acc := &models.CreditAccount{Scope: scope}
	var balance int64
	if err := r.db.QueryRowContext(ctx, query, string(scope.Kind), scope.ID).Scan(&balance, &acc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	acc.Balance = models.Credits(balance)
	return acc, nil
}

// Create opens an account with an initial balance. Creating an account that
// already exists is a no-op.
func (r *PostgresRepository) Create(ctx context.Context, scope models.Scope, balance models.Credits) error {
	query := `
		INSERT INTO credit_accounts (scope_kind, scope_id, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope_kind, scope_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, string(scope.Kind), scope.ID, int64(balance)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CompareAndSwap sets the balance to new only if it still equals old.
// It reports whether the row was updated.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, scope models.Scope, old, new models.Credits) (bool, error) {
	query := `
		UPDATE credit_accounts
		SET balance = $4, updated_at = now()
		WHERE scope_kind = $1 AND scope_id = $2 AND balance = $3
	`
	res, err := r.db.ExecContext(ctx, query, string(scope.Kind), scope.ID, int64(old), int64(new))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
