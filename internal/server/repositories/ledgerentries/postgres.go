// Package ledgerentries stores the append-only audit trail of credit
// balance changes, including recorded reconciliation shortfalls.
package ledgerentries

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts e. The caller assigns e.ID.
func (r *PostgresRepository) Append(ctx context.Context, e *models.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, scope_kind, scope_id, kind, amount, balance_after, reservation_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, string(e.Scope.Kind), e.Scope.ID, string(e.Kind), int64(e.Amount), int64(e.BalanceAfter), e.ReservationID, e.Note)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByScope returns the newest entries for scope, newest first.
func (r *PostgresRepository) ListByScope(ctx context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, kind, amount, balance_after, reservation_id, note, created_at
		FROM ledger_entries
		WHERE scope_kind = $1 AND scope_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, string(scope.Kind), scope.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.LedgerEntry
	for rows.Next() {
		e := models.LedgerEntry{Scope: scope}
		var kind string
		var amount, after int64
		if err := rows.Scan(&e.ID, &kind, &amount, &after, &e.ReservationID, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		e.Kind = models.EntryKind(kind)
		e.Amount = models.Credits(amount)
		e.BalanceAfter = models.Credits(after)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
