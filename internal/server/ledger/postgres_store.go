package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/repomanager"
)

// PostgresStore keeps balances in credit_accounts and the audit trail in
// ledger_entries. A missing account reads as a zero balance and is opened by
// the first swap from zero.
type PostgresStore struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func NewPostgresStore(db *sql.DB, rm repomanager.RepositoryManager) *PostgresStore {
	return &PostgresStore{db: db, rm: rm}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
}

func (s *PostgresStore) Balance(ctx context.Context, scope models.Scope) (models.Credits, error) {
	acc, err := s.rm.Accounts(s.db).Get(ctx, scope)
	if err == nil {
		return acc.Balance, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return 0, unavailable(err)
	}
	return 0, nil
}

func (s *PostgresStore) SwapBalance(ctx context.Context, scope models.Scope, old, new models.Credits, entry *models.LedgerEntry) (bool, error) {
	ok, err := dbx.WithTxResult(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (bool, error) {
		accounts := s.rm.Accounts(tx)
		if old == 0 {
			if err := accounts.Create(ctx, scope, 0); err != nil {
				return false, err
			}
		}
		swapped, err := accounts.CompareAndSwap(ctx, scope, old, new)
		if err != nil || !swapped {
			return false, err
		}
		if entry != nil {
			if err := s.rm.LedgerEntries(tx).Append(ctx, entry); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (s *PostgresStore) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := s.rm.LedgerEntries(s.db).Append(ctx, entry); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *PostgresStore) Entries(ctx context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error) {
	entries, err := s.rm.LedgerEntries(s.db).ListByScope(ctx, scope, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}
