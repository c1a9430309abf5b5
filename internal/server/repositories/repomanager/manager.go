package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/llmgate/internal/dbx"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/ledgerentries"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/messages"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	LedgerEntries(db dbx.DBTX) ledgerentries.Repository
	Conversations(db dbx.DBTX) conversations.Repository
	Messages(db dbx.DBTX) messages.Repository
}
