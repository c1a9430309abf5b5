// Package models defines server-side data models persisted in the database
// or passed between the gateway's components.
package models

import (
	"fmt"
	"time"
)

// ScopeKind tells whether a credit account belongs to a user or a group.
type ScopeKind string

const (
	ScopeUser  ScopeKind = "user"
	ScopeGroup ScopeKind = "group"
)

// Valid reports whether k is a known scope kind.
func (k ScopeKind) Valid() bool {
	return k == ScopeUser || k == ScopeGroup
}

// Scope identifies the owner of a CreditAccount. It is comparable and used
// as a map key by the ledger.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func UserScope(id string) Scope  { return Scope{Kind: ScopeUser, ID: id} }
func GroupScope(id string) Scope { return Scope{Kind: ScopeGroup, ID: id} }

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// Credits is an amount in minor credit units. Balances are exact integers,
// prices are expressed per 1000 tokens.
type Credits int64

// CreditAccount is a spendable balance at user or group scope.
type CreditAccount struct {
	Scope     Scope
	Balance   Credits
	UpdatedAt time.Time
}

// Price is the per-1000-token rate charged for a model.
type Price struct {
	PerThousandTokens Credits
}

// Cost returns the price of tokens, rounded up to a whole minor unit.
// Non-positive token counts cost nothing.
func (p Price) Cost(tokens int) Credits {
	if tokens <= 0 || p.PerThousandTokens <= 0 {
		return 0
	}
	total := int64(tokens) * int64(p.PerThousandTokens)
	return Credits((total + 999) / 1000)
}

// EntryKind is the business reason of a ledger entry.
type EntryKind string

const (
	EntryReserve     EntryKind = "reserve"
	EntryRefund      EntryKind = "refund"
	EntryCharge      EntryKind = "charge"
	EntryRelease     EntryKind = "release"
	EntryTopUp       EntryKind = "topup"
	EntryDebit       EntryKind = "debit"
	EntryTransferIn  EntryKind = "transfer_in"
	EntryTransferOut EntryKind = "transfer_out"
	EntryShortfall   EntryKind = "shortfall"
	// EntryRefundFailed marks credits owed back to a scope that could not
	// be returned. Like shortfall rows it does not change the balance.
	EntryRefundFailed EntryKind = "refund_failed"
)

// LedgerEntry is an append-only audit row describing one balance change.
// Amount is signed: negative for debits. Shortfall rows record the uncovered
// remainder and refund_failed rows the credits still owed; neither changes
// the balance.
type LedgerEntry struct {
	ID            string
	Scope         Scope
	Kind          EntryKind
	Amount        Credits
	BalanceAfter  Credits
	ReservationID string
	Note          string
	CreatedAt     time.Time
}
