// Package ledger keeps spendable credit balances at user and group scope.
//
// Completions pay in two steps: Reserve takes an estimated cost up front and
// the returned Reservation is settled exactly once, either by Reconcile with
// the actual token count or by Release. Every balance change is a
// compare-and-set against the stored value made under a per-scope mutex, and
// is recorded as a models.LedgerEntry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/google/uuid"
)

var errConflict = errors.New("balance changed concurrently")

// DefaultMaxRetries bounds compare-and-set retries caused by writers in
// other processes.
const DefaultMaxRetries = 5

// Reservation is a handle on credits taken by Reserve.
type Reservation struct {
	ID     string
	Scope  models.Scope
	Price  models.Price
	Tokens int
	Amount models.Credits

	settled atomic.Bool
}

// Settled reports whether Reconcile or Release already ran.
func (r *Reservation) Settled() bool {
	return r.settled.Load()
}

type Ledger struct {
	store      Store
	locks      *scopeLocks
	log        logging.Logger
	maxRetries uint64
	now        func() time.Time
}

type Option func(*Ledger)

func WithMaxRetries(n int) Option {
	return func(l *Ledger) { l.maxRetries = uint64(n) }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, log logging.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		locks:      newScopeLocks(),
		log:        log.With("module", "ledger"),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// change computes the new balance from the current one. It returns the
// signed amount applied and an error to abort without writing.
type change func(balance models.Credits) (delta models.Credits, err error)

func (l *Ledger) entry(scope models.Scope, kind models.EntryKind, amount, after models.Credits, reservationID, note string) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:            uuid.NewString(),
		Scope:         scope,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  after,
		ReservationID: reservationID,
		Note:          note,
		CreatedAt:     l.now(),
	}
}

// apply runs fn against the stored balance of scope and swaps in the result.
// The caller must hold the scope lock.
func (l *Ledger) apply(ctx context.Context, scope models.Scope, kind models.EntryKind, reservationID, note string, fn change) (models.Credits, models.Credits, error) {
	var delta, after models.Credits

	op := func() error {
		balance, err := l.store.Balance(ctx, scope)
		if err != nil {
			return backoff.Permanent(err)
		}
		d, err := fn(balance)
		if err != nil {
			return backoff.Permanent(err)
		}
		next := balance + d
		if next < 0 {
			return backoff.Permanent(fmt.Errorf("%w: balance of %s would become %d", common.ErrorInternal, scope, next))
		}
		ok, err := l.store.SwapBalance(ctx, scope, balance, next, l.entry(scope, kind, d, next, reservationID, note))
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errConflict
		}
		delta, after = d, next
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, l.maxRetries), ctx))
	if errors.Is(err, errConflict) {
		err = fmt.Errorf("%w: %w", common.ErrPersistenceUnavailable, err)
	}
	return delta, after, err
}

// owe records amount as owed back to r's scope after a refund could not be
// applied.
func (l *Ledger) owe(ctx context.Context, r *Reservation, amount models.Credits, cause error) {
	e := l.entry(r.Scope, models.EntryRefundFailed, amount, 0, r.ID, cause.Error())
	if err := l.store.AppendEntry(ctx, e); err != nil {
		l.log.Error(ctx, "recording failed refund failed", "reservation_id", r.ID, "amount", int64(amount), "error", err)
	}
}

func (l *Ledger) mutate(ctx context.Context, scope models.Scope, kind models.EntryKind, reservationID, note string, fn change) (models.Credits, models.Credits, error) {
	unlock := l.locks.lock(scope)
	defer unlock()
	return l.apply(ctx, scope, kind, reservationID, note, fn)
}

// Reserve takes the cost of estimatedTokens at price from scope. It fails
// with common.ErrInsufficientCredits, leaving the balance untouched, when
// the balance cannot cover it.
func (l *Ledger) Reserve(ctx context.Context, scope models.Scope, estimatedTokens int, price models.Price) (*Reservation, error) {
	if !scope.Kind.Valid() || scope.ID == "" {
		return nil, fmt.Errorf("%w: bad scope %q", common.ErrValidation, scope)
	}
	cost := price.Cost(estimatedTokens)
	r := &Reservation{ID: uuid.NewString(), Scope: scope, Price: price, Tokens: estimatedTokens, Amount: cost}

	_, after, err := l.mutate(ctx, scope, models.EntryReserve, r.ID, "", func(balance models.Credits) (models.Credits, error) {
		if balance < cost {
			return 0, fmt.Errorf("%w: %s has %d, needs %d", common.ErrInsufficientCredits, scope, balance, cost)
		}
		return -cost, nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug(ctx, "reserved", "scope", scope.String(), "reservation_id", r.ID, "amount", int64(cost), "balance", int64(after))
	return r, nil
}

// Reconcile settles r against the actual token count: the difference to the
// reserved amount is refunded or charged. An overrun the balance cannot cover
// drains the balance to zero and records a shortfall entry. Failures are
// logged, never returned.
func (l *Ledger) Reconcile(ctx context.Context, r *Reservation, actualTokens int) {
	if !r.settled.CompareAndSwap(false, true) {
		l.log.Warn(ctx, "reservation already settled", "reservation_id", r.ID)
		return
	}
	ctx = context.WithoutCancel(ctx)

	actual := r.Price.Cost(actualTokens)
	diff := r.Amount - actual
	switch {
	case diff > 0:
		_, after, err := l.mutate(ctx, r.Scope, models.EntryRefund, r.ID, "", func(models.Credits) (models.Credits, error) {
			return diff, nil
		})
		if err != nil {
			l.log.Error(ctx, "refund failed", "reservation_id", r.ID, "amount", int64(diff), "error", err)
			l.owe(ctx, r, diff, err)
			return
		}
		l.log.Debug(ctx, "reconciled", "reservation_id", r.ID, "refund", int64(diff), "balance", int64(after))
	case diff < 0:
		extra := -diff
		charged, after, err := l.mutate(ctx, r.Scope, models.EntryCharge, r.ID, "", func(balance models.Credits) (models.Credits, error) {
			return -min(balance, extra), nil
		})
		if err != nil {
			l.log.Error(ctx, "overrun charge failed", "reservation_id", r.ID, "amount", int64(extra), "error", err)
			return
		}
		if missing := extra + charged; missing > 0 {
			l.log.Warn(ctx, "ledger shortfall", "scope", r.Scope.String(), "reservation_id", r.ID, "missing", int64(missing))
			e := l.entry(r.Scope, models.EntryShortfall, -missing, after, r.ID, fmt.Sprintf("%d tokens exceeded balance", actualTokens))
			if err := l.store.AppendEntry(ctx, e); err != nil {
				l.log.Error(ctx, "recording shortfall failed", "reservation_id", r.ID, "error", err)
			}
		}
	default:
		l.log.Debug(ctx, "reconciled", "reservation_id", r.ID, "exact", true)
	}
}

// Release returns everything r reserved. Failures are logged, never returned.
func (l *Ledger) Release(ctx context.Context, r *Reservation) {
	if !r.settled.CompareAndSwap(false, true) {
		l.log.Warn(ctx, "reservation already settled", "reservation_id", r.ID)
		return
	}
	ctx = context.WithoutCancel(ctx)

	if r.Amount == 0 {
		return
	}
	_, after, err := l.mutate(ctx, r.Scope, models.EntryRelease, r.ID, "", func(models.Credits) (models.Credits, error) {
		return r.Amount, nil
	})
	if err != nil {
		l.log.Error(ctx, "release failed", "reservation_id", r.ID, "amount", int64(r.Amount), "error", err)
		l.owe(ctx, r, r.Amount, err)
		return
	}
	l.log.Debug(ctx, "released", "reservation_id", r.ID, "balance", int64(after))
}

func positive(amount models.Credits) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", common.ErrValidation)
	}
	return nil
}

// Credit adds amount to scope and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, scope models.Scope, amount models.Credits, note string) (models.Credits, error) {
	if err := positive(amount); err != nil {
		return 0, err
	}
	_, after, err := l.mutate(ctx, scope, models.EntryTopUp, "", note, func(models.Credits) (models.Credits, error) {
		return amount, nil
	})
	if err != nil {
		return 0, err
	}
	l.log.Info(ctx, "credited", "scope", scope.String(), "amount", int64(amount), "balance", int64(after))
	return after, nil
}

func debit(amount models.Credits, scope models.Scope) change {
	return func(balance models.Credits) (models.Credits, error) {
		if balance < amount {
			return 0, fmt.Errorf("%w: %s has %d, needs %d", common.ErrInsufficientCredits, scope, balance, amount)
		}
		return -amount, nil
	}
}

// Debit removes amount from scope and returns the new balance.
func (l *Ledger) Debit(ctx context.Context, scope models.Scope, amount models.Credits, note string) (models.Credits, error) {
	if err := positive(amount); err != nil {
		return 0, err
	}
	_, after, err := l.mutate(ctx, scope, models.EntryDebit, "", note, debit(amount, scope))
	if err != nil {
		return 0, err
	}
	return after, nil
}

// Transfer moves amount from one scope to another. Both scopes stay locked
// for the whole operation; if the credit leg fails the debit is reversed.
func (l *Ledger) Transfer(ctx context.Context, from, to models.Scope, amount models.Credits) error {
	if err := positive(amount); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: transfer to the same scope", common.ErrValidation)
	}

	unlock := l.locks.lockPair(from, to)
	defer unlock()

	id := uuid.NewString()
	note := fmt.Sprintf("%s -> %s", from, to)
	if _, _, err := l.apply(ctx, from, models.EntryTransferOut, id, note, debit(amount, from)); err != nil {
		return err
	}
	_, _, err := l.apply(ctx, to, models.EntryTransferIn, id, note, func(models.Credits) (models.Credits, error) {
		return amount, nil
	})
	if err == nil {
		l.log.Info(ctx, "transferred", "from", from.String(), "to", to.String(), "amount", int64(amount))
		return nil
	}

	_, _, cerr := l.apply(context.WithoutCancel(ctx), from, models.EntryRefund, id, "transfer reversed", func(models.Credits) (models.Credits, error) {
		return amount, nil
	})
	if cerr != nil {
		l.log.Error(ctx, "transfer compensation failed", "from", from.String(), "amount", int64(amount), "error", cerr)
	}
	return err
}

func (l *Ledger) Balance(ctx context.Context, scope models.Scope) (models.Credits, error) {
	return l.store.Balance(ctx, scope)
}

// History returns up to limit entries of scope, newest first.
func (l *Ledger) History(ctx context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error) {
	return l.store.Entries(ctx, scope, limit)
}
