// Package custody provides the account ledger that backs auction value transfers.
//
// Money Flow:
// 1. An account is funded with Deposit
// 2. The value accompanying an auction call is taken with Charge
// 3. If the auction rejects the call, the charge is returned with Release
// 4. Refunds, the prize and the operator sweep arrive through Transfer
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/core"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountFrozen       = errors.New("account refuses incoming transfers")
	ErrUnknownCharge       = errors.New("unknown charge")
)

// TxType classifies a ledger transaction.
type TxType string

const (
	TxTypeDeposit  TxType = "deposit"
	TxTypeCharge   TxType = "charge"
	TxTypeRelease  TxType = "release"
	TxTypeTransfer TxType = "transfer"
)

// Transaction is one balance change on an account.
type Transaction struct {
	ID           string          `json:"id"`
	Account      core.Identity   `json:"account"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Receiver runs when a transfer is about to land on an account. Returning an
// error rejects the transfer. Receivers may call back into the auction with
// the context they are given.
type Receiver func(ctx context.Context, p core.Payment) error

// Ledger holds account balances outside any auction. It implements
// core.Transferrer.
type Ledger struct {
	mu        sync.Mutex
	accounts  map[core.Identity]decimal.Decimal
	frozen    map[core.Identity]bool
	receivers map[core.Identity]Receiver
	charges   map[string]Transaction
	history   []Transaction
	now       func() time.Time
}

var _ core.Transferrer = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:  make(map[core.Identity]decimal.Decimal),
		frozen:    make(map[core.Identity]bool),
		receivers: make(map[core.Identity]Receiver),
		charges:   make(map[string]Transaction),
		now:       time.Now,
	}
}

// Balance returns the spendable balance of who.
func (l *Ledger) Balance(who core.Identity) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[who]
}

// Deposit adds funds to an account.
func (l *Ledger) Deposit(ctx context.Context, who core.Identity, amount decimal.Decimal) (Transaction, error) {
	if err := validate(who, amount); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(who, TxTypeDeposit, amount), nil
}

// Charge removes amount from who so it can accompany an auction call. The
// returned transaction ID can be passed to Release if the call is rejected.
func (l *Ledger) Charge(ctx context.Context, who core.Identity, amount decimal.Decimal) (Transaction, error) {
	if err := validate(who, amount); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.accounts[who]
	if amount.GreaterThan(available) {
		return Transaction{}, fmt.Errorf("%w: available %s, required %s", ErrInsufficientBalance, available, amount)
	}

	tx := l.apply(who, TxTypeCharge, amount.Neg())
	l.charges[tx.ID] = tx
	return tx, nil
}

// Release returns a charge to its account. Releasing twice is an error.
func (l *Ledger) Release(ctx context.Context, chargeID string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	charge, ok := l.charges[chargeID]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownCharge, chargeID)
	}
	delete(l.charges, chargeID)
	return l.apply(charge.Account, TxTypeRelease, charge.Amount.Neg()), nil
}

// Settle forgets a charge once the auction has accepted the funds.
func (l *Ledger) Settle(chargeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.charges, chargeID)
}

// Transfer credits p.To. Frozen accounts and rejecting receivers fail the
// transfer without touching any balance.
func (l *Ledger) Transfer(ctx context.Context, p core.Payment) error {
	if err := validate(p.To, p.Amount); err != nil {
		return err
	}

	l.mu.Lock()
	frozen := l.frozen[p.To]
	receiver := l.receivers[p.To]
	l.mu.Unlock()

	if frozen {
		return fmt.Errorf("%w: %s", ErrAccountFrozen, p.To)
	}
	if receiver != nil {
		if err := receiver(ctx, p); err != nil {
			return fmt.Errorf("receiver %s rejected transfer: %w", p.To, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.apply(p.To, TxTypeTransfer, p.Amount)
	return nil
}

// Freeze makes who refuse every incoming transfer until Unfreeze.
func (l *Ledger) Freeze(who core.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen[who] = true
}

func (l *Ledger) Unfreeze(who core.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.frozen, who)
}

// SetReceiver installs r for transfers into who; nil removes it.
func (l *Ledger) SetReceiver(who core.Identity, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.receivers, who)
		return
	}
	l.receivers[who] = r
}

// Transactions returns the most recent transactions for who, newest first.
// A limit of zero or less returns all of them.
func (l *Ledger) Transactions(who core.Identity, limit int) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Transaction
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].Account != who {
			continue
		}
		out = append(out, l.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// apply must be called with l.mu held.
func (l *Ledger) apply(who core.Identity, typ TxType, delta decimal.Decimal) Transaction {
	balance := l.accounts[who].Add(delta)
	l.accounts[who] = balance

	tx := Transaction{
		ID:           uuid.New().String(),
		Account:      who,
		Type:         typ,
		Amount:       delta,
		BalanceAfter: balance,
		CreatedAt:    l.now(),
	}
	l.history = append(l.history, tx)
	return tx
}

func validate(who core.Identity, amount decimal.Decimal) error {
	if who.IsEmpty() {
		return core.ErrInvalidBidder
	}
	return core.ValidateAmount(amount)
}
