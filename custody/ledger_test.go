package custody

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/core"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func checkBalance(t *testing.T, l *Ledger, who core.Identity, want string) {
	t.Helper()
	if got := l.Balance(who); !got.Equal(d(want)) {
		t.Errorf("balance of %s = %s, want %s", who, got, want)
	}
}

func TestLedger_DepositChargeRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	_, err := l.Deposit(ctx, "alice", d("2"))
	assert.NoError(t, err)

	charge, err := l.Charge(ctx, "alice", d("0.75"))
	assert.NoError(t, err)
	checkBalance(t, l, "alice", "1.25")
	check.Equal(t, TxTypeCharge, charge.Type)

	_, err = l.Release(ctx, charge.ID)
	assert.NoError(t, err)
	checkBalance(t, l, "alice", "2")

	_, err = l.Release(ctx, charge.ID)
	check.True(t, errors.Is(err, ErrUnknownCharge))
	checkBalance(t, l, "alice", "2")
}

func TestLedger_ChargeOverdraft(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	_, err := l.Deposit(ctx, "bob", d("0.10"))
	assert.NoError(t, err)

	_, err = l.Charge(ctx, "bob", d("0.11"))
	check.True(t, errors.Is(err, ErrInsufficientBalance))
	checkBalance(t, l, "bob", "0.10")
}

func TestLedger_SettledChargeCannotBeReleased(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	_, err := l.Deposit(ctx, "carol", d("1"))
	assert.NoError(t, err)
	charge, err := l.Charge(ctx, "carol", d("1"))
	assert.NoError(t, err)

	l.Settle(charge.ID)
	_, err = l.Release(ctx, charge.ID)
	check.True(t, errors.Is(err, ErrUnknownCharge))
	checkBalance(t, l, "carol", "0")
}

func TestLedger_Validation(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	tests := []struct {
		name    string
		who     core.Identity
		amount  string
		wantErr error
	}{
		{"empty account", core.EmptyIdentity, "1", core.ErrInvalidBidder},
		{"negative amount", "dave", "-1", core.ErrInvalidAmount},
		{"too precise", "dave", "0.0000000000000000001", core.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Deposit(ctx, tt.who, d(tt.amount))
			check.True(t, errors.Is(err, tt.wantErr))
			err = l.Transfer(ctx, core.Payment{To: tt.who, Amount: d(tt.amount)})
			check.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestLedger_TransferFrozenAndReceivers(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	l.Freeze("erin")
	err := l.Transfer(ctx, core.Payment{To: "erin", Amount: d("1")})
	check.True(t, errors.Is(err, ErrAccountFrozen))
	checkBalance(t, l, "erin", "0")

	l.Unfreeze("erin")
	assert.NoError(t, l.Transfer(ctx, core.Payment{To: "erin", Amount: d("1")}))
	checkBalance(t, l, "erin", "1")

	rejection := errors.New("no thanks")
	l.SetReceiver("erin", func(context.Context, core.Payment) error { return rejection })
	err = l.Transfer(ctx, core.Payment{To: "erin", Amount: d("1")})
	check.True(t, errors.Is(err, rejection))
	checkBalance(t, l, "erin", "1")

	l.SetReceiver("erin", nil)
	assert.NoError(t, l.Transfer(ctx, core.Payment{To: "erin", Amount: d("1")}))
	checkBalance(t, l, "erin", "2")
}

func TestLedger_Transactions(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	_, err := l.Deposit(ctx, "frank", d("3"))
	assert.NoError(t, err)
	_, err = l.Charge(ctx, "frank", d("1"))
	assert.NoError(t, err)
	assert.NoError(t, l.Transfer(ctx, core.Payment{To: "frank", Amount: d("0.5")}))
	_, err = l.Deposit(ctx, "grace", d("1"))
	assert.NoError(t, err)

	txs := l.Transactions("frank", 0)
	check.Equal(t, 3, len(txs))
	check.Equal(t, TxTypeTransfer, txs[0].Type)
	check.Equal(t, TxTypeDeposit, txs[2].Type)
	check.True(t, txs[0].BalanceAfter.Equal(d("2.5")))
	check.True(t, txs[0].CreatedAt.Equal(fixed))

	check.Equal(t, 1, len(l.Transactions("frank", 1)))
}

// A bidder whose receiver tries to outbid itself while being refunded must be
// turned away without disturbing the auction.
func TestLedger_ReentrantReceiverAgainstAuction(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	a, err := core.New(core.DefaultParams("house"), l, core.WithAuctionID("custody-test"))
	assert.NoError(t, err)
	assert.NoError(t, a.Initialize(ctx, "house", d("1")))

	var nested error
	l.SetReceiver("mallory", func(ctx context.Context, p core.Payment) error {
		_, nested = a.Bid(ctx, "mallory", d("5"))
		return nil
	})

	_, err = a.Bid(ctx, "mallory", d("0.05"))
	assert.NoError(t, err)
	_, err = a.Bid(ctx, "trent", d("0.10"))
	assert.NoError(t, err)
	_, err = a.Bid(ctx, "trent", d("0.15"))
	assert.NoError(t, err)

	check.True(t, errors.Is(nested, core.ErrReentrant))
	checkBalance(t, l, "mallory", "0.05")
	check.Equal(t, core.Identity("trent"), a.HighestBid().Bidder)
}
