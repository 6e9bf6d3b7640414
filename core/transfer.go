package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Payment is a single outgoing value transfer.
type Payment struct {
	To     Identity
	Amount decimal.Decimal
}

// Transferrer is the value-transfer primitive that moves custodied funds out of
// an auction. Implementations must return an error for any payment that did not
// land; they must never report success for a failed transfer.
//
// The context handed to Transfer carries the in-flight operation. Recipient code
// that calls back into the auction must pass it along so reentry is detected.
type Transferrer interface {
	Transfer(ctx context.Context, p Payment) error
}

// TransferFunc adapts a function to the Transferrer interface.
type TransferFunc func(ctx context.Context, p Payment) error

func (f TransferFunc) Transfer(ctx context.Context, p Payment) error { return f(ctx, p) }
