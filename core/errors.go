package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds to cover prize")
	ErrAuctionEnded      = errors.New("auction ended")
	ErrInsufficientBid   = errors.New("bid below required increment")
	ErrAuctionNotEnded   = errors.New("auction not ended")
	ErrAlreadySettled    = errors.New("auction already settled")
	ErrRefundFailed      = errors.New("refund transfer failed")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrReentrant         = errors.New("reentrant call")
	ErrNotStarted        = errors.New("auction not started")
	ErrAlreadyStarted    = errors.New("auction already started")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidBidder     = errors.New("invalid bidder")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
)

// TransferError records a failed payment from the value-transfer primitive.
type TransferError struct {
	To     Identity
	Amount decimal.Decimal
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s to %q: %v", e.Amount, e.To, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// errorCodes maps sentinels to stable wire codes. Order matters: RefundFailed
// is checked before TransferFailed since refund errors wrap transfer errors.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrAuctionEnded, "auction_ended"},
	{ErrInsufficientBid, "insufficient_bid"},
	{ErrAuctionNotEnded, "auction_not_ended"},
	{ErrAlreadySettled, "already_settled"},
	{ErrRefundFailed, "refund_failed"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrReentrant, "reentrant"},
	{ErrNotStarted, "not_started"},
	{ErrAlreadyStarted, "already_started"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidBidder, "invalid_bidder"},
	{ErrNothingToWithdraw, "nothing_to_withdraw"},
}

// ErrorCode returns the wire code for err, "" for nil and "internal" for
// errors outside the auction taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
