package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names an auction notification.
type EventKind string

const (
	EventAuctionStarted   EventKind = "auction_started"
	EventBidSubmitted     EventKind = "bid_submitted"
	EventDeadlineExtended EventKind = "deadline_extended"
	EventRefundIssued     EventKind = "refund_issued"
	EventRefundCredited   EventKind = "refund_credited"
	EventWithdrawal       EventKind = "withdrawal"
	EventAuctionSettled   EventKind = "auction_settled"
)

// Event is emitted after an operation commits. Fields not relevant to a kind
// are left zero.
type Event struct {
	Kind      EventKind       `json:"kind"`
	AuctionID string          `json:"auction_id"`
	Account   Identity        `json:"account,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Deadline  time.Time       `json:"deadline"`
	At        time.Time       `json:"at"`
}

// Observer receives committed auction events. Observers must not call back
// into the auction; their absence does not affect correctness.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (os Observers) Observe(e Event) {
	for _, o := range os {
		if o != nil {
			o.Observe(e)
		}
	}
}
