package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Identity is an opaque account identifier. The zero value is the empty sentinel.
type Identity string

// EmptyIdentity marks a bid slot that has never been filled.
const EmptyIdentity Identity = ""

// IsEmpty reports whether id is the empty sentinel.
func (id Identity) IsEmpty() bool {
	return id == EmptyIdentity
}

// Bid is a single recorded bid. It is replaced wholesale, never mutated.
type Bid struct {
	Bidder Identity        `json:"bidder"`
	Amount decimal.Decimal `json:"amount"`
}

// Phase is the lifecycle stage of an auction.
type Phase int

const (
	PhaseUnstarted Phase = iota
	PhaseOpen
	PhaseClosed
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseUnstarted:
		return "unstarted"
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	case PhaseSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name so wire formats stay readable.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseUnstarted, PhaseOpen, PhaseClosed, PhaseSettled} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// RefundPolicy selects how a displaced bidder gets their money back.
type RefundPolicy int

const (
	// RefundPush transfers the refund inside the displacing bid.
	RefundPush RefundPolicy = iota
	// RefundPull credits the refund to a ledger the bidder withdraws from.
	RefundPull
)

func (p RefundPolicy) String() string {
	if p == RefundPull {
		return "pull"
	}
	return "push"
}

// Snapshot is the committed, read-only view of an auction.
type Snapshot struct {
	AuctionID      string                       `json:"auction_id"`
	Phase          Phase                        `json:"phase"`
	HighestBid     Bid                          `json:"highest_bid"`
	SecondBid      Bid                          `json:"second_bid"`
	Deadline       time.Time                    `json:"deadline"`
	Balance        decimal.Decimal              `json:"balance"`
	PendingCredits decimal.Decimal              `json:"pending_credits"`
	Credits        map[Identity]decimal.Decimal `json:"credits,omitempty"`
	Prize          decimal.Decimal              `json:"prize"`
	MinIncrement   decimal.Decimal              `json:"min_increment"`
	Operator       Identity                     `json:"operator"`
	BidCount       int                          `json:"bid_count"`
	TranscriptHash string                       `json:"transcript_hash"`
	Settled        bool                         `json:"settled"`
}

// Verify checks the ranking and solvency invariants against the snapshot.
func (s Snapshot) Verify() error {
	if s.HighestBid.Amount.LessThan(s.SecondBid.Amount) {
		return fmt.Errorf("highest bid %s below second bid %s", s.HighestBid.Amount, s.SecondBid.Amount)
	}
	if s.Phase == PhaseUnstarted {
		return nil
	}
	required := s.PendingCredits
	if !s.Settled {
		required = required.Add(s.Prize)
	}
	if s.Balance.LessThan(required) {
		return fmt.Errorf("balance %s cannot cover %s", s.Balance, required)
	}
	return nil
}

// Settlement describes the payouts made by a successful Settle call.
type Settlement struct {
	AuctionID      string          `json:"auction_id"`
	Winner         Bid             `json:"winner"`
	Prize          decimal.Decimal `json:"prize"`
	Operator       Identity        `json:"operator"`
	Sweep          decimal.Decimal `json:"sweep"`
	SweepDeferred  bool            `json:"sweep_deferred"`
	SecondBid      Bid             `json:"second_bid"`
	Deadline       time.Time       `json:"deadline"`
	SettledAt      time.Time       `json:"settled_at"`
	BidCount       int             `json:"bid_count"`
	TranscriptHash string          `json:"transcript_hash"`
}

// HasWinner reports whether any bid was placed before settlement.
func (s *Settlement) HasWinner() bool {
	return !s.Winner.Bidder.IsEmpty()
}
