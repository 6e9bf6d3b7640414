package core

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// state is the mutable record owned by an Auction. It holds only value types
// so a copy taken before an operation is a complete rollback point.
type state struct {
	phase      Phase // never PhaseClosed; closed is derived from the clock
	highest    Bid
	second     Bid
	deadline   time.Time
	balance    decimal.Decimal
	bidCount   int
	transcript string
}

// Auction is a single dollar auction over a custodied prize.
//
// Every mutating operation runs to completion before the next one starts.
// Outgoing transfers happen only after internal bookkeeping is finished, and
// a transfer that calls back into the same auction with the context it was
// given is rejected with ErrReentrant.
type Auction struct {
	id       string
	params   Params
	clock    Clock
	transfer Transferrer
	observer Observer

	sem     chan struct{}
	st      state
	credits map[Identity]decimal.Decimal

	committed atomic.Pointer[Snapshot]
}

// Option configures an Auction.
type Option func(*Auction)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(a *Auction) { a.clock = c }
}

// WithObserver registers the observer notified after each committed operation.
func WithObserver(o Observer) Option {
	return func(a *Auction) { a.observer = o }
}

// WithAuctionID sets the instance identifier instead of a random one.
func WithAuctionID(id string) Option {
	return func(a *Auction) { a.id = id }
}

// New creates an unstarted auction. Funds leave the auction only through transfer.
func New(params Params, transfer Transferrer, opts ...Option) (*Auction, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if transfer == nil {
		return nil, fmt.Errorf("transferrer is required")
	}

	a := &Auction{
		params:   params,
		clock:    defaultClock,
		transfer: transfer,
		sem:      make(chan struct{}, 1),
		credits:  make(map[Identity]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = uuid.NewString()
	}
	a.st = state{
		phase:      PhaseUnstarted,
		balance:    decimal.Zero,
		transcript: GenesisTranscriptHash(a.id),
	}
	a.publish()
	return a, nil
}

// ID returns the auction identifier.
func (a *Auction) ID() string { return a.id }

// Params returns the constants the auction was created with.
func (a *Auction) Params() Params { return a.params }

type inFlightKey struct{ a *Auction }

// enter acquires the operation slot. The returned context marks the operation
// as in flight and must be the one handed to the transferrer.
func (a *Auction) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(inFlightKey{a}) != nil {
		return nil, nil, ErrReentrant
	}
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return context.WithValue(ctx, inFlightKey{a}, true), func() { <-a.sem }, nil
}

// Initialize adds value to the custodied balance and opens the auction. It
// fails with ErrInsufficientFunds, retaining nothing, if the balance would not
// cover the prize. An auction can be initialized once.
func (a *Auction) Initialize(ctx context.Context, caller Identity, value decimal.Decimal) error {
	_, release, err := a.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := ValidateAmount(value); err != nil {
		return err
	}
	if a.st.phase != PhaseUnstarted {
		return ErrAlreadyStarted
	}

	balance := a.st.balance.Add(value)
	if balance.LessThan(a.params.Prize) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, balance, a.params.Prize)
	}

	now := a.clock.Now()
	a.st.balance = balance
	a.st.phase = PhaseOpen
	a.st.deadline = now.Add(a.params.AuctionDuration)
	a.publish()

	a.emit(Event{Kind: EventAuctionStarted, Account: caller, Amount: value, Deadline: a.st.deadline, At: now})
	return nil
}

// BidResult reports the effects of an accepted bid.
type BidResult struct {
	Seq      int       `json:"seq"`
	Highest  Bid       `json:"highest_bid"`
	Second   Bid       `json:"second_bid"`
	Refund   Bid       `json:"refund"`
	Credited bool      `json:"credited"`
	Deadline time.Time `json:"deadline"`
	Extended bool      `json:"extended"`
}

// Bid admits amount from bidder as the new highest bid. The previous highest
// bid becomes the second bid and stays escrowed; the previous second bid is
// paid back (or credited under RefundPull). If the refund cannot be paid the
// bid is rejected with ErrRefundFailed and nothing changes.
func (a *Auction) Bid(ctx context.Context, bidder Identity, amount decimal.Decimal) (BidResult, error) {
	ctx, release, err := a.enter(ctx)
	if err != nil {
		return BidResult{}, err
	}
	defer release()

	if bidder.IsEmpty() {
		return BidResult{}, fmt.Errorf("%w: empty identity", ErrInvalidBidder)
	}
	if err := ValidateAmount(amount); err != nil {
		return BidResult{}, err
	}

	now := a.clock.Now()
	switch a.st.phase {
	case PhaseUnstarted:
		return BidResult{}, ErrNotStarted
	case PhaseSettled:
		return BidResult{}, ErrAuctionEnded
	}
	if now.After(a.st.deadline) {
		return BidResult{}, fmt.Errorf("%w: deadline was %s", ErrAuctionEnded, a.st.deadline.Format(time.RFC3339))
	}
	required := a.st.highest.Amount.Add(a.params.MinIncrement)
	if amount.LessThan(required) {
		return BidResult{}, fmt.Errorf("%w: got %s, need at least %s", ErrInsufficientBid, amount, required)
	}

	rollback := a.st
	refund := a.st.second

	a.st.second = a.st.highest
	a.st.highest = Bid{Bidder: bidder, Amount: amount}
	a.st.balance = a.st.balance.Add(amount)
	a.st.bidCount++
	a.st.transcript = ComputeTranscriptHash(a.st.transcript, a.st.bidCount, bidder, amount)

	extended := false
	if a.st.deadline.Sub(now) < a.params.AntiSnipeWindow {
		a.st.deadline = a.st.deadline.Add(a.params.AntiSnipeWindow)
		extended = true
	}

	credited := false
	if owed(refund) {
		if a.params.RefundPolicy == RefundPull {
			a.credits[refund.Bidder] = a.credits[refund.Bidder].Add(refund.Amount)
			credited = true
		} else {
			a.st.balance = a.st.balance.Sub(refund.Amount)
			if err := a.pay(ctx, refund.Bidder, refund.Amount); err != nil {
				a.st = rollback
				return BidResult{}, fmt.Errorf("%w: %w", ErrRefundFailed, err)
			}
		}
	}
	a.publish()

	a.emit(Event{Kind: EventBidSubmitted, Account: bidder, Amount: amount, Deadline: a.st.deadline, At: now})
	if extended {
		a.emit(Event{Kind: EventDeadlineExtended, Deadline: a.st.deadline, At: now})
	}
	if owed(refund) {
		kind := EventRefundIssued
		if credited {
			kind = EventRefundCredited
		}
		a.emit(Event{Kind: kind, Account: refund.Bidder, Amount: refund.Amount, Deadline: a.st.deadline, At: now})
	}

	return BidResult{
		Seq:      a.st.bidCount,
		Highest:  a.st.highest,
		Second:   a.st.second,
		Refund:   refund,
		Credited: credited,
		Deadline: a.st.deadline,
		Extended: extended,
	}, nil
}

// Settle pays the prize to the highest bidder and sweeps the rest of the
// custodied balance to the operator. It succeeds at most once.
//
// If the prize transfer fails nothing changes. If the prize lands but the
// sweep fails, the sweep is credited to the operator for later withdrawal and
// the settlement still completes with SweepDeferred set.
func (a *Auction) Settle(ctx context.Context) (Settlement, error) {
	ctx, release, err := a.enter(ctx)
	if err != nil {
		return Settlement{}, err
	}
	defer release()

	switch a.st.phase {
	case PhaseUnstarted:
		return Settlement{}, ErrNotStarted
	case PhaseSettled:
		return Settlement{}, ErrAlreadySettled
	}
	now := a.clock.Now()
	if !now.After(a.st.deadline) {
		return Settlement{}, fmt.Errorf("%w: deadline is %s", ErrAuctionNotEnded, a.st.deadline.Format(time.RFC3339))
	}

	rollback := a.st
	a.st.phase = PhaseSettled

	winner := a.st.highest
	prize := decimal.Zero
	if !winner.Bidder.IsEmpty() {
		prize = a.params.Prize
	}
	sweep := a.st.balance.Sub(prize).Sub(a.pendingCredits())

	a.st.balance = a.st.balance.Sub(prize)
	if err := a.pay(ctx, winner.Bidder, prize); err != nil {
		a.st = rollback
		return Settlement{}, fmt.Errorf("%w: prize: %w", ErrTransferFailed, err)
	}

	deferred := false
	a.st.balance = a.st.balance.Sub(sweep)
	if err := a.pay(ctx, a.params.Operator, sweep); err != nil {
		a.st.balance = a.st.balance.Add(sweep)
		a.credits[a.params.Operator] = a.credits[a.params.Operator].Add(sweep)
		deferred = true
	}
	a.publish()

	settlement := Settlement{
		AuctionID:      a.id,
		Winner:         winner,
		Prize:          prize,
		Operator:       a.params.Operator,
		Sweep:          sweep,
		SweepDeferred:  deferred,
		SecondBid:      a.st.second,
		Deadline:       a.st.deadline,
		SettledAt:      now,
		BidCount:       a.st.bidCount,
		TranscriptHash: a.st.transcript,
	}

	if deferred {
		a.emit(Event{Kind: EventRefundCredited, Account: a.params.Operator, Amount: sweep, Deadline: a.st.deadline, At: now})
	}
	a.emit(Event{Kind: EventAuctionSettled, Account: winner.Bidder, Amount: prize, Deadline: a.st.deadline, At: now})
	return settlement, nil
}

// Withdraw pays out everything credited to who. Credits accrue from displaced
// bids under RefundPull and from a deferred settlement sweep.
func (a *Auction) Withdraw(ctx context.Context, who Identity) (decimal.Decimal, error) {
	ctx, release, err := a.enter(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	amount, ok := a.credits[who]
	if !ok || !amount.IsPositive() {
		return decimal.Zero, ErrNothingToWithdraw
	}

	delete(a.credits, who)
	a.st.balance = a.st.balance.Sub(amount)
	if err := a.pay(ctx, who, amount); err != nil {
		a.credits[who] = amount
		a.st.balance = a.st.balance.Add(amount)
		return decimal.Zero, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	a.publish()

	a.emit(Event{Kind: EventWithdrawal, Account: who, Amount: amount, Deadline: a.st.deadline, At: a.clock.Now()})
	return amount, nil
}

func (a *Auction) pay(ctx context.Context, to Identity, amount decimal.Decimal) error {
	if to.IsEmpty() || amount.IsZero() {
		return nil
	}
	if err := a.transfer.Transfer(ctx, Payment{To: to, Amount: amount}); err != nil {
		return &TransferError{To: to, Amount: amount, Err: err}
	}
	return nil
}

func (a *Auction) pendingCredits() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range a.credits {
		total = total.Add(amount)
	}
	return total
}

func (a *Auction) emit(e Event) {
	if a.observer == nil {
		return
	}
	e.AuctionID = a.id
	a.observer.Observe(e)
}

func (a *Auction) publish() {
	credits := maps.Clone(a.credits)
	a.committed.Store(&Snapshot{
		AuctionID:      a.id,
		Phase:          a.st.phase,
		HighestBid:     a.st.highest,
		SecondBid:      a.st.second,
		Deadline:       a.st.deadline,
		Balance:        a.st.balance,
		PendingCredits: a.pendingCredits(),
		Credits:        credits,
		Prize:          a.params.Prize,
		MinIncrement:   a.params.MinIncrement,
		Operator:       a.params.Operator,
		BidCount:       a.st.bidCount,
		TranscriptHash: a.st.transcript,
		Settled:        a.st.phase == PhaseSettled,
	})
}

func owed(b Bid) bool {
	return !b.Bidder.IsEmpty() && b.Amount.IsPositive()
}

// Snapshot returns the latest committed state. It never waits on an in-flight
// operation, so it is safe to call from transfer recipients and observers.
func (a *Auction) Snapshot() Snapshot {
	s := *a.committed.Load()
	s.Credits = maps.Clone(s.Credits)
	if s.Phase == PhaseOpen && a.clock.Now().After(s.Deadline) {
		s.Phase = PhaseClosed
	}
	return s
}

// HighestBid returns the current leader.
func (a *Auction) HighestBid() Bid { return a.committed.Load().HighestBid }

// SecondBid returns the previous leader.
func (a *Auction) SecondBid() Bid { return a.committed.Load().SecondBid }

// Deadline returns the instant after which bids are refused.
func (a *Auction) Deadline() time.Time { return a.committed.Load().Deadline }

// Balance returns the custodied balance.
func (a *Auction) Balance() decimal.Decimal { return a.committed.Load().Balance }

// Phase returns the lifecycle phase as of now.
func (a *Auction) Phase() Phase { return a.Snapshot().Phase }

// PendingCredit returns the withdrawable credit held for who.
func (a *Auction) PendingCredit(who Identity) decimal.Decimal {
	if amount, ok := a.committed.Load().Credits[who]; ok {
		return amount
	}
	return decimal.Zero
}
