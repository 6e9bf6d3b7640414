package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// mockTransfer records payments and lets tests refuse or intercept them.
type mockTransfer struct {
	mu       sync.Mutex
	payments []Payment
	refuse   map[Identity]error
	hook     func(ctx context.Context, p Payment) error
}

func newMockTransfer() *mockTransfer {
	return &mockTransfer{refuse: make(map[Identity]error)}
}

func (m *mockTransfer) Transfer(ctx context.Context, p Payment) error {
	m.mu.Lock()
	refuseErr := m.refuse[p.To]
	hook := m.hook
	m.mu.Unlock()

	if refuseErr != nil {
		return refuseErr
	}
	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, p)
	return nil
}

func (m *mockTransfer) Refuse(id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuse[id] = errors.New("recipient rejected funds")
}

func (m *mockTransfer) Accept(id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refuse, id)
}

func (m *mockTransfer) Payments() []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Payment(nil), m.payments...)
}

// Received sums everything paid to id.
func (m *mockTransfer) Received(id Identity) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.Payments() {
		if p.To == id {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// recordingObserver keeps every event it sees.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) Kinds() []EventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]EventKind, len(o.events))
	for i, e := range o.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func checkAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(amt(want)) {
		t.Errorf("amount = %s, want %s", got, want)
	}
}

func checkBid(t *testing.T, wantBidder Identity, wantAmount string, got Bid) {
	t.Helper()
	if got.Bidder != wantBidder {
		t.Errorf("bidder = %q, want %q", got.Bidder, wantBidder)
	}
	checkAmount(t, wantAmount, got.Amount)
}

type testAuction struct {
	*Auction
	clock    *fakeClock
	transfer *mockTransfer
	observer *recordingObserver
}

const testOperator Identity = "operator"

func newTestAuction(t *testing.T, mutate ...func(*Params)) *testAuction {
	t.Helper()
	params := DefaultParams(testOperator)
	for _, m := range mutate {
		m(&params)
	}
	clock := newFakeClock()
	transfer := newMockTransfer()
	observer := &recordingObserver{}
	a, err := New(params, transfer, WithClock(clock), WithObserver(observer), WithAuctionID("auction-test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testAuction{Auction: a, clock: clock, transfer: transfer, observer: observer}
}

func newOpenAuction(t *testing.T, mutate ...func(*Params)) *testAuction {
	t.Helper()
	ta := newTestAuction(t, mutate...)
	if err := ta.Initialize(context.Background(), testOperator, ta.Params().Prize); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return ta
}

func (ta *testAuction) mustBid(t *testing.T, bidder Identity, amount string) BidResult {
	t.Helper()
	res, err := ta.Bid(context.Background(), bidder, amt(amount))
	if err != nil {
		t.Fatalf("Bid(%s, %s) error = %v", bidder, amount, err)
	}
	return res
}

func (ta *testAuction) closeAuction() {
	ta.clock.Set(ta.Deadline().Add(time.Second))
}
