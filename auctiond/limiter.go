package main

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/m1guelpf/dollar-auction/core"
)

// maxTrackedBidders bounds the limiter map; past it the map is reset.
const maxTrackedBidders = 10000

// BidLimiter throttles bid requests per bidder.
type BidLimiter struct {
	limiters map[core.Identity]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewBidLimiter allows perSecond sustained bids with the given burst per
// bidder. A non-positive rate disables limiting.
func NewBidLimiter(perSecond float64, burst int) *BidLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &BidLimiter{
		limiters: make(map[core.Identity]*rate.Limiter),
		rate:     limit,
		burst:    burst,
	}
}

// Allow reports whether bidder may place a bid now.
func (bl *BidLimiter) Allow(bidder core.Identity) bool {
	if bl == nil || bl.rate == rate.Inf {
		return true
	}
	return bl.getLimiter(bidder).Allow()
}

func (bl *BidLimiter) getLimiter(bidder core.Identity) *rate.Limiter {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	limiter, exists := bl.limiters[bidder]
	if !exists {
		if len(bl.limiters) >= maxTrackedBidders {
			bl.limiters = make(map[core.Identity]*rate.Limiter)
		}
		limiter = rate.NewLimiter(bl.rate, bl.burst)
		bl.limiters[bidder] = limiter
	}
	return limiter
}
