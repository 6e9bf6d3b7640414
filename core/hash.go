package core

import (
	"crypto/sha256"
	"fmt"

	"github.com/shopspring/decimal"
)

// GenesisTranscriptHash is the transcript hash of an auction with no bids.
//
// Formula: SHA256(auction_id + "|genesis")
func GenesisTranscriptHash(auctionID string) string {
	hash := sha256.Sum256([]byte(auctionID + "|genesis"))
	return fmt.Sprintf("%x", hash)
}

// ComputeTranscriptHash extends the bid transcript with one accepted bid.
// Settlement receipts carry the final value so anyone holding the bid history
// can recompute it.
//
// Formula: SHA256(prev + "|" + seq + "|" + bidder + "|" + amount)
//
// The amount is rendered with exactly 18 fractional digits so equal amounts
// hash identically regardless of how the decimal was constructed.
func ComputeTranscriptHash(prev string, seq int, bidder Identity, amount decimal.Decimal) string {
	data := fmt.Sprintf("%s|%d|%s|%s", prev, seq, bidder, amount.StringFixed(monetaryPrecision))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ReplayTranscript recomputes the transcript hash for an ordered bid history.
func ReplayTranscript(auctionID string, bids []Bid) string {
	h := GenesisTranscriptHash(auctionID)
	for i, b := range bids {
		h = ComputeTranscriptHash(h, i+1, b.Bidder, b.Amount)
	}
	return h
}
