package auctionapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/core"
)

func sampleSettlement() core.Settlement {
	deadline := time.Date(2024, 3, 2, 12, 15, 0, 0, time.UTC)
	return core.Settlement{
		AuctionID:      "auction-1",
		Winner:         core.Bid{Bidder: "x", Amount: decimal.RequireFromString("0.15")},
		Prize:          decimal.NewFromInt(1),
		Operator:       "operator",
		Sweep:          decimal.RequireFromString("0.25"),
		SecondBid:      core.Bid{Bidder: "y", Amount: decimal.RequireFromString("0.10")},
		Deadline:       deadline,
		SettledAt:      deadline.Add(time.Minute),
		BidCount:       3,
		TranscriptHash: core.GenesisTranscriptHash("auction-1"),
	}
}

func TestSettlementReceipt_RoundTrip(t *testing.T) {
	settlement := sampleSettlement()
	receipt := NewSettlementReceipt(settlement)

	data, err := receipt.Marshal()
	assert.NoError(t, err)

	parsed, err := ParseSettlementReceipt(data)
	assert.NoError(t, err)
	check.Equal(t, receipt, parsed)

	back, err := parsed.Settlement()
	assert.NoError(t, err)
	check.Equal(t, core.Identity("x"), back.Winner.Bidder)
	check.True(t, back.Winner.Amount.Equal(settlement.Winner.Amount))
	check.True(t, back.Sweep.Equal(settlement.Sweep))
	check.True(t, back.Deadline.Equal(settlement.Deadline))
	check.True(t, back.SettledAt.Equal(settlement.SettledAt))
	check.Equal(t, settlement.TranscriptHash, back.TranscriptHash)
}

func TestSettlementReceipt_DigestIsCanonical(t *testing.T) {
	a := NewSettlementReceipt(sampleSettlement())

	// same values written with different decimal scale
	s := sampleSettlement()
	s.Prize = decimal.RequireFromString("1.00")
	b := NewSettlementReceipt(s)

	digestA, err := a.Digest()
	assert.NoError(t, err)
	digestA2, err := a.Digest()
	assert.NoError(t, err)
	digestB, err := b.Digest()
	assert.NoError(t, err)

	check.Equal(t, digestA, digestA2)
	check.Equal(t, 64, len(digestA))
	check.Equal(t, digestA, digestB)

	s.Sweep = decimal.RequireFromString("0.26")
	digestC, err := NewSettlementReceipt(s).Digest()
	assert.NoError(t, err)
	check.NotEqual(t, digestA, digestC)
}

func TestParseSettlementReceipt_Errors(t *testing.T) {
	_, err := ParseSettlementReceipt([]byte{0xff, 0x00})
	check.Error(t, err)

	future := NewSettlementReceipt(sampleSettlement())
	future.Version = ReceiptVersion + 1
	data, err := cbor.Marshal(future)
	assert.NoError(t, err)
	_, err = ParseSettlementReceipt(data)
	check.Error(t, err)
}

func TestSettlementReceipt_BadAmount(t *testing.T) {
	r := NewSettlementReceipt(sampleSettlement())
	r.Sweep = "a lot"
	_, err := r.Settlement()
	check.Error(t, err)
}

func TestBidResponse_JSONAmounts(t *testing.T) {
	resp := BidResponse{
		Response: Response{Type: TypeBid, Success: true},
		Result: &core.BidResult{
			Seq:     1,
			Highest: core.Bid{Bidder: "x", Amount: decimal.RequireFromString("0.05")},
		},
	}
	data, err := json.Marshal(resp)
	assert.NoError(t, err)

	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(data, &decoded))
	result := decoded["result"].(map[string]any)
	highest := result["highest_bid"].(map[string]any)
	check.Equal(t, "0.05", highest["amount"])
	check.Equal(t, true, decoded["success"])
}
