package auctionapi

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/core"
)

// ReceiptVersion is bumped whenever SettlementReceipt changes shape.
const ReceiptVersion = 1

// SettlementReceipt is the signed record of a settlement. Amounts are decimal
// strings and times are Unix seconds so the CBOR encoding is canonical.
type SettlementReceipt struct {
	Version        int    `cbor:"1,keyasint"`
	AuctionID      string `cbor:"2,keyasint"`
	Winner         string `cbor:"3,keyasint"`
	WinningBid     string `cbor:"4,keyasint"`
	Prize          string `cbor:"5,keyasint"`
	SecondBidder   string `cbor:"6,keyasint"`
	SecondBid      string `cbor:"7,keyasint"`
	Operator       string `cbor:"8,keyasint"`
	Sweep          string `cbor:"9,keyasint"`
	SweepDeferred  bool   `cbor:"10,keyasint"`
	BidCount       int    `cbor:"11,keyasint"`
	TranscriptHash string `cbor:"12,keyasint"`
	Deadline       int64  `cbor:"13,keyasint"`
	SettledAt      int64  `cbor:"14,keyasint"`
}

var receiptEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("receipt cbor encoder: %v", err))
	}
	return em
}()

// NewSettlementReceipt records s in receipt form.
func NewSettlementReceipt(s core.Settlement) SettlementReceipt {
	return SettlementReceipt{
		Version:        ReceiptVersion,
		AuctionID:      s.AuctionID,
		Winner:         string(s.Winner.Bidder),
		WinningBid:     s.Winner.Amount.String(),
		Prize:          s.Prize.String(),
		SecondBidder:   string(s.SecondBid.Bidder),
		SecondBid:      s.SecondBid.Amount.String(),
		Operator:       string(s.Operator),
		Sweep:          s.Sweep.String(),
		SweepDeferred:  s.SweepDeferred,
		BidCount:       s.BidCount,
		TranscriptHash: s.TranscriptHash,
		Deadline:       s.Deadline.Unix(),
		SettledAt:      s.SettledAt.Unix(),
	}
}

// Marshal returns the canonical CBOR encoding of the receipt.
func (r SettlementReceipt) Marshal() ([]byte, error) {
	return receiptEncMode.Marshal(r)
}

// Digest is the hex SHA-256 of the canonical encoding.
func (r SettlementReceipt) Digest() (string, error) {
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// ParseSettlementReceipt decodes a CBOR receipt payload.
func ParseSettlementReceipt(data []byte) (SettlementReceipt, error) {
	var r SettlementReceipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return SettlementReceipt{}, fmt.Errorf("parse settlement receipt: %w", err)
	}
	if r.Version != ReceiptVersion {
		return SettlementReceipt{}, fmt.Errorf("unsupported receipt version %d", r.Version)
	}
	return r, nil
}

// Settlement converts the receipt back to its core form.
func (r SettlementReceipt) Settlement() (core.Settlement, error) {
	amounts := make([]decimal.Decimal, 4)
	for i, s := range []string{r.WinningBid, r.Prize, r.SecondBid, r.Sweep} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return core.Settlement{}, fmt.Errorf("receipt amount %q: %w", s, err)
		}
		amounts[i] = d
	}

	return core.Settlement{
		AuctionID:      r.AuctionID,
		Winner:         core.Bid{Bidder: core.Identity(r.Winner), Amount: amounts[0]},
		Prize:          amounts[1],
		Operator:       core.Identity(r.Operator),
		Sweep:          amounts[3],
		SweepDeferred:  r.SweepDeferred,
		SecondBid:      core.Bid{Bidder: core.Identity(r.SecondBidder), Amount: amounts[2]},
		Deadline:       time.Unix(r.Deadline, 0).UTC(),
		SettledAt:      time.Unix(r.SettledAt, 0).UTC(),
		BidCount:       r.BidCount,
		TranscriptHash: r.TranscriptHash,
	}, nil
}
