// Package validation verifies settlement receipts issued by the auction
// daemon, and optionally the Nitro attestation that binds a receipt to an
// enclave build.
package validation

import (
	"crypto/sha256"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/auctionapi/parsing"
	"github.com/m1guelpf/dollar-auction/core"
)

// ReceiptValidationInput contains everything needed to validate a receipt.
// Nil expectations are not checked.
type ReceiptValidationInput struct {
	Receipt        auctionapi.ReceiptCOSE
	OperatorKeyPEM string

	AuctionID  string         // empty = not checked
	Winner     *core.Identity // pointer to "" = expect no winner
	WinningBid *decimal.Decimal
	Prize      *decimal.Decimal
	Sweep      *decimal.Decimal

	// Bids are the accepted bids in order, e.g. from the event journal. The
	// transcript hash is replayed from them when set.
	Bids []core.Bid

	Attestation auctionapi.AttestationCOSE // empty = not checked
	KnownPCRs   []PCRSet
}

// ValidateReceipt validates a settlement receipt and verifies:
// - The receipt is signed by the operator key
// - Auction id, winner and amounts match the caller's expectations
// - The bid transcript replays to the hash in the receipt
// - The attestation, when supplied, covers this receipt
//
// Returns:
//   - ReceiptValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed receipt or key)
func ValidateReceipt(input *ReceiptValidationInput) (*ReceiptValidationResult, error) {
	if len(input.Receipt) == 0 {
		return nil, fmt.Errorf("receipt is empty")
	}
	operatorKey, err := ParseOperatorKey(input.OperatorKeyPEM)
	if err != nil {
		return nil, err
	}

	payload, err := parsing.ExtractCOSEPayload(input.Receipt)
	if err != nil {
		return nil, fmt.Errorf("extract receipt payload: %w", err)
	}
	receipt, err := auctionapi.ParseSettlementReceipt(payload)
	if err != nil {
		return nil, err
	}

	result := &ReceiptValidationResult{
		Receipt:           &receipt,
		ReceiptDigest:     fmt.Sprintf("%x", sha256.Sum256(payload)),
		ValidationDetails: []string{},
	}

	if _, err := VerifyReceiptSignature(input.Receipt, operatorKey); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt signature invalid: %v", err))
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Receipt signed by operator key")
	}

	result.AuctionIDValid = validateAuctionID(input, &receipt, result)
	result.WinnerValid = validateWinner(input, &receipt, result)
	result.AmountsValid = validateAmounts(input, &receipt, result)
	result.TranscriptValid = validateTranscript(input, &receipt, result)

	if len(input.Attestation) > 0 {
		attResult, err := validateReceiptAttestation(input.Attestation, result.ReceiptDigest, input.OperatorKeyPEM, input.KnownPCRs)
		if err != nil {
			return nil, err
		}
		result.Attestation = attResult
	}

	return result, nil
}

func validateAuctionID(input *ReceiptValidationInput, receipt *auctionapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	if input.AuctionID == "" {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Auction id not checked (receipt has %s)", receipt.AuctionID))
		return true
	}
	if input.AuctionID == receipt.AuctionID {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Auction id matches: %s", receipt.AuctionID))
		return true
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Auction id mismatch: expected %s, receipt has %s", input.AuctionID, receipt.AuctionID))
	return false
}

func validateWinner(input *ReceiptValidationInput, receipt *auctionapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	if input.Winner == nil {
		return true
	}

	expected := string(*input.Winner)
	if expected == receipt.Winner {
		if expected == "" {
			result.ValidationDetails = append(result.ValidationDetails, "Winner validation passed: no winner expected and no winner in receipt")
		} else {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner validation passed: %s", expected))
		}
		return true
	}

	switch {
	case expected == "":
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: expected no winner, receipt has %s", receipt.Winner))
	case receipt.Winner == "":
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: expected %s, receipt has no winner", expected))
	default:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: expected %s, receipt has %s", expected, receipt.Winner))
	}
	return false
}

func validateAmounts(input *ReceiptValidationInput, receipt *auctionapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	checks := []struct {
		name     string
		expected *decimal.Decimal
		actual   string
	}{
		{"Winning bid", input.WinningBid, receipt.WinningBid},
		{"Prize", input.Prize, receipt.Prize},
		{"Sweep", input.Sweep, receipt.Sweep},
	}

	ok := true
	for _, c := range checks {
		if c.expected == nil {
			continue
		}
		actual, err := decimal.NewFromString(c.actual)
		if err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("%s unreadable in receipt: %q", c.name, c.actual))
			ok = false
			continue
		}
		if actual.Equal(*c.expected) {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("%s validation passed: %s", c.name, actual))
		} else {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("%s mismatch: expected %s, receipt has %s", c.name, c.expected, actual))
			ok = false
		}
	}
	return ok
}

func validateTranscript(input *ReceiptValidationInput, receipt *auctionapi.SettlementReceipt, result *ReceiptValidationResult) bool {
	if input.Bids == nil {
		return true
	}

	ok := true
	if len(input.Bids) != receipt.BidCount {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Bid count mismatch: %d bids supplied, receipt has %d", len(input.Bids), receipt.BidCount))
		ok = false
	}

	computed := core.ReplayTranscript(receipt.AuctionID, input.Bids)
	if computed == receipt.TranscriptHash {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Transcript hash validation passed: %s", computed))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Transcript hash mismatch: computed %s, receipt has %s", computed, receipt.TranscriptHash))
		ok = false
	}

	// The last accepted bid is the winner.
	if len(input.Bids) > 0 {
		last := input.Bids[len(input.Bids)-1]
		winning, err := decimal.NewFromString(receipt.WinningBid)
		if string(last.Bidder) != receipt.Winner || err != nil || !last.Amount.Equal(winning) {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Last bid %s by %s is not the receipt winner", last.Amount, last.Bidder))
			ok = false
		}
	}
	return ok
}
