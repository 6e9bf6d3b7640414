package validation

import "github.com/m1guelpf/dollar-auction/auctionapi"

// BaseValidationResult contains the results common to every Nitro attestation check
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// IsValid returns true if all attestation checks passed
func (r *BaseValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid
}

// AttestationValidationResult adds the checks binding an attestation to one receipt
type AttestationValidationResult struct {
	BaseValidationResult
	ReceiptDigestMatch bool
	OperatorKeyMatch   bool
}

// IsValid returns true if the attestation is genuine and covers the receipt
func (r *AttestationValidationResult) IsValid() bool {
	return r.BaseValidationResult.IsValid() && r.ReceiptDigestMatch && r.OperatorKeyMatch
}

// ReceiptValidationResult contains validation results for a settlement receipt
type ReceiptValidationResult struct {
	SignatureValid  bool
	AuctionIDValid  bool
	WinnerValid     bool
	AmountsValid    bool
	TranscriptValid bool

	// Attestation is nil when no attestation was supplied.
	Attestation *AttestationValidationResult

	Receipt           *auctionapi.SettlementReceipt
	ReceiptDigest     string
	ValidationDetails []string
}

// IsValid returns true if every receipt check passed, including the
// attestation when one was supplied
func (r *ReceiptValidationResult) IsValid() bool {
	ok := r.SignatureValid && r.AuctionIDValid && r.WinnerValid && r.AmountsValid && r.TranscriptValid
	if r.Attestation != nil {
		ok = ok && r.Attestation.IsValid()
	}
	return ok
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0    string `json:"pcr0"`
	PCR1    string `json:"pcr1"`
	PCR2    string `json:"pcr2"`
	Release string `json:"release"` // daemon release the enclave image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
