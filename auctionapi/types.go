package auctionapi

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/core"
)

// Request types understood by the auction daemon.
const (
	TypePing       = "ping"
	TypeDeposit    = "deposit"
	TypeInitialize = "initialize"
	TypeBid        = "bid"
	TypeSettle     = "settle"
	TypeWithdraw   = "withdraw"
	TypeState      = "state"
	TypeReceipt    = "receipt"
	TypeOperator   = "operator_key"
)

// Envelope carries only the request type so the daemon can pick a decoder.
type Envelope struct {
	Type string `json:"type"`
}

// DepositRequest funds an account in the custody ledger.
type DepositRequest struct {
	Type    string          `json:"type"`
	Account core.Identity   `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// InitializeRequest opens the auction with value taken from the caller's account.
type InitializeRequest struct {
	Type   string          `json:"type"`
	Caller core.Identity   `json:"caller"`
	Value  decimal.Decimal `json:"value"`
}

// BidRequest places a bid paid from the bidder's account.
type BidRequest struct {
	Type   string          `json:"type"`
	Bidder core.Identity   `json:"bidder"`
	Amount decimal.Decimal `json:"amount"`
}

// SettleRequest asks the daemon to settle a closed auction.
type SettleRequest struct {
	Type string `json:"type"`
}

// WithdrawRequest pays out the credit held for an account.
type WithdrawRequest struct {
	Type    string        `json:"type"`
	Account core.Identity `json:"account"`
}

// Response is the common part of every daemon reply.
type Response struct {
	Type           string `json:"type"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ErrorCode      string `json:"error_code,omitempty"`
	ProcessingTime int64  `json:"processing_time_ms"`
}

// DepositResponse reports the account balance after a deposit.
type DepositResponse struct {
	Response
	Balance decimal.Decimal `json:"balance"`
}

// BidResponse reports the effects of an accepted bid.
type BidResponse struct {
	Response
	Result *core.BidResult `json:"result,omitempty"`
}

// SettleResponse carries the settlement and its signed receipt.
type SettleResponse struct {
	Response
	Settlement        *core.Settlement      `json:"settlement,omitempty"`
	Receipt           ReceiptCOSEBase64     `json:"receipt,omitempty"`
	ReceiptCompressed ReceiptCOSEGzip       `json:"receipt_gzip,omitempty"`
	ReceiptDigest     string                `json:"receipt_digest,omitempty"`
	Attestation       AttestationCOSEBase64 `json:"attestation,omitempty"`
}

// WithdrawResponse reports the amount paid out.
type WithdrawResponse struct {
	Response
	Amount decimal.Decimal `json:"amount"`
}

// StateResponse carries the committed auction snapshot.
type StateResponse struct {
	Response
	Snapshot *core.Snapshot `json:"snapshot,omitempty"`
}

// ReceiptResponse returns the receipt of a settled auction.
type ReceiptResponse struct {
	Response
	Receipt       ReceiptCOSEBase64 `json:"receipt,omitempty"`
	ReceiptDigest string            `json:"receipt_digest,omitempty"`
}

// OperatorKeyResponse exposes the key receipts are signed with.
type OperatorKeyResponse struct {
	Response
	PublicKey string `json:"public_key"` // PEM format
	Algorithm string `json:"algorithm"`
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded Nitro attestation document.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"`
	CABundle        []string  `json:"cabundle"`
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// ReceiptAttestationUserData binds an attestation to one settlement receipt.
type ReceiptAttestationUserData struct {
	AuctionID      string    `json:"auction_id"`
	ReceiptDigest  string    `json:"receipt_digest"`
	TranscriptHash string    `json:"transcript_hash"`
	OperatorKey    string    `json:"operator_key"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReceiptAttestationDoc is an attestation over a settlement receipt.
type ReceiptAttestationDoc struct {
	AttestationDoc
	UserData *ReceiptAttestationUserData `json:"user_data"`
}

// URLEncode encodes the attestation for URLs
func (a *ReceiptAttestationDoc) URLEncode() string {
	data, _ := json.Marshal(a)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(data))
}
