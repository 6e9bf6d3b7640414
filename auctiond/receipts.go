package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/veraison/go-cose"

	"github.com/m1guelpf/dollar-auction/auctionapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// issuedReceipt is a signed receipt together with its encodings.
type issuedReceipt struct {
	AuctionID   string
	Digest      string
	COSE        auctionapi.ReceiptCOSE
	Attestation auctionapi.AttestationCOSE
}

// SignReceipt encodes receipt as CBOR and signs it as a COSE_Sign1 message.
func SignReceipt(keyManager *KeyManager, receipt auctionapi.SettlementReceipt) (auctionapi.ReceiptCOSE, error) {
	if keyManager == nil {
		return nil, fmt.Errorf("key manager is nil")
	}

	payload, err := receipt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: "application/cbor",
		},
		Unprotected: cose.UnprotectedHeader{
			cose.HeaderLabelKeyID: keyManager.KeyID(),
		},
	}

	signed, err := cose.Sign1(rand.Reader, keyManager.signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}
	return auctionapi.ReceiptCOSE(signed), nil
}

// GenerateReceiptAttestation asks the Nitro Secure Module to attest the
// receipt digest and the key that signed it.
func GenerateReceiptAttestation(attester EnclaveAttester, keyManager *KeyManager, receipt auctionapi.SettlementReceipt, digest string) (auctionapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	publicKeyPEM, err := keyManager.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	userData := &auctionapi.ReceiptAttestationUserData{
		AuctionID:      receipt.AuctionID,
		ReceiptDigest:  digest,
		TranscriptHash: receipt.TranscriptHash,
		OperatorKey:    publicKeyPEM,
		Timestamp:      time.Now(),
	}

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}
	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		slog.Error("NSM attestation failed", "err", err)
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	slog.Info("receipt attestation generated", "bytes", len(attestationCBOR), "auction", receipt.AuctionID)
	return auctionapi.AttestationCOSE(attestationCBOR), nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
