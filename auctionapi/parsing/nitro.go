package parsing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/m1guelpf/dollar-auction/auctionapi"
)

// NitroAttestationDocument represents the raw CBOR structure from AWS Nitro Enclaves
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// FormatPCR formats PCR bytes as hex string
func FormatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

// EncodeCertificateBundle converts certificate bundle to base64 strings
func EncodeCertificateBundle(bundle [][]byte) []string {
	result := make([]string, len(bundle))
	for i, cert := range bundle {
		result[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return result
}

// ExtractPCRs extracts and formats PCR values from the raw CBOR PCR map
func ExtractPCRs(rawPCRs map[uint64][]byte) auctionapi.PCRs {
	return auctionapi.PCRs{
		ImageFileHash:   FormatPCR(rawPCRs[0]),
		KernelHash:      FormatPCR(rawPCRs[1]),
		ApplicationHash: FormatPCR(rawPCRs[2]),
		IAMRoleHash:     FormatPCR(rawPCRs[3]),
		InstanceIDHash:  FormatPCR(rawPCRs[4]),
		SigningCertHash: FormatPCR(rawPCRs[8]),
	}
}

// ParseNitroDocument decodes the attestation document carried in a Nitro
// COSE_Sign1 message without verifying it.
func ParseNitroDocument(coseBytes []byte) (*NitroAttestationDocument, error) {
	payload, err := ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, err
	}

	var doc NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}
	return &doc, nil
}

// ParseReceiptAttestation decodes a Nitro attestation over a settlement receipt.
func ParseReceiptAttestation(coseBytes []byte) (*auctionapi.ReceiptAttestationDoc, error) {
	raw, err := ParseNitroDocument(coseBytes)
	if err != nil {
		return nil, err
	}

	var userData auctionapi.ReceiptAttestationUserData
	if len(raw.UserData) > 0 {
		if err := json.Unmarshal(raw.UserData, &userData); err != nil {
			return nil, fmt.Errorf("parse attestation user data: %w", err)
		}
	}

	return &auctionapi.ReceiptAttestationDoc{
		AttestationDoc: auctionapi.AttestationDoc{
			ModuleID:        raw.ModuleID,
			Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
			DigestAlgorithm: raw.Digest,
			PCRs:            ExtractPCRs(raw.PCRs),
			Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
			CABundle:        EncodeCertificateBundle(raw.CABundle),
			PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
			Nonce:           base64.StdEncoding.EncodeToString(raw.Nonce),
		},
		UserData: &userData,
	}, nil
}
