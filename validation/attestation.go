package validation

import (
	"fmt"
	"strings"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/auctionapi/parsing"
)

// validateCommonAttestation validates PCRs, the certificate chain and the
// COSE signature of a Nitro attestation, and returns the parsed document.
func validateCommonAttestation(attestation auctionapi.AttestationCOSE, knownPCRs []PCRSet) (*BaseValidationResult, *auctionapi.ReceiptAttestationDoc, error) {
	doc, err := parsing.ParseReceiptAttestation(attestation)
	if err != nil {
		return nil, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	if len(knownPCRs) == 0 {
		result.ValidationDetails = append(result.ValidationDetails, "No known PCR sets configured")
	} else if pcrMatch, matchedSet := ValidatePCRs(doc.PCRs, knownPCRs); pcrMatch {
		result.PCRsValid = true
		result.ValidationDetails = append(result.ValidationDetails, "PCR measurements valid")
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched PCR set: #%d (release: %s)",
			matchedSet, knownPCRs[matchedSet].Release))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR0: %s (no match)", doc.PCRs.ImageFileHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR1: %s (no match)", doc.PCRs.KernelHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR2: %s (no match)", doc.PCRs.ApplicationHash))
	}

	switch {
	case doc.Certificate == "":
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	case len(doc.CABundle) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp); err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(attestation, doc.Certificate); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	return result, doc, nil
}

// validateReceiptAttestation checks that attestation is genuine and was
// produced for the receipt with receiptDigest, signed by operatorKeyPEM.
func validateReceiptAttestation(attestation auctionapi.AttestationCOSE, receiptDigest, operatorKeyPEM string, knownPCRs []PCRSet) (*AttestationValidationResult, error) {
	base, doc, err := validateCommonAttestation(attestation, knownPCRs)
	if err != nil {
		return nil, err
	}

	result := &AttestationValidationResult{BaseValidationResult: *base}

	if doc.UserData == nil || doc.UserData.ReceiptDigest == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Receipt digest missing from attestation")
		return result, nil
	}

	if doc.UserData.ReceiptDigest == receiptDigest {
		result.ReceiptDigestMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Attestation covers this receipt")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt digest mismatch: receipt %s, attestation %s", receiptDigest, doc.UserData.ReceiptDigest))
	}

	// Trim whitespace from both keys (handles trailing newlines from PEM encoding)
	if strings.TrimSpace(doc.UserData.OperatorKey) == strings.TrimSpace(operatorKeyPEM) {
		result.OperatorKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Operator key matches attestation")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Operator key mismatch: provided key does not match attested key")
	}

	return result, nil
}
