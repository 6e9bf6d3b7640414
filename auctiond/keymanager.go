package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/veraison/go-cose"

	"github.com/m1guelpf/dollar-auction/auctionapi"
)

const signingAlgorithm = "ES256"

// KeyManager holds the operator key that signs settlement receipts.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	PublicKey  *ecdsa.PublicKey
	signer     cose.Signer
}

// NewKeyManager generates a fresh P-256 signing key.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newKeyManager(privateKey)
}

// LoadKeyManager reads a PEM "EC PRIVATE KEY" from path, or generates a key
// when path is empty.
func LoadKeyManager(path string) (*KeyManager, error) {
	if path == "" {
		return NewKeyManager()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("signing key %s is not a PEM EC PRIVATE KEY", path)
	}
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must use P-256, got %s", privateKey.Curve.Params().Name)
	}
	return newKeyManager(privateKey)
}

func newKeyManager(privateKey *ecdsa.PrivateKey) (*KeyManager, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}
	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		signer:     signer,
	}, nil
}

// PrivateKeyPEM exports the signing key so it can be reused across restarts.
func (km *KeyManager) PrivateKeyPEM() (string, error) {
	der, err := x509.MarshalECPrivateKey(km.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// PublicKeyPEM returns the public key in PEM format
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}

// KeyID is the first 8 bytes of the SHA-256 of the PKIX public key.
func (km *KeyManager) KeyID() []byte {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(derBytes)
	return sum[:8]
}

// HandleOperatorKeyRequest returns the receipt signing key.
func HandleOperatorKeyRequest(keyManager *KeyManager) auctionapi.OperatorKeyResponse {
	startTime := time.Now()
	publicKeyPEM, err := keyManager.PublicKeyPEM()
	if err != nil {
		return auctionapi.OperatorKeyResponse{
			Response: auctionapi.Response{
				Type:           "operator_key_response",
				Message:        fmt.Sprintf("Failed to export public key: %v", err),
				ErrorCode:      "internal",
				ProcessingTime: time.Since(startTime).Milliseconds(),
			},
		}
	}

	return auctionapi.OperatorKeyResponse{
		Response: auctionapi.Response{
			Type:           "operator_key_response",
			Success:        true,
			Message:        "Operator receipt signing key",
			ProcessingTime: time.Since(startTime).Milliseconds(),
		},
		PublicKey: publicKeyPEM,
		Algorithm: signingAlgorithm,
	}
}
