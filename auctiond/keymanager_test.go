package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/core"
)

func TestNewKeyManager(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)
	check.NotNil(t, km.PublicKey)
	check.Equal(t, 8, len(km.KeyID()))

	publicPEM, err := km.PublicKeyPEM()
	assert.NoError(t, err)
	check.True(t, strings.HasPrefix(publicPEM, "-----BEGIN PUBLIC KEY-----"))

	other, err := NewKeyManager()
	assert.NoError(t, err)
	check.NotEqual(t, km.KeyID(), other.KeyID())
}

func TestLoadKeyManager(t *testing.T) {
	t.Run("empty path generates", func(t *testing.T) {
		km, err := LoadKeyManager("")
		assert.NoError(t, err)
		check.NotNil(t, km)
	})

	t.Run("round trip through PEM", func(t *testing.T) {
		km, err := NewKeyManager()
		assert.NoError(t, err)
		privatePEM, err := km.PrivateKeyPEM()
		assert.NoError(t, err)

		path := filepath.Join(t.TempDir(), "signing.pem")
		assert.NoError(t, os.WriteFile(path, []byte(privatePEM), 0o600))

		loaded, err := LoadKeyManager(path)
		assert.NoError(t, err)
		check.Equal(t, km.KeyID(), loaded.KeyID())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKeyManager(filepath.Join(t.TempDir(), "absent.pem"))
		check.Error(t, err)
	})

	t.Run("not a key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.pem")
		assert.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
		_, err := LoadKeyManager(path)
		check.Error(t, err)
	})

	t.Run("wrong curve", func(t *testing.T) {
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		assert.NoError(t, err)
		der, err := x509.MarshalECPrivateKey(key)
		assert.NoError(t, err)
		path := filepath.Join(t.TempDir(), "p384.pem")
		assert.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))

		_, err = LoadKeyManager(path)
		check.Error(t, err)
	})
}

func sampleReceipt() auctionapi.SettlementReceipt {
	return auctionapi.NewSettlementReceipt(core.Settlement{
		AuctionID:      "auction-1",
		Winner:         core.Bid{Bidder: "x", Amount: decimal.RequireFromString("0.15")},
		Prize:          decimal.NewFromInt(1),
		Operator:       "operator",
		Sweep:          decimal.RequireFromString("0.25"),
		SecondBid:      core.Bid{Bidder: "y", Amount: decimal.RequireFromString("0.10")},
		Deadline:       testStart.Add(24 * time.Hour),
		SettledAt:      testStart.Add(25 * time.Hour),
		BidCount:       3,
		TranscriptHash: core.GenesisTranscriptHash("auction-1"),
	})
}

func TestSignReceipt(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	signed, err := SignReceipt(km, sampleReceipt())
	assert.NoError(t, err)

	var msg cose.Sign1Message
	assert.NoError(t, msg.UnmarshalCBOR(signed))

	alg, err := msg.Headers.Protected.Algorithm()
	assert.NoError(t, err)
	check.Equal(t, cose.AlgorithmES256, alg)
	check.Equal(t, km.KeyID(), msg.Headers.Unprotected[cose.HeaderLabelKeyID].([]byte))

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, km.PublicKey)
	assert.NoError(t, err)
	check.NoError(t, msg.Verify(nil, verifier))

	other, err := NewKeyManager()
	assert.NoError(t, err)
	wrongVerifier, err := cose.NewVerifier(cose.AlgorithmES256, other.PublicKey)
	assert.NoError(t, err)
	check.Error(t, msg.Verify(nil, wrongVerifier))

	_, err = SignReceipt(nil, sampleReceipt())
	check.Error(t, err)
}

func TestGenerateReceiptAttestation(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)
	receipt := sampleReceipt()
	digest, err := receipt.Digest()
	assert.NoError(t, err)

	t.Run("nil attester", func(t *testing.T) {
		_, err := GenerateReceiptAttestation(nil, km, receipt, digest)
		check.Error(t, err)
	})

	t.Run("attester failure", func(t *testing.T) {
		failing := &MockEnclaveHandle{AttestFunc: func(enclave.AttestationOptions) ([]byte, error) {
			return nil, errors.New("nsm unavailable")
		}}
		_, err := GenerateReceiptAttestation(failing, km, receipt, digest)
		check.Error(t, err)
	})

	t.Run("user data carries digest", func(t *testing.T) {
		var seen enclave.AttestationOptions
		mock := CreateMockEnclave(t)
		inner := mock.AttestFunc
		mock.AttestFunc = func(options enclave.AttestationOptions) ([]byte, error) {
			seen = options
			return inner(options)
		}

		att, err := GenerateReceiptAttestation(mock, km, receipt, digest)
		assert.NoError(t, err)
		check.True(t, len(att) > 0)
		check.Equal(t, 64, len(seen.Nonce))
		check.True(t, strings.Contains(string(seen.UserData), digest))
		check.True(t, strings.Contains(string(seen.UserData), receipt.TranscriptHash))
	})
}
