package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/m1guelpf/dollar-auction/auctionapi"
	"github.com/m1guelpf/dollar-auction/core"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	testPCR0 = []byte{0x3b, 0x4c, 0xef, 0x27}
	testPCR1 = []byte{0x4b, 0x4d, 0x5b, 0x36}
	testPCR2 = []byte{0x2b, 0xdd, 0x28, 0xc1}
)

func testPCRSet() PCRSet {
	return PCRSet{PCR0: "3b4cef27", PCR1: "4b4d5b36", PCR2: "2bdd28c1", Release: "v0.1.0"}
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// testBids is the escalation from the daemon scenario, x outbidding y.
func testBids() []core.Bid {
	return []core.Bid{
		{Bidder: "x", Amount: amt("0.05")},
		{Bidder: "y", Amount: amt("0.10")},
		{Bidder: "x", Amount: amt("0.15")},
	}
}

func testSettlement() core.Settlement {
	return core.Settlement{
		AuctionID:      "auction-1",
		Winner:         core.Bid{Bidder: "x", Amount: amt("0.15")},
		Prize:          decimal.NewFromInt(1),
		Operator:       "operator",
		Sweep:          amt("0.25"),
		SecondBid:      core.Bid{Bidder: "y", Amount: amt("0.10")},
		Deadline:       testStart.Add(24 * time.Hour),
		SettledAt:      testStart.Add(25 * time.Hour),
		BidCount:       3,
		TranscriptHash: core.ReplayTranscript("auction-1", testBids()),
	}
}

type operator struct {
	key    *ecdsa.PrivateKey
	keyPEM string
}

func newOperator(t *testing.T) *operator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	assert.NoError(t, err)
	return &operator{
		key:    key,
		keyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
	}
}

// sign returns the signed receipt and the hex digest of its payload.
func (o *operator) sign(t *testing.T, s core.Settlement) (auctionapi.ReceiptCOSE, string) {
	t.Helper()
	receipt := auctionapi.NewSettlementReceipt(s)
	payload, err := receipt.Marshal()
	assert.NoError(t, err)
	digest, err := receipt.Digest()
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES256, o.key)
	assert.NoError(t, err)
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES256},
	}
	signed, err := cose.Sign1(rand.Reader, signer, headers, payload, nil)
	assert.NoError(t, err)
	return signed, digest
}

// nitroSigner produces Nitro-shaped attestation documents signed with a
// self-issued P-384 certificate.
type nitroSigner struct {
	key     *ecdsa.PrivateKey
	certDER []byte
}

func newNitroSigner(t *testing.T) *nitroSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    testStart.Add(-time.Hour),
		NotAfter:     testStart.Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NoError(t, err)
	return &nitroSigner{key: key, certDER: der}
}

func (n *nitroSigner) attest(t *testing.T, userData auctionapi.ReceiptAttestationUserData) auctionapi.AttestationCOSE {
	t.Helper()
	userDataJSON, err := json.Marshal(userData)
	assert.NoError(t, err)

	doc, err := cbor.Marshal(map[string]any{
		"module_id":   "test-enclave-12345",
		"digest":      "SHA384",
		"timestamp":   uint64(testStart.UnixMilli()),
		"pcrs":        map[uint64][]byte{0: testPCR0, 1: testPCR1, 2: testPCR2},
		"certificate": n.certDER,
		"cabundle":    [][]byte{n.certDER},
		"public_key":  []byte{},
		"user_data":   userDataJSON,
		"nonce":       []byte("nonce"),
	})
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	assert.NoError(t, err)
	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, doc})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, n.key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, sigStructure)
	assert.NoError(t, err)

	att, err := cbor.Marshal([]any{protected, map[any]any{}, doc, signature})
	assert.NoError(t, err)
	return att
}
