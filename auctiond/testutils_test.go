package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/m1guelpf/dollar-auction/core"
	"github.com/m1guelpf/dollar-auction/custody"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// CreateMockEnclave returns a handle producing Nitro-shaped attestation
// documents that echo the requested user data and nonce.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1709294400000),
				"pcrs": map[uint64][]byte{
					0: {0x3b, 0x4c, 0xef, 0x27},
					1: {0x4b, 0x4d, 0x5b, 0x36},
					2: {0x2b, 0xdd, 0x28, 0xc1},
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}

			// AWS Nitro 4-element array format: [header, metadata, nested_doc, signature]
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	*AuctionServer
	clock *testClock
}

func testConfig() Config {
	return Config{
		MaxWorkers:  4,
		Transport:   "tcp",
		TCPAddr:     "127.0.0.1:0",
		LogLevel:    "debug",
		ReadTimeout: 5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg Config, params core.Params) *testServer {
	t.Helper()
	log, err := newLogger(io.Discard, cfg.LogLevel)
	assert.NoError(t, err)

	clock := &testClock{now: testStart}
	ledger := custody.NewLedger()
	auction, err := core.New(params, ledger,
		core.WithClock(clock),
		core.WithAuctionID("test-auction"),
		core.WithObserver(loggingObserver{log: log}),
	)
	assert.NoError(t, err)

	keyManager, err := NewKeyManager()
	assert.NoError(t, err)

	return &testServer{
		AuctionServer: NewAuctionServer(cfg, log, auction, ledger, keyManager),
		clock:         clock,
	}
}

// call sends req through dispatch and decodes the reply into T the way a
// client reading the socket would.
func call[T any](t *testing.T, s *testServer, req any) T {
	t.Helper()
	raw, err := json.Marshal(req)
	assert.NoError(t, err)

	data, err := json.Marshal(s.dispatch(context.Background(), raw))
	assert.NoError(t, err)

	var out T
	assert.NoError(t, json.Unmarshal(data, &out))
	return out
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func checkAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(amt(want)) {
		t.Errorf("amount: want %s, got %s", want, got)
	}
}
