package auctionapi

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ReceiptCOSE is a raw COSE_Sign1 message over a CBOR SettlementReceipt.
type ReceiptCOSE []byte

// ReceiptCOSEBase64 is a ReceiptCOSE in standard or unpadded URL-safe base64.
type ReceiptCOSEBase64 string

// ReceiptCOSEGzip is a gzip-compressed ReceiptCOSE in unpadded URL-safe base64.
type ReceiptCOSEGzip string

// EncodeBase64 encodes the receipt with standard base64 for JSON transport.
func (c ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(c))
}

// EncodeURLSafe encodes the receipt for use in query strings.
func (c ReceiptCOSE) EncodeURLSafe() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.RawURLEncoding.EncodeToString(c))
}

// CompressGzip compresses and URL-safe encodes the receipt. The output is
// deterministic for a given input.
func (c ReceiptCOSE) CompressGzip() (ReceiptCOSEGzip, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(c); err != nil {
		return "", fmt.Errorf("compress receipt: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finish gzip stream: %w", err)
	}
	return ReceiptCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (e ReceiptCOSEBase64) String() string { return string(e) }

// Decode accepts either encoding produced by ReceiptCOSE.
func (e ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	s := strings.TrimSpace(string(e))
	if s == "" {
		return nil, fmt.Errorf("empty receipt")
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

func (g ReceiptCOSEGzip) String() string { return string(g) }

// Decompress reverses CompressGzip.
func (g ReceiptCOSEGzip) Decompress() (ReceiptCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(g))
	if err != nil {
		return nil, fmt.Errorf("decode url-safe base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress receipt: %w", err)
	}
	return data, nil
}

// AttestationCOSE is a raw Nitro attestation document (COSE_Sign1, ES384).
type AttestationCOSE []byte

// AttestationCOSEBase64 is an AttestationCOSE in standard base64.
type AttestationCOSEBase64 string

// EncodeBase64 encodes the attestation for JSON transport.
func (c AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(c))
}

// Decode returns the raw attestation bytes.
func (e AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	data, err := ReceiptCOSEBase64(e).Decode()
	if err != nil {
		return nil, err
	}
	return AttestationCOSE(data), nil
}
