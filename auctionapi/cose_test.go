package auctionapi

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestReceiptCOSE_Encode(t *testing.T) {
	coseBytes := ReceiptCOSE([]byte("mock-cose-receipt-data"))

	encoded := coseBytes.EncodeBase64()
	check.NotEqual(t, "", encoded)

	decoded, err := encoded.Decode()
	check.Nil(t, err)
	check.Equal(t, coseBytes, decoded)
}

func TestReceiptCOSE_EncodeURLSafe(t *testing.T) {
	// bytes chosen so the standard alphabet would need '+' and '/'
	coseBytes := ReceiptCOSE([]byte{0xfb, 0xff, 0xfe, 0x01, 0x02})

	encoded := coseBytes.EncodeURLSafe()
	check.NotEqual(t, "", encoded)

	// Should not contain padding
	check.False(t, strings.Contains(encoded.String(), "="))
	check.False(t, strings.ContainsAny(encoded.String(), "+/"))

	decoded, err := encoded.Decode()
	check.Nil(t, err)
	check.Equal(t, coseBytes, decoded)
}

func TestReceiptCOSE_CompressGzip(t *testing.T) {
	coseBytes := ReceiptCOSE([]byte(strings.Repeat("mock-cose-receipt-data-for-compression-testing", 8)))

	compressed, err := coseBytes.CompressGzip()
	check.Nil(t, err)
	check.NotEqual(t, "", compressed)

	compressedStr := compressed.String()
	for _, char := range compressedStr {
		valid := (char >= 'A' && char <= 'Z') ||
			(char >= 'a' && char <= 'z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_'
		check.True(t, valid)
	}
	check.True(t, len(compressedStr) < len(coseBytes.EncodeBase64()))

	decompressed, err := compressed.Decompress()
	check.Nil(t, err)
	check.Equal(t, coseBytes, decompressed)
}

func TestReceiptCOSE_CompressGzip_Deterministic(t *testing.T) {
	coseBytes := ReceiptCOSE([]byte("mock-cose-receipt-data"))

	result1, err1 := coseBytes.CompressGzip()
	check.Nil(t, err1)

	result2, err2 := coseBytes.CompressGzip()
	check.Nil(t, err2)

	check.Equal(t, result1, result2)
}

func TestReceiptCOSEBase64_Decode(t *testing.T) {
	tests := []struct {
		name      string
		input     ReceiptCOSEBase64
		want      string
		expectErr bool
	}{
		{name: "standard padded", input: "aGVsbG8=", want: "hello"},
		{name: "url-safe unpadded", input: "aGVsbG8", want: "hello"},
		{name: "surrounding whitespace", input: " aGVsbG8=\n", want: "hello"},
		{name: "empty", input: "", expectErr: true},
		{name: "garbage", input: "!!!not-base64!!!", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.input.Decode()
			if tt.expectErr {
				check.Error(t, err)
				return
			}
			check.NoError(t, err)
			check.Equal(t, tt.want, string(got))
		})
	}
}

func TestReceiptCOSEGzip_DecompressInvalid(t *testing.T) {
	_, err := ReceiptCOSEGzip("not*base64").Decompress()
	check.Error(t, err)

	_, err = ReceiptCOSE([]byte("plain")).EncodeURLSafe().Decode()
	check.NoError(t, err)

	_, err = ReceiptCOSEGzip(ReceiptCOSE([]byte("plain")).EncodeURLSafe()).Decompress()
	check.Error(t, err)
}
