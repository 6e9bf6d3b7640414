package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ExtractCOSEPayload extracts the payload from a COSE_Sign1 4-element array
// COSE_Sign1 structure: [protected, unprotected, payload, signature]
// Returns the payload bytes (element 2). The signature is not checked.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var coseArray []cbor.RawMessage
	if err := cbor.Unmarshal(stripSign1Tag(coseBytes), &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	var payload []byte
	if err := cbor.Unmarshal(coseArray[2], &payload); err != nil {
		return nil, fmt.Errorf("invalid payload in COSE structure: %w", err)
	}

	return payload, nil
}

// stripSign1Tag drops the optional CBOR tag 18 that marks a COSE_Sign1 message.
func stripSign1Tag(data []byte) []byte {
	if len(data) > 0 && data[0] == 0xd2 {
		return data[1:]
	}
	return data
}
