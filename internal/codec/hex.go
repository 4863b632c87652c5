// Package codec holds the byte-level primitives the delegate contract relies
// on: hex and address handling, keccak hashing, RLP lists and packed encoding.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEncoding is returned for malformed hex, wrong address lengths, negative
// or oversized integers and anything else that cannot be encoded.
var ErrEncoding = errors.New("encoding error")

// Keccak256 returns the legacy Keccak-256 digest (not NIST SHA3) of the
// concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// DecodeHex decodes a hex string with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length hex %q", ErrEncoding, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex %q", ErrEncoding, s)
	}
	return b, nil
}

// EncodeHex returns the 0x-prefixed lower-case hex form of b.
func EncodeHex(b []byte) string {
	return hexutil.Encode(b)
}

// DecodeAddress parses s as a 20-byte address. Unlike common.HexToAddress it
// never truncates or pads.
func DecodeAddress(s string) (common.Address, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return common.Address{}, err
	}
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: address %q is %d bytes, want %d",
			ErrEncoding, s, len(b), common.AddressLength)
	}
	return common.BytesToAddress(b), nil
}

// ChecksumAddress formats s in EIP-55 mixed case: each hex letter is upper
// cased iff the matching nibble of keccak256(lowercase hex) is >= 8.
func ChecksumAddress(s string) (string, error) {
	addr, err := DecodeAddress(s)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
