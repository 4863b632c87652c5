package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// IntBytes returns the minimal big-endian form of v used by RLP: no leading
// zero bytes, and zero as the empty string.
func IntBytes(v *uint256.Int) []byte {
	if v == nil || v.IsZero() {
		return []byte{}
	}
	return v.Bytes()
}

// Uint64Bytes is IntBytes for a uint64.
func Uint64Bytes(n uint64) []byte {
	return IntBytes(uint256.NewInt(n))
}

// RLPEncodeList encodes items as an RLP list. Integers (uint64, *uint256.Int,
// *big.Int) use minimal encoding; byte slices and fixed arrays such as
// common.Address are encoded as strings.
func RLPEncodeList(items ...any) ([]byte, error) {
	if items == nil {
		items = []any{}
	}
	b, err := rlp.EncodeToBytes(items)
	if err != nil {
		return nil, fmt.Errorf("%w: rlp: %v", ErrEncoding, err)
	}
	return b, nil
}
