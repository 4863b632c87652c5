package codec

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Packer accumulates a non-standard packed encoding: values are concatenated
// at their natural width with no length prefixes and no head/tail layout.
type Packer struct {
	buf []byte
}

func NewPacker() *Packer { return &Packer{} }

// Address appends the 20 raw address bytes.
func (p *Packer) Address(a common.Address) *Packer {
	p.buf = append(p.buf, a.Bytes()...)
	return p
}

// Uint256 appends v as a 32-byte big-endian word. nil packs as zero.
func (p *Packer) Uint256(v *uint256.Int) *Packer {
	var word [32]byte
	if v != nil {
		word = v.Bytes32()
	}
	p.buf = append(p.buf, word[:]...)
	return p
}

// Bytes appends b verbatim.
func (p *Packer) Bytes(b []byte) *Packer {
	p.buf = append(p.buf, b...)
	return p
}

func (p *Packer) Len() int { return len(p.buf) }

// Encoded returns a copy of the packed bytes.
func (p *Packer) Encoded() []byte { return bytes.Clone(p.buf) }

// EncodePacked packs values according to types ("address", "uint256",
// "bytes"). It is the string-typed front end of Packer.
func EncodePacked(types []string, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("%w: %d types for %d values", ErrEncoding, len(types), len(values))
	}
	p := NewPacker()
	for i, typ := range types {
		switch typ {
		case "address":
			a, err := toAddress(values[i])
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			p.Address(a)
		case "uint256":
			v, err := ToUint256(values[i])
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			p.Uint256(v)
		case "bytes":
			b, err := toBytes(values[i])
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			p.Bytes(b)
		default:
			return nil, fmt.Errorf("%w: unsupported packed type %q", ErrEncoding, typ)
		}
	}
	return p.Encoded(), nil
}

// ToUint256 converts the integer forms used across the codebase. Negative
// values and values wider than 256 bits are rejected.
func ToUint256(v any) (*uint256.Int, error) {
	switch n := v.(type) {
	case *uint256.Int:
		if n == nil {
			return new(uint256.Int), nil
		}
		return new(uint256.Int).Set(n), nil
	case uint256.Int:
		return new(uint256.Int).Set(&n), nil
	case uint64:
		return uint256.NewInt(n), nil
	case uint32:
		return uint256.NewInt(uint64(n)), nil
	case uint8:
		return uint256.NewInt(uint64(n)), nil
	case int:
		if n < 0 {
			return nil, fmt.Errorf("%w: negative integer %d", ErrEncoding, n)
		}
		return uint256.NewInt(uint64(n)), nil
	case int64:
		if n < 0 {
			return nil, fmt.Errorf("%w: negative integer %d", ErrEncoding, n)
		}
		return uint256.NewInt(uint64(n)), nil
	case *big.Int:
		if n == nil {
			return new(uint256.Int), nil
		}
		if n.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative integer %s", ErrEncoding, n)
		}
		u, overflow := uint256.FromBig(n)
		if overflow {
			return nil, fmt.Errorf("%w: integer %s exceeds 256 bits", ErrEncoding, n)
		}
		return u, nil
	case string:
		return ParseUint256(n)
	default:
		return nil, fmt.Errorf("%w: cannot use %T as uint256", ErrEncoding, v)
	}
}

// ParseUint256 parses a decimal or 0x-prefixed hex string.
func ParseUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty integer", ErrEncoding)
	}
	if s[0] == '-' {
		return nil, fmt.Errorf("%w: negative integer %s", ErrEncoding, s)
	}
	digits, base := s, 10
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		digits, base = s[2:], 16
	}
	if digits == "" || strings.IndexFunc(digits, func(r rune) bool { return !isDigit(r, base) }) >= 0 {
		return nil, fmt.Errorf("%w: invalid integer %q", ErrEncoding, s)
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("%w: invalid integer %q", ErrEncoding, s)
	}
	return ToUint256(n)
}

func isDigit(r rune, base int) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case base == 16:
		return (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
	}
	return false
}

func toAddress(v any) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case string:
		return DecodeAddress(a)
	case []byte:
		if len(a) != common.AddressLength {
			return common.Address{}, fmt.Errorf("%w: address is %d bytes, want %d", ErrEncoding, len(a), common.AddressLength)
		}
		return common.BytesToAddress(a), nil
	default:
		return common.Address{}, fmt.Errorf("%w: cannot use %T as address", ErrEncoding, v)
	}
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return DecodeHex(b)
	default:
		return nil, fmt.Errorf("%w: cannot use %T as bytes", ErrEncoding, v)
	}
}
