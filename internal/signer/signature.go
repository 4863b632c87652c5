package signer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0gfoundation/0g-gasless/internal/codec"
)

// Signature is a secp256k1 signature with V in {27,28}.
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// SignatureFromBytes parses r ‖ s ‖ v. V in {0,1} is normalised to {27,28}.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 65 {
		return Signature{}, errors.New("invalid signature length")
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, nil
}

// ParseSignature decodes a hex r ‖ s ‖ v signature.
func ParseSignature(s string) (Signature, error) {
	b, err := codec.DecodeHex(s)
	if err != nil {
		return Signature{}, err
	}
	sig, err := SignatureFromBytes(b)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", codec.ErrEncoding, err)
	}
	return sig, nil
}

// Bytes returns the 65-byte r ‖ s ‖ v form.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

func (s Signature) Hex() string { return hexutil.Encode(s.Bytes()) }

func (s Signature) RHex() string { return hexutil.Encode(s.R[:]) }

func (s Signature) SHex() string { return hexutil.Encode(s.S[:]) }
