package batch

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-gasless/internal/codec"
)

// TransferSelector is the first four bytes of keccak256("transfer(address,uint256)").
var TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// TransferCalldata returns selector ‖ leftPad(to, 32) ‖ leftPad(amount, 32).
func TransferCalldata(to common.Address, amount *uint256.Int) []byte {
	out := make([]byte, 4+32+32)
	copy(out[:4], TransferSelector[:])
	copy(out[16:36], to.Bytes()) // addr is right-aligned in 32-byte slot
	if amount != nil {
		word := amount.Bytes32()
		copy(out[36:], word[:])
	}
	return out
}

// EncodeCalls concatenates packed(address to, uint256 value, bytes data) for
// each call in order.
func EncodeCalls(calls []Call) []byte {
	p := codec.NewPacker()
	for i := range calls {
		p.Address(calls[i].To).Uint256(&calls[i].Value).Bytes(calls[i].Data)
	}
	return p.Encoded()
}

// Digest is keccak256(packed(uint256 nonce, bytes encodedCalls)). The owner
// signs it with the personal-message prefix over its 32 raw bytes.
func Digest(nonce *uint256.Int, calls []Call) [32]byte {
	p := codec.NewPacker().Uint256(nonce).Bytes(EncodeCalls(calls))
	var d [32]byte
	copy(d[:], codec.Keccak256(p.Encoded()))
	return d
}
