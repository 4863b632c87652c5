package batch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-gasless/internal/codec"
)

// Builder accumulates calls in order. Appended calls are copied and never
// modified afterwards.
type Builder struct {
	calls []Call
}

func NewBuilder() *Builder { return &Builder{} }

// Add appends a call after checking that to is a 20-byte address.
func (b *Builder) Add(to string, value *uint256.Int, data []byte) error {
	c, err := NewCall(to, value, data)
	if err != nil {
		return err
	}
	b.calls = append(b.calls, c)
	return nil
}

// AddCall appends a copy of c.
func (b *Builder) AddCall(c Call) *Builder {
	b.calls = append(b.calls, c.clone())
	return b
}

// AddTransfer appends an ERC-20 transfer(to, amount) against token.
func (b *Builder) AddTransfer(token, to string, amount *uint256.Int) error {
	recipient, err := codec.DecodeAddress(to)
	if err != nil {
		return fmt.Errorf("transfer recipient: %w", err)
	}
	return b.Add(token, nil, TransferCalldata(recipient, amount))
}

// AddMethod appends a call whose data is the ABI-encoded invocation of method.
func (b *Builder) AddMethod(to string, value *uint256.Int, parsed abi.ABI, method string, args ...any) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("%w: pack %s: %v", codec.ErrEncoding, method, err)
	}
	return b.Add(to, value, data)
}

func (b *Builder) Len() int { return len(b.calls) }

// Calls returns a copy of the accumulated calls.
func (b *Builder) Calls() []Call {
	out := make([]Call, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.clone()
	}
	return out
}
