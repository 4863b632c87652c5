// Package batch assembles the call lists executed by the delegate contract
// and computes the digest the owner signs over them.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-gasless/internal/codec"
)

// Call is one (to, value, data) entry of a batch.
type Call struct {
	To    common.Address
	Value uint256.Int
	Data  []byte
}

// NewCall validates to and copies data.
func NewCall(to string, value *uint256.Int, data []byte) (Call, error) {
	addr, err := codec.DecodeAddress(to)
	if err != nil {
		return Call{}, fmt.Errorf("call target: %w", err)
	}
	c := Call{To: addr, Data: bytes.Clone(data)}
	if value != nil {
		c.Value.Set(value)
	}
	if c.Data == nil {
		c.Data = []byte{}
	}
	return c, nil
}

func (c Call) clone() Call {
	c.Data = bytes.Clone(c.Data)
	if c.Data == nil {
		c.Data = []byte{}
	}
	return c
}

// MarshalJSON emits the relay tuple form [to, value, data] with value as a
// decimal string and data as 0x hex.
func (c Call) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{c.To.Hex(), c.Value.Dec(), codec.EncodeHex(c.Data)})
}

func (c *Call) UnmarshalJSON(b []byte) error {
	var tuple [3]string
	if err := json.Unmarshal(b, &tuple); err != nil {
		return fmt.Errorf("%w: call tuple: %v", codec.ErrEncoding, err)
	}
	value, err := codec.ParseUint256(tuple[1])
	if err != nil {
		return fmt.Errorf("call value: %w", err)
	}
	data, err := codec.DecodeHex(tuple[2])
	if err != nil {
		return fmt.Errorf("call data: %w", err)
	}
	parsed, err := NewCall(tuple[0], value, data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
