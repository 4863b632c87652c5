// Package chain reads token and delegation state directly from an RPC node.
package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-gasless/internal/contracts"
)

// DelegationPrefix marks EIP-7702 delegated account code: 0xef0100 ‖ address.
var DelegationPrefix = []byte{0xef, 0x01, 0x00}

// ErrNoCode is returned when a call targets an address without contract code.
var ErrNoCode = errors.New("no contract code at address")

// Backend is the subset of ethclient used here. The simulated backend's
// client also satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client wraps a Backend with typed ERC-20 and delegate reads.
type Client struct {
	eth      Backend
	erc20    abi.ABI
	delegate abi.ABI
	close    func()
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c := NewClient(eth)
	c.close = eth.Close
	return c, nil
}

func NewClient(b Backend) *Client {
	return &Client{eth: b, erc20: contracts.ERC20(), delegate: contracts.Delegate()}
}

func (c *Client) Close() {
	if c.close != nil {
		c.close()
	}
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s overflows uint64", id)
	}
	return id.Uint64(), nil
}

// Decimals returns the ERC-20 decimals() of token.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, token, c.erc20, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	return d, nil
}

// BalanceOf returns owner's token balance in base units.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	out, err := c.call(ctx, token, c.erc20, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return toUint256("balanceOf", out[0])
}

// Delegation returns the delegate account's code points at, if any.
func (c *Client) Delegation(ctx context.Context, account common.Address) (common.Address, bool, error) {
	code, err := c.eth.CodeAt(ctx, account, nil)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("code at %s: %w", account.Hex(), err)
	}
	delegate, ok := ParseDelegation(code)
	return delegate, ok, nil
}

// DelegationNonce reads nonce() from a delegated account.
func (c *Client) DelegationNonce(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := c.call(ctx, account, c.delegate, "nonce")
	if err != nil {
		return nil, err
	}
	return toUint256("nonce", out[0])
}

// ParseDelegation extracts the delegate from 0xef0100 ‖ address code.
func ParseDelegation(code []byte) (common.Address, bool) {
	if len(code) != len(DelegationPrefix)+common.AddressLength || !bytes.HasPrefix(code, DelegationPrefix) {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[len(DelegationPrefix):]), true
}

func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), ErrNoCode)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func toUint256(method string, v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, v)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%s: value overflows uint256", method)
	}
	return u, nil
}

// Token binds a token address so the client can serve as a decimals source.
type Token struct {
	client  *Client
	address common.Address
}

func (c *Client) Token(address common.Address) *Token {
	return &Token{client: c, address: address}
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	return t.client.Decimals(ctx, t.address)
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return t.client.BalanceOf(ctx, t.address, owner)
}
