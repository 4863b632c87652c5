package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/cache"
	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/session"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// Register signs a fresh challenge and submits it to /register. The address
// the relay recovered must be key's address.
func (e *Executor) Register(ctx context.Context, key *signer.Key) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	address := key.Address().Hex()
	msg, err := e.relay.Challenge(ctx, address)
	if err != nil {
		return e.relayFailure("register", fmt.Errorf("%w: fetch challenge: %w", session.ErrAuth, err)), nil
	}
	sig, err := key.SignPersonal([]byte(msg))
	if err != nil {
		return Result{}, err
	}
	registered, err := e.relay.Register(ctx, msg, sig.Hex())
	if err != nil {
		return e.relayFailure("register", err), nil
	}
	// the challenge is consumed; start the next operation with a fresh one
	e.sessions.Invalidate()
	if !strings.EqualFold(registered, address) {
		return failure(fmt.Errorf("%w: relay registered %s, expected %s", session.ErrAuth, registered, address)), nil
	}
	e.log.Info("account registered", zap.String("address", address))
	return success(map[string]string{"address": address}), nil
}

// Status reports the delegation state of key's account.
func (e *Executor) Status(ctx context.Context, key *signer.Key) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	headers, err := e.sessions.Obtain(ctx, key)
	if err != nil {
		return e.relayFailure("status", err), nil
	}
	status, err := e.relay.Status(ctx, headers)
	if err != nil {
		return e.relayFailure("status", err), nil
	}
	return success(status), nil
}

// GoldPrice returns the commodity price, cached for the price TTL.
func (e *Executor) GoldPrice(ctx context.Context, key *signer.Key) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	price, err := e.price.Get(ctx, func(ctx context.Context) (float64, error) {
		headers, err := e.sessions.Obtain(ctx, key)
		if err != nil {
			return 0, err
		}
		return e.relay.GoldPrice(ctx, headers)
	})
	if err != nil {
		return e.relayFailure("gold price", err), nil
	}
	entry, _ := e.price.Peek()
	return success(map[string]any{"price": price, "fetchedAt": entry.FetchedAt}), nil
}

// Decimals returns the token decimals, falling back to the default when they
// cannot be read.
func (e *Executor) Decimals(ctx context.Context) cache.DecimalsInfo {
	return e.decimals.Get(ctx)
}

// InitializeToken resets the decimals cache and reads the token's decimals.
// A non-empty tokenAddress replaces the token used for transfers. It fails
// when decimals cannot be read, leaving the default in effect.
func (e *Executor) InitializeToken(ctx context.Context, tokenAddress string) (Result, error) {
	if tokenAddress != "" {
		addr, err := codec.DecodeAddress(tokenAddress)
		if err != nil {
			return Result{}, fmt.Errorf("token address: %w", err)
		}
		e.mu.Lock()
		e.tokenOverride = addr.Hex()
		e.mu.Unlock()
	}
	e.decimals.Clear()
	info := e.decimals.Get(ctx)
	if !info.Known {
		return failure(fmt.Errorf("initialize token: %w", cache.ErrNotInitialized)), nil
	}
	return success(map[string]any{"decimals": info.Decimals, "multiplier": info.Multiplier.Dec()}), nil
}

// SetDecimals records the token decimals explicitly.
func (e *Executor) SetDecimals(d uint8) error {
	return e.decimals.Set(d)
}

// Contracts returns the delegate and token addresses. The relay is asked once
// per executor.
func (e *Executor) Contracts(ctx context.Context) (Result, error) {
	addrs, err := e.contractAddresses(ctx)
	if err != nil {
		return e.relayFailure("contracts", err), nil
	}
	return success(addrs), nil
}

// ContractABI returns the parsed ABI the relay holds for address.
func (e *Executor) ContractABI(ctx context.Context, address string) (*abi.ABI, error) {
	if _, err := codec.DecodeAddress(address); err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	return e.abis.Get(ctx, address)
}

// Session reports the held relay session.
func (e *Executor) Session() (session.Session, bool) {
	return e.sessions.Current()
}
