package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/relay"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// Mint credits humanAmount of the token to address. The relay's API key is
// configured on the relay client; key provides the session.
func (e *Executor) Mint(ctx context.Context, key *signer.Key, address, humanAmount string) (Result, error) {
	target, err := codec.DecodeAddress(address)
	if err != nil {
		return Result{}, fmt.Errorf("mint address: %w", err)
	}
	raw, res, err := e.toRaw(ctx, humanAmount)
	if err != nil || !res.Success {
		return res, err
	}
	return e.admin(ctx, key, "mint", func(h relay.Headers) (*relay.AdminResponse, error) {
		return e.relay.Mint(ctx, h, target.Hex(), raw.Dec())
	})
}

// Whitelist allows address to use the relay.
func (e *Executor) Whitelist(ctx context.Context, key *signer.Key, address string) (Result, error) {
	target, err := codec.DecodeAddress(address)
	if err != nil {
		return Result{}, fmt.Errorf("whitelist address: %w", err)
	}
	return e.admin(ctx, key, "whitelist", func(h relay.Headers) (*relay.AdminResponse, error) {
		return e.relay.Whitelist(ctx, h, target.Hex())
	})
}

// admin runs an admin mutation and drops the session afterwards.
func (e *Executor) admin(ctx context.Context, key *signer.Key, op string, call func(relay.Headers) (*relay.AdminResponse, error)) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	headers, err := e.sessions.Obtain(ctx, key)
	if err != nil {
		return e.relayFailure(op, err), nil
	}
	resp, err := call(headers)
	e.sessions.Invalidate()
	if err != nil {
		return e.relayFailure(op, err), nil
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "relay rejected the request"
		}
		return failure(fmt.Errorf("%s: %s", op, msg)), nil
	}
	e.log.Info("admin operation", zap.String("op", op), zap.String("by", key.Address().Hex()))
	return success(resp), nil
}
