package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/authorization"
	"github.com/0gfoundation/0g-gasless/internal/batch"
	"github.com/0gfoundation/0g-gasless/internal/relay"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// Authorize signs an EIP-7702 authorization for the relay's delegate using
// the account nonce reported by /nonce. Data holds the authorization JSON.
func (e *Executor) Authorize(ctx context.Context, key *signer.Key, chainID uint64) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	headers, err := e.sessions.Obtain(ctx, key)
	if err != nil {
		return e.relayFailure("authorize", err), nil
	}
	auth, _, res, err := e.authorize(ctx, key, headers, chainID)
	if err != nil || !res.Success {
		return res, err
	}
	return success(auth), nil
}

func (e *Executor) authorize(ctx context.Context, key *signer.Key, headers relay.Headers, chainID uint64) (*authorization.Data, *relay.NonceResponse, Result, error) {
	addrs, err := e.contractAddresses(ctx)
	if err != nil {
		return nil, nil, e.relayFailure("authorize: contracts", err), nil
	}
	nonces, err := e.relay.Nonce(ctx, headers)
	if err != nil {
		return nil, nil, e.relayFailure("authorize: nonce", err), nil
	}
	if !nonces.Nonce.IsUint64() {
		return nil, nil, failure(fmt.Errorf("%w: account nonce %s overflows uint64", relay.ErrMalformed, nonces.Nonce.Dec())), nil
	}
	auth, err := authorization.Build(key, addrs.DelegateAddress, nonces.Nonce.Uint64(), chainID)
	if err != nil {
		return nil, nil, Result{}, err
	}
	return auth, nonces, Result{Success: true}, nil
}

// Delegate makes sure key's account is delegated to the relay's delegate and
// runs calls. Already delegated accounts skip the authorization: with no
// calls nothing is sent, otherwise the calls go through ExecuteBatch. Fresh
// delegations are sponsored together with calls, which may be empty.
func (e *Executor) Delegate(ctx context.Context, key *signer.Key, chainID uint64, calls []batch.Call, waitForTx bool) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	headers, err := e.sessions.Obtain(ctx, key)
	if err != nil {
		return e.relayFailure("delegate", err), nil
	}
	addrs, err := e.contractAddresses(ctx)
	if err != nil {
		return e.relayFailure("delegate: contracts", err), nil
	}
	status, err := e.relay.Status(ctx, headers)
	if err != nil {
		return e.relayFailure("delegate: status", err), nil
	}
	if status.Delegated && strings.EqualFold(status.DelegateAddress, addrs.DelegateAddress) {
		if len(calls) == 0 {
			return success(map[string]any{"alreadyDelegated": true, "delegateAddress": status.DelegateAddress}), nil
		}
		return e.ExecuteBatch(ctx, key, calls, waitForTx)
	}

	auth, nonces, res, err := e.authorize(ctx, key, headers, chainID)
	if err != nil || !res.Success {
		return res, err
	}
	if calls == nil {
		calls = []batch.Call{}
	}
	sig, err := signCalls(key, &nonces.DelegationNonce.Int, calls)
	if err != nil {
		return Result{}, err
	}
	resp, err := e.relay.Sponsor(ctx, headers, relay.SponsorRequest{
		ExecuteRequest: relay.ExecuteRequest{
			Calls:     calls,
			Signature: sig.Hex(),
			WaitForTx: waitForTx,
		},
		Authorization: auth,
	})
	if err != nil {
		return e.relayFailure("delegate: sponsor", err), nil
	}
	res = fromExecute(resp)
	e.log.Info("delegation sponsored",
		zap.String("address", key.Address().Hex()),
		zap.String("delegate", auth.DelegateAddress),
		zap.Uint64("auth_nonce", auth.Nonce),
		zap.Bool("success", res.Success))
	return res, nil
}
