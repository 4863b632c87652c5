package executor

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/amount"
	"github.com/0gfoundation/0g-gasless/internal/batch"
	"github.com/0gfoundation/0g-gasless/internal/cache"
	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/relay"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// ExecuteBatch signs calls against the account's current delegation nonce and
// submits them to /execute. The returned error is only for malformed input;
// relay and authentication failures are reported in the Result.
func (e *Executor) ExecuteBatch(ctx context.Context, key *signer.Key, calls []batch.Call, waitForTx bool) (Result, error) {
	if key == nil {
		return Result{}, fmt.Errorf("%w: nil key", signer.ErrSigning)
	}
	if len(calls) == 0 {
		return Result{}, ErrEmptyBatch
	}

	headers, err := e.sessions.Obtain(ctx, key)
	if err != nil {
		return e.relayFailure("execute", err), nil
	}
	nonces, err := e.relay.Nonce(ctx, headers)
	if err != nil {
		return e.relayFailure("execute: nonce", err), nil
	}
	sig, err := signCalls(key, &nonces.DelegationNonce.Int, calls)
	if err != nil {
		return Result{}, err
	}

	resp, err := e.relay.Execute(ctx, headers, relay.ExecuteRequest{
		Calls:     calls,
		Signature: sig.Hex(),
		WaitForTx: waitForTx,
	})
	if err != nil {
		return e.relayFailure("execute", err), nil
	}
	res := fromExecute(resp)
	e.log.Info("batch submitted",
		zap.String("address", key.Address().Hex()),
		zap.Int("calls", len(calls)),
		zap.String("nonce", nonces.DelegationNonce.Dec()),
		zap.Bool("success", res.Success),
		zap.String("tx_hash", res.TxHash))
	return res, nil
}

// Execute submits a single call as a batch of one.
func (e *Executor) Execute(ctx context.Context, key *signer.Key, call batch.Call, waitForTx bool) (Result, error) {
	return e.ExecuteBatch(ctx, key, []batch.Call{call}, waitForTx)
}

// Transfer sends humanAmount of the relay's token to the recipient.
func (e *Executor) Transfer(ctx context.Context, key *signer.Key, to, humanAmount string, waitForTx bool) (Result, error) {
	recipient, err := codec.DecodeAddress(to)
	if err != nil {
		return Result{}, fmt.Errorf("transfer recipient: %w", err)
	}
	addrs, err := e.contractAddresses(ctx)
	if err != nil {
		return e.relayFailure("transfer: contracts", err), nil
	}
	raw, res, err := e.toRaw(ctx, humanAmount)
	if err != nil || !res.Success {
		return res, err
	}
	b := batch.NewBuilder()
	if err := b.Add(addrs.TokenAddress, nil, batch.TransferCalldata(recipient, raw)); err != nil {
		return failure(fmt.Errorf("transfer: token address: %w", err)), nil
	}
	return e.ExecuteBatch(ctx, key, b.Calls(), waitForTx)
}

// toRaw converts a human amount with the cached decimals. In strict mode an
// unknown decimals value is a failure.
func (e *Executor) toRaw(ctx context.Context, humanAmount string) (*uint256.Int, Result, error) {
	info := e.decimals.Get(ctx)
	if !info.Known && e.strict {
		return nil, failure(fmt.Errorf("amount conversion: %w", cache.ErrNotInitialized)), nil
	}
	raw, err := amount.ToRaw(humanAmount, info.Decimals)
	if err != nil {
		return nil, Result{}, err
	}
	return raw, Result{Success: true}, nil
}

func signCalls(key *signer.Key, nonce *uint256.Int, calls []batch.Call) (signer.Signature, error) {
	digest := batch.Digest(nonce, calls)
	return key.SignPersonal(digest[:])
}

func fromExecute(resp *relay.ExecuteResponse) Result {
	if !resp.Accepted() {
		return failure(fmt.Errorf("relay rejected: %s", resp.Reason()))
	}
	res := success(resp)
	if !res.Success {
		return res
	}
	if resp.Transaction != nil {
		res.TxHash = resp.Transaction.Hash
		res.TransactionID = string(resp.Transaction.ID)
	}
	return res
}
