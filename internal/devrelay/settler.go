package devrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/batch"
	"github.com/0gfoundation/0g-gasless/internal/contracts"
)

// ErrBadCalldata marks token calldata that does not decode as transfer.
var ErrBadCalldata = errors.New("bad transfer calldata")

// Transfers extracts the token transfers a batch performs. Calls to other
// contracts, and non-transfer token calls, have no simulated effect.
func Transfers(from, token common.Address, calls []batch.Call) ([]Transfer, error) {
	method := contracts.ERC20().Methods["transfer"]
	var out []Transfer
	for i, call := range calls {
		if call.To != token || len(call.Data) < 4 || !bytes.Equal(call.Data[:4], batch.TransferSelector[:]) {
			continue
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: call %d: %v", ErrBadCalldata, i, err)
		}
		to, _ := args[0].(common.Address)
		raw, _ := args[1].(*big.Int)
		if raw == nil {
			return nil, fmt.Errorf("%w: call %d: missing amount", ErrBadCalldata, i)
		}
		amount, overflow := uint256.FromBig(raw)
		if overflow {
			return nil, fmt.Errorf("%w: call %d: amount overflows", ErrBadCalldata, i)
		}
		out = append(out, Transfer{From: from, To: to, Amount: amount})
	}
	return out, nil
}

// Settle applies a pending transaction and records its final status. A
// settled transaction is left untouched.
func Settle(ctx context.Context, store *Store, token common.Address, rec *TxRecord) error {
	if rec.Status != TxPending {
		return nil
	}
	from := common.HexToAddress(rec.From)
	transfers, err := Transfers(from, token, rec.Calls)
	if err == nil {
		err = store.ApplyTransfers(ctx, transfers)
	}
	switch {
	case err == nil:
		rec.Status = TxMined
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrBadCalldata):
		rec.Status = TxReverted
		rec.Reason = err.Error()
	default:
		return err
	}
	return store.PutTx(ctx, rec)
}

// RunSettler pops queued transaction ids and settles them until ctx is done.
func RunSettler(ctx context.Context, store *Store, token common.Address, metrics *Metrics, log *zap.Logger) {
	log.Info("settler started", zap.String("queue", ExecQueueKey))
	for {
		if ctx.Err() != nil {
			log.Info("settler stopped")
			return
		}

		results, err := store.rdb.BLPop(ctx, time.Second, ExecQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("settler: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		id := results[1]

		rec, err := store.Tx(ctx, id)
		if err != nil {
			log.Error("settler: load tx", zap.String("id", id), zap.Error(err))
			_ = store.rdb.LPush(ctx, ExecQueueKey, id)
			time.Sleep(time.Second)
			continue
		}
		if rec == nil {
			log.Warn("settler: unknown tx", zap.String("id", id))
			continue
		}
		if err := Settle(ctx, store, token, rec); err != nil {
			log.Error("settler: settle", zap.String("id", id), zap.Error(err))
			_ = store.rdb.LPush(ctx, ExecQueueKey, id)
			time.Sleep(time.Second)
			continue
		}
		metrics.tx(rec.Status)
		log.Info("tx settled",
			zap.String("id", rec.ID),
			zap.String("hash", rec.Hash),
			zap.String("status", rec.Status),
			zap.String("reason", rec.Reason))
	}
}

// RecoverPending re-enqueues transactions left pending by a previous run.
// Settling is idempotent so ids already in the queue are harmless.
func RecoverPending(ctx context.Context, store *Store, log *zap.Logger) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := store.rdb.Scan(ctx, cursor, "relay:tx:*", 100).Result()
		if err != nil {
			return n, fmt.Errorf("scan txs: %w", err)
		}
		for _, key := range keys {
			raw, err := store.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var rec TxRecord
			if json.Unmarshal(raw, &rec) != nil || rec.Status != TxPending {
				continue
			}
			if err := store.Enqueue(ctx, rec.ID); err != nil {
				return n, err
			}
			n++
			log.Info("recovered pending tx", zap.String("id", rec.ID))
		}
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}
