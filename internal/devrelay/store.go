package devrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-gasless/internal/batch"
)

// Redis key templates. %s is a lower-cased address unless noted.
const (
	ChallengeKeyFmt = "relay:challenge:%s" // %s = challenge message
	RegisteredKey   = "relay:registered"
	WhitelistKey    = "relay:whitelist"
	NonceKeyFmt     = "relay:nonce:%s"   // account nonce, consumed by authorizations
	TxNonceKeyFmt   = "relay:txnonce:%s" // delegate contract nonce, consumed by batches
	DelegateKeyFmt  = "relay:delegate:%s"
	BalanceKeyFmt   = "relay:balance:%s"
	TxKeyFmt        = "relay:tx:%s" // %s = transaction id
	ExecQueueKey    = "relay:queue:exec"
)

// Transaction states.
const (
	TxPending  = "pending"
	TxMined    = "mined"
	TxReverted = "reverted"
)

var (
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// casIncr increments KEYS[1] only if it still holds ARGV[1].
var casIncr = redis.NewScript(`
local cur = redis.call('GET', KEYS[1]) or '0'
if cur ~= ARGV[1] then return -1 end
return redis.call('INCR', KEYS[1])
`)

// TxRecord is a simulated transaction.
type TxRecord struct {
	ID      string       `json:"id"`
	Hash    string       `json:"hash"`
	From    string       `json:"from"`
	Calls   []batch.Call `json:"calls"`
	Status  string       `json:"status"`
	Reason  string       `json:"reason,omitempty"`
	Created int64        `json:"created"`
}

// Store keeps all relay state in redis.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }

// ── challenges ──────────────────────────────────────────────────────────────

func (s *Store) PutChallenge(ctx context.Context, msg string, addr common.Address, ttl time.Duration) error {
	return s.rdb.Set(ctx, fmt.Sprintf(ChallengeKeyFmt, msg), lower(addr), ttl).Err()
}

// ChallengeOwner returns the address msg was issued to, or "" when unknown or
// expired.
func (s *Store) ChallengeOwner(ctx context.Context, msg string) (string, error) {
	v, err := s.rdb.Get(ctx, fmt.Sprintf(ChallengeKeyFmt, msg)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *Store) DeleteChallenge(ctx context.Context, msg string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(ChallengeKeyFmt, msg)).Err()
}

// ── membership ──────────────────────────────────────────────────────────────

func (s *Store) MarkRegistered(ctx context.Context, addr common.Address) error {
	return s.rdb.SAdd(ctx, RegisteredKey, lower(addr)).Err()
}

func (s *Store) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	return s.rdb.SIsMember(ctx, RegisteredKey, lower(addr)).Result()
}

func (s *Store) Whitelist(ctx context.Context, addr common.Address) error {
	return s.rdb.SAdd(ctx, WhitelistKey, lower(addr)).Err()
}

func (s *Store) IsWhitelisted(ctx context.Context, addr common.Address) (bool, error) {
	return s.rdb.SIsMember(ctx, WhitelistKey, lower(addr)).Result()
}

// ── nonces ──────────────────────────────────────────────────────────────────

func (s *Store) getUint(ctx context.Context, key string) (uint64, error) {
	n, err := s.rdb.Get(ctx, key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *Store) AccountNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return s.getUint(ctx, fmt.Sprintf(NonceKeyFmt, lower(addr)))
}

func (s *Store) DelegationNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return s.getUint(ctx, fmt.Sprintf(TxNonceKeyFmt, lower(addr)))
}

// ConsumeAccountNonce advances the account nonce from expect.
func (s *Store) ConsumeAccountNonce(ctx context.Context, addr common.Address, expect uint64) error {
	return s.consume(ctx, fmt.Sprintf(NonceKeyFmt, lower(addr)), expect)
}

// ConsumeDelegationNonce advances the delegate nonce from expect.
func (s *Store) ConsumeDelegationNonce(ctx context.Context, addr common.Address, expect uint64) error {
	return s.consume(ctx, fmt.Sprintf(TxNonceKeyFmt, lower(addr)), expect)
}

func (s *Store) consume(ctx context.Context, key string, expect uint64) error {
	n, err := casIncr.Run(ctx, s.rdb, []string{key}, fmt.Sprint(expect)).Int64()
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if n < 0 {
		return ErrNonceMismatch
	}
	return nil
}

// ── delegation ──────────────────────────────────────────────────────────────

func (s *Store) SetDelegate(ctx context.Context, addr, delegate common.Address) error {
	return s.rdb.Set(ctx, fmt.Sprintf(DelegateKeyFmt, lower(addr)), delegate.Hex(), 0).Err()
}

// Delegate returns the delegate of addr, if any.
func (s *Store) Delegate(ctx context.Context, addr common.Address) (common.Address, bool, error) {
	v, err := s.rdb.Get(ctx, fmt.Sprintf(DelegateKeyFmt, lower(addr))).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return common.HexToAddress(v), true, nil
}

// ── balances ────────────────────────────────────────────────────────────────

func balanceKey(a common.Address) string { return fmt.Sprintf(BalanceKeyFmt, lower(a)) }

func (s *Store) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	v, err := s.rdb.Get(ctx, balanceKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return uint256.FromDecimal(v)
}

// Mint adds amount to addr's balance.
func (s *Store) Mint(ctx context.Context, addr common.Address, amount *uint256.Int) error {
	return s.ApplyTransfers(ctx, []Transfer{{To: addr, Amount: amount, Mint: true}})
}

// Transfer moves an amount between balances. Mint transfers have no sender.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int
	Mint   bool
}

// ApplyTransfers applies all transfers atomically or none of them.
func (s *Store) ApplyTransfers(ctx context.Context, transfers []Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var keys []string
	add := func(a common.Address) {
		k := balanceKey(a)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, t := range transfers {
		if !t.Mint {
			add(t.From)
		}
		add(t.To)
	}

	txf := func(tx *redis.Tx) error {
		balances := make(map[string]*uint256.Int, len(keys))
		for _, k := range keys {
			v, err := tx.Get(ctx, k).Result()
			switch {
			case errors.Is(err, redis.Nil):
				balances[k] = new(uint256.Int)
			case err != nil:
				return err
			default:
				b, err := uint256.FromDecimal(v)
				if err != nil {
					return fmt.Errorf("balance %s: %w", k, err)
				}
				balances[k] = b
			}
		}
		for _, t := range transfers {
			if !t.Mint {
				from := balances[balanceKey(t.From)]
				if from.Lt(t.Amount) {
					return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, t.From.Hex(), from.Dec(), t.Amount.Dec())
				}
				from.Sub(from, t.Amount)
			}
			to := balances[balanceKey(t.To)]
			if _, overflow := to.AddOverflow(to, t.Amount); overflow {
				return fmt.Errorf("balance of %s overflows", t.To.Hex())
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, b := range balances {
				pipe.Set(ctx, k, b.Dec(), 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("apply transfers: %w", redis.TxFailedErr)
}

// ── transactions ────────────────────────────────────────────────────────────

func (s *Store) PutTx(ctx context.Context, rec *TxRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	return s.rdb.Set(ctx, fmt.Sprintf(TxKeyFmt, rec.ID), raw, 0).Err()
}

// Tx returns the record for id, or nil when unknown.
func (s *Store) Tx(ctx context.Context, id string) (*TxRecord, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(TxKeyFmt, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec TxRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal tx %s: %w", id, err)
	}
	return &rec, nil
}

// Enqueue pushes a pending transaction id for the settler.
func (s *Store) Enqueue(ctx context.Context, id string) error {
	return s.rdb.RPush(ctx, ExecQueueKey, id).Err()
}
