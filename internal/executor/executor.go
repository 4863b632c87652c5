// Package executor orchestrates gasless execution: it authenticates against
// the relay, builds and signs batch digests and EIP-7702 authorizations, and
// owns the session, decimals, price and contract-address caches.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/cache"
	"github.com/0gfoundation/0g-gasless/internal/chain"
	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/contracts"
	"github.com/0gfoundation/0g-gasless/internal/relay"
	"github.com/0gfoundation/0g-gasless/internal/session"
)

// ErrEmptyBatch is returned when a batch has no calls.
var ErrEmptyBatch = errors.New("empty batch")

// Relay is the relay surface the executor depends on; *relay.Client
// implements it.
type Relay interface {
	session.Challenger
	Register(ctx context.Context, message, signature string) (string, error)
	Nonce(ctx context.Context, h relay.Headers) (*relay.NonceResponse, error)
	Status(ctx context.Context, h relay.Headers) (*relay.StatusResponse, error)
	ABI(ctx context.Context, address string) (json.RawMessage, error)
	Execute(ctx context.Context, h relay.Headers, req relay.ExecuteRequest) (*relay.ExecuteResponse, error)
	Sponsor(ctx context.Context, h relay.Headers, req relay.SponsorRequest) (*relay.ExecuteResponse, error)
	Contracts(ctx context.Context) (*relay.ContractsResponse, error)
	GoldPrice(ctx context.Context, h relay.Headers) (float64, error)
	Mint(ctx context.Context, h relay.Headers, address, amount string) (*relay.AdminResponse, error)
	Whitelist(ctx context.Context, h relay.Headers, address string) (*relay.AdminResponse, error)
}

type Options struct {
	SessionTTL      time.Duration
	PriceTTL        time.Duration
	// DefaultDecimals is served while the token's decimals are unknown.
	// Nil means cache.DefaultDecimals.
	DefaultDecimals *uint8
	ABICacheSize    int

	// TokenAddress and DelegateAddress override the relay's /contracts.
	TokenAddress    string
	DelegateAddress string

	// Chain, when set, is the source of token decimals.
	Chain *chain.Client

	// StrictDecimals makes amount conversions fail instead of using the
	// default decimals when the token's decimals could not be read.
	StrictDecimals bool

	Clock  func() time.Time
	Logger *zap.Logger
}

// Executor is safe for concurrent use. Callers must not sign two batches for
// the same address concurrently, as both would use the same nonce.
type Executor struct {
	relay     Relay
	sessions  *session.Manager
	decimals  *cache.Decimals
	price     *cache.TTL[float64]
	addresses *cache.TTL[relay.ContractsResponse]
	abis      *contracts.Registry
	chain     *chain.Client
	strict    bool
	log       *zap.Logger

	mu               sync.RWMutex
	tokenOverride    string
	delegateOverride string
}

func New(r Relay, opts Options) (*Executor, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	fallback := cache.DefaultDecimals
	if opts.DefaultDecimals != nil {
		fallback = *opts.DefaultDecimals
	}
	for _, addr := range []string{opts.TokenAddress, opts.DelegateAddress} {
		if addr == "" {
			continue
		}
		if _, err := codec.DecodeAddress(addr); err != nil {
			return nil, fmt.Errorf("address override: %w", err)
		}
	}
	abis, err := contracts.NewRegistry(r, opts.ABICacheSize)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		relay: r,
		sessions: session.NewManager(r,
			session.WithTTL(opts.SessionTTL),
			session.WithClock(clock),
			session.WithLogger(log)),
		price:            cache.NewPrice(opts.PriceTTL, clock),
		addresses:        cache.NewTTL[relay.ContractsResponse](0, clock),
		abis:             abis,
		chain:            opts.Chain,
		strict:           opts.StrictDecimals,
		log:              log,
		tokenOverride:    opts.TokenAddress,
		delegateOverride: opts.DelegateAddress,
	}
	var reader cache.DecimalsReader
	if opts.Chain != nil {
		reader = tokenDecimals{e}
	}
	e.decimals = cache.NewDecimals(reader, fallback, log)
	return e, nil
}

// tokenDecimals reads decimals from chain for the currently resolved token.
type tokenDecimals struct{ e *Executor }

func (t tokenDecimals) Decimals(ctx context.Context) (uint8, error) {
	addrs, err := t.e.contractAddresses(ctx)
	if err != nil {
		return 0, err
	}
	token, err := codec.DecodeAddress(addrs.TokenAddress)
	if err != nil {
		return 0, err
	}
	return t.e.chain.Decimals(ctx, token)
}

// contractAddresses resolves the delegate and token, fetching /contracts once.
func (e *Executor) contractAddresses(ctx context.Context) (relay.ContractsResponse, error) {
	e.mu.RLock()
	token, delegate := e.tokenOverride, e.delegateOverride
	e.mu.RUnlock()
	if token != "" && delegate != "" {
		return relay.ContractsResponse{TokenAddress: token, DelegateAddress: delegate}, nil
	}
	addrs, err := e.addresses.Get(ctx, func(ctx context.Context) (relay.ContractsResponse, error) {
		resp, err := e.relay.Contracts(ctx)
		if err != nil {
			return relay.ContractsResponse{}, err
		}
		return *resp, nil
	})
	if err != nil {
		return relay.ContractsResponse{}, err
	}
	if token != "" {
		addrs.TokenAddress = token
	}
	if delegate != "" {
		addrs.DelegateAddress = delegate
	}
	return addrs, nil
}

// relayFailure converts a relay or session error to a failed Result. An
// authentication rejection drops the session so the next call signs in again.
func (e *Executor) relayFailure(op string, err error) Result {
	var re *relay.Error
	if errors.As(err, &re) && (re.StatusCode == http.StatusUnauthorized || re.StatusCode == http.StatusForbidden) {
		e.sessions.Invalidate()
	}
	e.log.Warn("relay operation failed", zap.String("op", op), zap.Error(err))
	return failure(fmt.Errorf("%s: %w", op, err))
}

// ClearCaches drops the session and every cached value.
func (e *Executor) ClearCaches() {
	e.sessions.Invalidate()
	e.decimals.Clear()
	e.price.Clear()
	e.addresses.Clear()
	e.abis.Purge()
}
