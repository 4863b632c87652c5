package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/0gfoundation/0g-gasless/internal/amount"
)

// DefaultDecimals is served when the token's decimals cannot be read.
const DefaultDecimals uint8 = 6

// ErrNotInitialized means no decimals value has been fetched or set yet.
var ErrNotInitialized = errors.New("decimals not initialized")

// DecimalsReader fetches the token's decimals, usually from chain.
type DecimalsReader interface {
	Decimals(ctx context.Context) (uint8, error)
}

// DecimalsInfo is the cached token precision. Known is false when the value
// is the fallback default rather than a fetched or configured one.
type DecimalsInfo struct {
	Decimals   uint8
	Multiplier uint256.Int
	Known      bool
}

// Decimals caches the token decimals for the lifetime of the executor. It has
// no TTL: once initialised the value stays until Clear or Set.
type Decimals struct {
	fallback uint8
	log      *zap.Logger
	group    singleflight.Group

	mu     sync.Mutex
	reader DecimalsReader
	info   DecimalsInfo
	inited bool
}

func NewDecimals(reader DecimalsReader, fallback uint8, log *zap.Logger) *Decimals {
	if fallback > amount.MaxDecimals {
		fallback = DefaultDecimals
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Decimals{reader: reader, fallback: fallback, log: log}
}

// Get returns the cached decimals, fetching on first use. When the fetch
// fails the fallback is returned with Known=false and nothing is cached, so
// the next call tries again.
func (d *Decimals) Get(ctx context.Context) DecimalsInfo {
	if info, err := d.Peek(); err == nil {
		return info
	}
	v, _, _ := d.group.Do("decimals", func() (any, error) {
		if info, err := d.Peek(); err == nil {
			return info, nil
		}
		d.mu.Lock()
		reader := d.reader
		d.mu.Unlock()

		var err error
		if reader == nil {
			err = ErrNotInitialized
		} else {
			var dec uint8
			if dec, err = reader.Decimals(ctx); err == nil {
				if err = d.Set(dec); err == nil {
					return d.Peek()
				}
			}
		}
		d.log.Warn("token decimals unavailable, using default",
			zap.Uint8("default", d.fallback), zap.Error(err))
		return d.fallbackInfo(), nil
	})
	return v.(DecimalsInfo)
}

// Set records decimals explicitly and recomputes the multiplier.
func (d *Decimals) Set(dec uint8) error {
	mul, err := amount.Multiplier(dec)
	if err != nil {
		return fmt.Errorf("set decimals: %w", err)
	}
	d.mu.Lock()
	d.info = DecimalsInfo{Decimals: dec, Multiplier: *mul, Known: true}
	d.inited = true
	d.mu.Unlock()
	return nil
}

// SetReader swaps the source, for example after the token address changes,
// and clears the cached value.
func (d *Decimals) SetReader(r DecimalsReader) {
	d.mu.Lock()
	d.reader = r
	d.inited = false
	d.info = DecimalsInfo{}
	d.mu.Unlock()
}

// Peek returns the cached value without fetching.
func (d *Decimals) Peek() (DecimalsInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return DecimalsInfo{}, ErrNotInitialized
	}
	return d.info, nil
}

// Clear forces the next Get to refetch.
func (d *Decimals) Clear() {
	d.mu.Lock()
	d.inited = false
	d.info = DecimalsInfo{}
	d.mu.Unlock()
}

func (d *Decimals) fallbackInfo() DecimalsInfo {
	mul, _ := amount.Multiplier(d.fallback)
	return DecimalsInfo{Decimals: d.fallback, Multiplier: *mul}
}
