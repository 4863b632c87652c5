package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const DefaultRegistrySize = 64

// Source returns the raw JSON ABI for a contract address.
type Source interface {
	ABI(ctx context.Context, address string) (json.RawMessage, error)
}

// Registry caches parsed ABIs by address, evicting the least recently used.
type Registry struct {
	source Source
	cache  *lru.Cache
	group  singleflight.Group
}

func NewRegistry(source Source, size int) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("abi cache: %w", err)
	}
	return &Registry{source: source, cache: cache}, nil
}

// Get returns the parsed ABI for address, fetching it on a miss. Failed
// fetches are not cached.
func (r *Registry) Get(ctx context.Context, address string) (*abi.ABI, error) {
	key := strings.ToLower(address)
	if v, ok := r.cache.Get(key); ok {
		return v.(*abi.ABI), nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}
		raw, err := r.source.ABI(ctx, address)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("abi for %s: %w", address, err)
		}
		r.cache.Add(key, parsed)
		return parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*abi.ABI), nil
}

// Parse accepts either a JSON ABI array or a JSON string containing one.
func Parse(raw json.RawMessage) (*abi.ABI, error) {
	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, err
		}
		body = []byte(s)
	}
	parsed, err := abi.JSON(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (r *Registry) Len() int { return r.cache.Len() }

// Purge empties the cache.
func (r *Registry) Purge() { r.cache.Purge() }
