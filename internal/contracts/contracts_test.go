package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// ── Built-in ABIs ────────────────────────────────────────────────────────────

func TestERC20_Methods(t *testing.T) {
	parsed := ERC20()
	for _, name := range []string{"transfer", "balanceOf", "decimals", "approve"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Errorf("missing method %s", name)
		}
	}
	if got := fmt.Sprintf("%x", parsed.Methods["transfer"].ID); got != "a9059cbb" {
		t.Errorf("transfer selector %s", got)
	}
	if _, ok := Delegate().Methods["nonce"]; !ok {
		t.Error("delegate nonce() missing")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

type fakeSource struct {
	calls map[string]int
	err   error
}

func (f *fakeSource) ABI(_ context.Context, address string) (json.RawMessage, error) {
	f.calls[address]++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(DelegateABI), nil
}

func TestRegistry_CachesByAddress(t *testing.T) {
	src := &fakeSource{calls: map[string]int{}}
	r, err := NewRegistry(src, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a := "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa"
	if _, err := r.Get(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, strings.ToLower(a)); err != nil {
		t.Fatal(err)
	}
	if src.calls[a] != 1 || r.Len() != 1 {
		t.Errorf("calls=%v len=%d", src.calls, r.Len())
	}
}

func TestRegistry_Evicts(t *testing.T) {
	src := &fakeSource{calls: map[string]int{}}
	r, _ := NewRegistry(src, 2)
	ctx := context.Background()
	for _, addr := range []string{"0x1", "0x2", "0x3"} {
		r.Get(ctx, addr) //nolint:errcheck
	}
	if r.Len() != 2 {
		t.Errorf("len=%d, want 2", r.Len())
	}
	r.Get(ctx, "0x1") //nolint:errcheck
	if src.calls["0x1"] != 2 {
		t.Errorf("evicted entry not refetched: %v", src.calls)
	}
	r.Purge()
	if r.Len() != 0 {
		t.Error("Purge left entries")
	}
}

func TestRegistry_ErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{calls: map[string]int{}, err: boom}
	r, _ := NewRegistry(src, 0)
	if _, err := r.Get(context.Background(), "0x1"); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if r.Len() != 0 {
		t.Error("error was cached")
	}
}

func TestParse_StringWrapped(t *testing.T) {
	wrapped, _ := json.Marshal(DelegateABI)
	parsed, err := Parse(wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed.Methods["nonce"]; !ok {
		t.Error("nonce missing")
	}
	if _, err := Parse(json.RawMessage(`{"not":"an abi"}`)); err == nil {
		t.Error("expected error for object")
	}
}
