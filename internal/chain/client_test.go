package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0gfoundation/0g-gasless/internal/contracts"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type callArgs struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Input hexutil.Bytes  `json:"input"`
}

// rpcServer fakes a JSON-RPC node. handle returns the result or an error
// message.
func rpcServer(t *testing.T, handle func(method string, params []json.RawMessage) (any, string)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != "" {
			resp["error"] = map[string]any{"code": -32000, "message": rpcErr}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func word(n int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(n).Bytes(), 32))
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func callData(t *testing.T, raw json.RawMessage) []byte {
	t.Helper()
	var args callArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		t.Fatal(err)
	}
	if len(args.Input) > 0 {
		return args.Input
	}
	return args.Data
}

// ── eth_call ─────────────────────────────────────────────────────────────────

func TestDecimals_RPC(t *testing.T) {
	sel := contracts.ERC20().Methods["decimals"].ID
	url := rpcServer(t, func(method string, params []json.RawMessage) (any, string) {
		if method != "eth_call" {
			t.Errorf("method %s", method)
		}
		if !bytes.Equal(callData(t, params[0])[:4], sel) {
			t.Error("wrong selector")
		}
		return word(6), ""
	})
	d, err := dial(t, url).Decimals(context.Background(), common.HexToAddress("0x1"))
	if err != nil || d != 6 {
		t.Errorf("got %d, %v", d, err)
	}
}

func TestDelegationNonce_RPC(t *testing.T) {
	url := rpcServer(t, func(method string, params []json.RawMessage) (any, string) {
		return word(41), ""
	})
	n, err := dial(t, url).DelegationNonce(context.Background(), common.HexToAddress("0x2"))
	if err != nil || n.Uint64() != 41 {
		t.Errorf("got %v, %v", n, err)
	}
}

func TestCall_EmptyResultIsNoCode(t *testing.T) {
	url := rpcServer(t, func(string, []json.RawMessage) (any, string) { return "0x", "" })
	_, err := dial(t, url).Decimals(context.Background(), common.HexToAddress("0x1"))
	if !errors.Is(err, ErrNoCode) {
		t.Errorf("want ErrNoCode, got %v", err)
	}
}

func TestCall_RPCError(t *testing.T) {
	url := rpcServer(t, func(string, []json.RawMessage) (any, string) { return nil, "execution reverted" })
	if _, err := dial(t, url).BalanceOf(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0x2")); err == nil {
		t.Fatal("expected error")
	}
}

// ── eth_getCode ──────────────────────────────────────────────────────────────

func TestDelegation_RPC(t *testing.T) {
	delegate := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	url := rpcServer(t, func(method string, _ []json.RawMessage) (any, string) {
		if method != "eth_getCode" {
			t.Errorf("method %s", method)
		}
		return hexutil.Encode(append([]byte{0xef, 0x01, 0x00}, delegate.Bytes()...)), ""
	})
	got, ok, err := dial(t, url).Delegation(context.Background(), common.HexToAddress("0x3"))
	if err != nil || !ok || got != delegate {
		t.Errorf("got %s ok=%v err=%v", got.Hex(), ok, err)
	}
}

func TestParseDelegation(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	good := append([]byte{0xef, 0x01, 0x00}, addr.Bytes()...)
	if got, ok := ParseDelegation(good); !ok || got != addr {
		t.Error("valid delegation not parsed")
	}
	for _, code := range [][]byte{nil, {0x60, 0x00}, good[:22], append([]byte{0xef, 0x01, 0x01}, addr.Bytes()...)} {
		if _, ok := ParseDelegation(code); ok {
			t.Errorf("%x parsed as delegation", code)
		}
	}
}
