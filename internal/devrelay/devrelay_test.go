package devrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/authorization"
	"github.com/0gfoundation/0g-gasless/internal/batch"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

func init() { gin.SetMode(gin.TestMode) }

// Anvil default keys.
const (
	aliceKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	bobKeyHex   = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	testAPIKey  = "test-api-key"
	testChainID = 31337
)

var (
	tokenAddr    = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	delegateAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

// ── Helpers ──────────────────────────────────────────────────────────────────

type testRelay struct {
	t     *testing.T
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *Store
	r     *gin.Engine
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() }) //nolint:errcheck

	store := NewStore(rdb)
	r := gin.New()
	NewHandler(store, Config{
		ChainID:         testChainID,
		APIKey:          testAPIKey,
		TokenAddress:    tokenAddr,
		DelegateAddress: delegateAddr,
		GoldPrice:       2350.5,
	}, NewMetrics(prometheus.NewRegistry()), zap.NewNop()).Register(r)
	return &testRelay{t: t, mr: mr, rdb: rdb, store: store, r: r}
}

func mustKey(t *testing.T, hexKey string) *signer.Key {
	t.Helper()
	k, err := signer.ParseKey(hexKey)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	return k
}

func (tr *testRelay) do(method, path string, hdr http.Header, body any) (*httptest.ResponseRecorder, map[string]any) {
	tr.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			tr.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	tr.r.ServeHTTP(w, req)
	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out) //nolint:errcheck
	return w, out
}

func (tr *testRelay) challenge(addr common.Address) string {
	tr.t.Helper()
	w, out := tr.do(http.MethodPost, "/random", nil, map[string]string{"address": addr.Hex()})
	if w.Code != http.StatusOK {
		tr.t.Fatalf("/random: %d %s", w.Code, w.Body.String())
	}
	return out["signMessage"].(string)
}

// session returns fresh auth headers for key.
func (tr *testRelay) session(key *signer.Key) http.Header {
	tr.t.Helper()
	msg := tr.challenge(key.Address())
	sig, err := key.SignPersonal([]byte(msg))
	if err != nil {
		tr.t.Fatalf("sign: %v", err)
	}
	h := http.Header{}
	h.Set("x-message", msg)
	h.Set("x-signature", sig.Hex())
	h.Set("x-address", key.Address().Hex())
	return h
}

func (tr *testRelay) register(key *signer.Key) {
	tr.t.Helper()
	msg := tr.challenge(key.Address())
	sig, _ := key.SignPersonal([]byte(msg))
	w, _ := tr.do(http.MethodPost, "/register", nil, map[string]string{"message": msg, "signature": sig.Hex()})
	if w.Code != http.StatusOK {
		tr.t.Fatalf("/register: %d %s", w.Code, w.Body.String())
	}
}

// onboard registers, whitelists, funds and delegates key.
func (tr *testRelay) onboard(key *signer.Key, funds uint64) {
	tr.t.Helper()
	ctx := context.Background()
	tr.register(key)
	if err := tr.store.Whitelist(ctx, key.Address()); err != nil {
		tr.t.Fatalf("whitelist: %v", err)
	}
	if err := tr.store.Mint(ctx, key.Address(), uint256.NewInt(funds)); err != nil {
		tr.t.Fatalf("mint: %v", err)
	}
	auth, err := authorization.Build(key, delegateAddr.Hex(), 0, testChainID)
	if err != nil {
		tr.t.Fatalf("Build: %v", err)
	}
	w, _ := tr.do(http.MethodPost, "/sponsor", tr.session(key), map[string]any{
		"calls": []batch.Call{}, "signature": "", "waitForTx": true, "authorization": auth,
	})
	if w.Code != http.StatusOK {
		tr.t.Fatalf("/sponsor: %d %s", w.Code, w.Body.String())
	}
}

func signedBatch(t *testing.T, key *signer.Key, nonce uint64, calls []batch.Call) string {
	t.Helper()
	d := batch.Digest(uint256.NewInt(nonce), calls)
	sig, err := key.SignPersonal(d[:])
	if err != nil {
		t.Fatalf("sign batch: %v", err)
	}
	return sig.Hex()
}

func transferCall(to common.Address, amount uint64) batch.Call {
	return batch.Call{To: tokenAddr, Data: batch.TransferCalldata(to, uint256.NewInt(amount))}
}

func (tr *testRelay) balance(a common.Address) uint64 {
	tr.t.Helper()
	b, err := tr.store.Balance(context.Background(), a)
	if err != nil {
		tr.t.Fatalf("balance: %v", err)
	}
	return b.Uint64()
}

// ── Registration and sessions ────────────────────────────────────────────────

func TestRegister(t *testing.T) {
	tr := newTestRelay(t)
	alice := mustKey(t, aliceKeyHex)

	msg := tr.challenge(alice.Address())
	if !strings.HasPrefix(msg, ChallengePrefix) {
		t.Fatalf("challenge = %q", msg)
	}
	sig, _ := alice.SignPersonal([]byte(msg))
	w, out := tr.do(http.MethodPost, "/register", nil, map[string]string{"message": msg, "signature": sig.Hex()})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if out["address"] != alice.Address().Hex() {
		t.Errorf("address = %v", out["address"])
	}
	ok, _ := tr.store.IsRegistered(context.Background(), alice.Address())
	if !ok {
		t.Error("alice not registered")
	}

	// The challenge is consumed.
	w, _ = tr.do(http.MethodPost, "/register", nil, map[string]string{"message": msg, "signature": sig.Hex()})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replayed register = %d, want 401", w.Code)
	}
}

func TestRegisterWrongSigner(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)

	msg := tr.challenge(alice.Address())
	sig, _ := bob.SignPersonal([]byte(msg))
	w, _ := tr.do(http.MethodPost, "/register", nil, map[string]string{"message": msg, "signature": sig.Hex()})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestChallengeExpires(t *testing.T) {
	tr := newTestRelay(t)
	alice := mustKey(t, aliceKeyHex)
	hdr := tr.session(alice)

	if w, _ := tr.do(http.MethodGet, "/nonce", hdr, nil); w.Code != http.StatusOK {
		t.Fatalf("fresh session = %d", w.Code)
	}
	tr.mr.FastForward(4*time.Hour + time.Second)
	if w, _ := tr.do(http.MethodGet, "/nonce", hdr, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expired session = %d, want 401", w.Code)
	}
}

func TestSessionAuthRejects(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)
	good := tr.session(alice)

	cases := []struct {
		name string
		hdr  func() http.Header
	}{
		{"missing headers", func() http.Header { return http.Header{} }},
		{"address mismatch", func() http.Header {
			h := good.Clone()
			h.Set("x-address", bob.Address().Hex())
			return h
		}},
		{"unknown message", func() http.Header {
			h := good.Clone()
			h.Set("x-message", ChallengePrefix+"nope")
			return h
		}},
		{"wrong signer", func() http.Header {
			h := good.Clone()
			sig, _ := bob.SignPersonal([]byte(good.Get("x-message")))
			h.Set("x-signature", sig.Hex())
			return h
		}},
		{"bad signature hex", func() http.Header {
			h := good.Clone()
			h.Set("x-signature", "0xzz")
			return h
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := tr.do(http.MethodGet, "/status", tc.hdr(), nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

// ── Delegation and execution ─────────────────────────────────────────────────

func TestSponsorDelegates(t *testing.T) {
	tr := newTestRelay(t)
	alice := mustKey(t, aliceKeyHex)
	tr.onboard(alice, 0)

	_, out := tr.do(http.MethodGet, "/status", tr.session(alice), nil)
	if out["delegated"] != true || out["delegateAddress"] != delegateAddr.Hex() {
		t.Errorf("status = %v", out)
	}
	_, out = tr.do(http.MethodGet, "/nonce", tr.session(alice), nil)
	if out["nonce"] != float64(1) || out["delegationNonce"] != float64(0) {
		t.Errorf("nonce = %v", out)
	}
}

func TestSponsorRejects(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)
	tr.register(alice)

	auth, _ := authorization.Build(alice, delegateAddr.Hex(), 0, testChainID)
	body := map[string]any{"calls": []batch.Call{}, "waitForTx": true, "authorization": auth}

	w, out := tr.do(http.MethodPost, "/sponsor", tr.session(alice), body)
	if w.Code != http.StatusForbidden || out["message"] != "account is not whitelisted" {
		t.Fatalf("unwhitelisted = %d %v", w.Code, out)
	}
	tr.store.Whitelist(context.Background(), alice.Address()) //nolint:errcheck

	cases := []struct {
		name string
		auth func() *authorization.Data
		want string
	}{
		{"wrong chain", func() *authorization.Data {
			a, _ := authorization.Build(alice, delegateAddr.Hex(), 0, 1)
			return a
		}, "authorization chain id mismatch"},
		{"wrong delegate", func() *authorization.Data {
			a, _ := authorization.Build(alice, tokenAddr.Hex(), 0, testChainID)
			return a
		}, "unsupported delegate"},
		{"wrong signer", func() *authorization.Data {
			a, _ := authorization.Build(bob, delegateAddr.Hex(), 0, testChainID)
			return a
		}, "invalid authorization signature"},
		{"stale nonce", func() *authorization.Data {
			a, _ := authorization.Build(alice, delegateAddr.Hex(), 5, testChainID)
			return a
		}, "authorization nonce mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := map[string]any{"calls": []batch.Call{}, "waitForTx": true, "authorization": tc.auth()}
			w, out := tr.do(http.MethodPost, "/sponsor", tr.session(alice), b)
			if w.Code != http.StatusBadRequest || out["message"] != tc.want {
				t.Errorf("got %d %v, want 400 %q", w.Code, out, tc.want)
			}
		})
	}
	if _, ok, _ := tr.store.Delegate(context.Background(), alice.Address()); ok {
		t.Error("rejected sponsor recorded a delegation")
	}
}

func TestExecuteTransferSync(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)
	tr.onboard(alice, 1_000_000)

	calls := []batch.Call{transferCall(bob.Address(), 250_000)}
	body := map[string]any{"calls": calls, "signature": signedBatch(t, alice, 0, calls), "waitForTx": true}
	w, out := tr.do(http.MethodPost, "/execute", tr.session(alice), body)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("execute = %d %s", w.Code, w.Body.String())
	}
	txObj, _ := out["transaction"].(map[string]any)
	if txObj == nil || !strings.HasPrefix(txObj["hash"].(string), "0x") || txObj["id"] == "" {
		t.Fatalf("transaction = %v", out["transaction"])
	}
	if got := tr.balance(alice.Address()); got != 750_000 {
		t.Errorf("alice = %d, want 750000", got)
	}
	if got := tr.balance(bob.Address()); got != 250_000 {
		t.Errorf("bob = %d, want 250000", got)
	}

	rec, _ := tr.store.Tx(context.Background(), txObj["id"].(string))
	if rec == nil || rec.Status != TxMined {
		t.Errorf("tx record = %+v", rec)
	}

	// Replaying the same signature fails: the delegation nonce moved on.
	w, out = tr.do(http.MethodPost, "/execute", tr.session(alice), body)
	if w.Code != http.StatusBadRequest || out["message"] != "invalid batch signature" {
		t.Errorf("replay = %d %v", w.Code, out)
	}
}

func TestExecuteInsufficientBalanceReverts(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)
	tr.onboard(alice, 100)

	calls := []batch.Call{transferCall(bob.Address(), 60), transferCall(bob.Address(), 60)}
	body := map[string]any{"calls": calls, "signature": signedBatch(t, alice, 0, calls), "waitForTx": true}
	w, out := tr.do(http.MethodPost, "/execute", tr.session(alice), body)
	if w.Code != http.StatusOK || out["success"] != false {
		t.Fatalf("execute = %d %v", w.Code, out)
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "insufficient balance") {
		t.Errorf("message = %q", msg)
	}
	if out["transaction"] != nil {
		t.Errorf("reverted batch returned a transaction")
	}
	// The whole batch is rolled back.
	if got := tr.balance(alice.Address()); got != 100 {
		t.Errorf("alice = %d, want 100", got)
	}
	if got := tr.balance(bob.Address()); got != 0 {
		t.Errorf("bob = %d, want 0", got)
	}
}

func TestExecuteRequiresDelegation(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)
	tr.register(alice)

	calls := []batch.Call{transferCall(bob.Address(), 1)}
	body := map[string]any{"calls": calls, "signature": signedBatch(t, alice, 0, calls)}
	w, out := tr.do(http.MethodPost, "/execute", tr.session(alice), body)
	if w.Code != http.StatusBadRequest || out["message"] != "account is not delegated" {
		t.Errorf("got %d %v", w.Code, out)
	}

	// Unregistered accounts are rejected before anything else.
	w, _ = tr.do(http.MethodPost, "/execute", tr.session(bob), body)
	if w.Code != http.StatusForbidden {
		t.Errorf("unregistered = %d, want 403", w.Code)
	}
}

func TestExecuteAsyncSettles(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)
	tr.onboard(alice, 500)

	calls := []batch.Call{transferCall(bob.Address(), 200)}
	body := map[string]any{"calls": calls, "signature": signedBatch(t, alice, 0, calls)}
	_, out := tr.do(http.MethodPost, "/execute", tr.session(alice), body)
	if out["success"] != true {
		t.Fatalf("execute = %v", out)
	}
	id := out["transaction"].(map[string]any)["id"].(string)

	w, out := tr.do(http.MethodGet, "/tx/"+id, nil, nil)
	if w.Code != http.StatusOK || out["status"] != TxPending {
		t.Fatalf("before settle = %d %v", w.Code, out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSettler(ctx, tr.store, tokenAddr, nil, zap.NewNop())
		close(done)
	}()
	defer func() { cancel(); <-done }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, _ := tr.store.Tx(context.Background(), id)
		if rec != nil && rec.Status == TxMined {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tx not settled: %+v", rec)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := tr.balance(bob.Address()); got != 200 {
		t.Errorf("bob = %d, want 200", got)
	}
}

// ── Admin and public routes ──────────────────────────────────────────────────

func TestAdminRequiresAPIKey(t *testing.T) {
	tr := newTestRelay(t)
	alice, bob := mustKey(t, aliceKeyHex), mustKey(t, bobKeyHex)

	hdr := tr.session(alice)
	w, _ := tr.do(http.MethodPost, "/admin/mint", hdr, map[string]string{"address": bob.Address().Hex(), "amount": "5"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("no key = %d, want 403", w.Code)
	}

	hdr.Set("x-api-key", testAPIKey)
	w, out := tr.do(http.MethodPost, "/admin/mint", hdr, map[string]string{"address": bob.Address().Hex(), "amount": "5"})
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("mint = %d %v", w.Code, out)
	}
	if got := tr.balance(bob.Address()); got != 5 {
		t.Errorf("bob = %d, want 5", got)
	}

	w, _ = tr.do(http.MethodPost, "/admin/whitelist", hdr, map[string]string{"address": bob.Address().Hex()})
	if w.Code != http.StatusOK {
		t.Fatalf("whitelist = %d", w.Code)
	}
	if ok, _ := tr.store.IsWhitelisted(context.Background(), bob.Address()); !ok {
		t.Error("bob not whitelisted")
	}

	w, _ = tr.do(http.MethodPost, "/admin/mint", hdr, map[string]string{"address": bob.Address().Hex(), "amount": "-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative mint = %d, want 400", w.Code)
	}
}

func TestPublicRoutes(t *testing.T) {
	tr := newTestRelay(t)

	_, out := tr.do(http.MethodGet, "/contracts", nil, nil)
	if out["tokenAddress"] != tokenAddr.Hex() || out["delegateAddress"] != delegateAddr.Hex() {
		t.Errorf("contracts = %v", out)
	}

	w, out := tr.do(http.MethodGet, "/abi/"+strings.ToLower(tokenAddr.Hex()), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("abi = %d", w.Code)
	}
	if entries, _ := out["abi"].([]any); len(entries) == 0 {
		t.Errorf("abi = %v", out["abi"])
	}
	if w, _ := tr.do(http.MethodGet, "/abi/0x0000000000000000000000000000000000000001", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown abi = %d, want 404", w.Code)
	}

	alice := mustKey(t, aliceKeyHex)
	_, out = tr.do(http.MethodGet, "/gold/price", tr.session(alice), nil)
	if out["price"] != 2350.5 {
		t.Errorf("price = %v", out["price"])
	}
}

// ── Store ────────────────────────────────────────────────────────────────────

func TestConsumeNonce(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()
	a := mustKey(t, aliceKeyHex).Address()

	if err := tr.store.ConsumeDelegationNonce(ctx, a, 0); err != nil {
		t.Fatalf("consume 0: %v", err)
	}
	if err := tr.store.ConsumeDelegationNonce(ctx, a, 0); err != ErrNonceMismatch {
		t.Errorf("consume 0 again = %v, want ErrNonceMismatch", err)
	}
	if err := tr.store.ConsumeDelegationNonce(ctx, a, 1); err != nil {
		t.Errorf("consume 1: %v", err)
	}
	n, _ := tr.store.DelegationNonce(ctx, a)
	if n != 2 {
		t.Errorf("nonce = %d, want 2", n)
	}
	if an, _ := tr.store.AccountNonce(ctx, a); an != 0 {
		t.Errorf("account nonce = %d, want 0", an)
	}
}

func TestTransfersDecoding(t *testing.T) {
	from := mustKey(t, aliceKeyHex).Address()
	to := mustKey(t, bobKeyHex).Address()
	other := common.HexToAddress("0x0000000000000000000000000000000000000009")

	calls := []batch.Call{
		transferCall(to, 7),
		{To: other, Data: batch.TransferCalldata(to, uint256.NewInt(9))}, // not the token
		{To: tokenAddr, Data: []byte{}},                                  // no selector
	}
	got, err := Transfers(from, tokenAddr, calls)
	if err != nil {
		t.Fatalf("Transfers: %v", err)
	}
	if len(got) != 1 || got[0].To != to || got[0].Amount.Uint64() != 7 || got[0].From != from {
		t.Errorf("transfers = %+v", got)
	}

	bad := []batch.Call{{To: tokenAddr, Data: batch.TransferSelector[:]}}
	if _, err := Transfers(from, tokenAddr, bad); err == nil {
		t.Error("truncated calldata decoded")
	}
}

func TestRecoverPending(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()

	tr.store.PutTx(ctx, &TxRecord{ID: "a", Status: TxPending})  //nolint:errcheck
	tr.store.PutTx(ctx, &TxRecord{ID: "b", Status: TxMined})    //nolint:errcheck
	tr.store.PutTx(ctx, &TxRecord{ID: "c", Status: TxReverted}) //nolint:errcheck

	n, err := RecoverPending(ctx, tr.store, zap.NewNop())
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	queued, _ := tr.rdb.LRange(ctx, ExecQueueKey, 0, -1).Result()
	if len(queued) != 1 || queued[0] != "a" {
		t.Errorf("queue = %v", queued)
	}
}
