// Package devrelay is a development implementation of the relay HTTP API. It
// keeps accounts, nonces, delegations and token balances in redis and settles
// batches against that state instead of a chain.
package devrelay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-gasless/internal/authorization"
	"github.com/0gfoundation/0g-gasless/internal/batch"
	"github.com/0gfoundation/0g-gasless/internal/codec"
	"github.com/0gfoundation/0g-gasless/internal/contracts"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// ChallengePrefix starts every issued sign-in message.
const ChallengePrefix = "Sign in to gasless relay: "

// Config holds the relay's fixed parameters.
type Config struct {
	ChainID         uint64
	APIKey          string
	TokenAddress    common.Address
	DelegateAddress common.Address
	GoldPrice       float64
	ChallengeTTL    time.Duration
}

// Handler serves the relay API.
type Handler struct {
	store   *Store
	cfg     Config
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewHandler(store *Store, cfg Config, metrics *Metrics, log *zap.Logger) *Handler {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 4 * time.Hour
	}
	return &Handler{store: store, cfg: cfg, metrics: metrics, log: log, now: time.Now}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(h.metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/random", h.challenge)
	r.POST("/register", h.register)
	r.GET("/contracts", h.contracts)
	r.GET("/abi/:address", h.abi)
	r.GET("/tx/:id", h.tx)

	authed := r.Group("", SessionAuth(h.store, h.log))
	authed.GET("/nonce", h.nonce)
	authed.GET("/status", h.status)
	authed.GET("/gold/price", h.goldPrice)
	authed.POST("/execute", h.execute)
	authed.POST("/sponsor", h.sponsor)

	admin := r.Group("/admin", SessionAuth(h.store, h.log), AdminAuth(h.cfg.APIKey))
	admin.POST("/mint", h.mint)
	admin.POST("/whitelist", h.whitelist)
}

func sessionAddress(c *gin.Context) common.Address {
	return c.MustGet(addressKey).(common.Address)
}

func (h *Handler) internalError(c *gin.Context, what string, err error) {
	h.log.Error(what, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// ── public routes ───────────────────────────────────────────────────────────

func (h *Handler) challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, err := codec.DecodeAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	msg := ChallengePrefix + uuid.NewString()
	if err := h.store.PutChallenge(c.Request.Context(), msg, addr, h.cfg.ChallengeTTL); err != nil {
		h.internalError(c, "store challenge", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signMessage": msg})
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	owner, err := h.store.ChallengeOwner(ctx, req.Message)
	if err != nil {
		h.internalError(c, "challenge lookup", err)
		return
	}
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired challenge"})
		return
	}
	sig, err := signer.ParseSignature(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature hex"})
		return
	}
	addr, err := signer.RecoverPersonal([]byte(req.Message), sig)
	if err != nil || !strings.EqualFold(addr.Hex(), owner) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	if err := h.store.MarkRegistered(ctx, addr); err != nil {
		h.internalError(c, "mark registered", err)
		return
	}
	// Challenges are single use once registered.
	h.store.DeleteChallenge(ctx, req.Message) //nolint:errcheck
	h.log.Info("account registered", zap.String("address", addr.Hex()))
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex()})
}

func (h *Handler) contracts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"delegateAddress": h.cfg.DelegateAddress.Hex(),
		"tokenAddress":    h.cfg.TokenAddress.Hex(),
	})
}

func (h *Handler) abi(c *gin.Context) {
	addr, err := codec.DecodeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	var doc string
	switch addr {
	case h.cfg.TokenAddress:
		doc = contracts.ERC20ABI
	case h.cfg.DelegateAddress:
		doc = contracts.DelegateABI
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown contract"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"abi": json.RawMessage(doc)})
}

func (h *Handler) tx(c *gin.Context) {
	rec, err := h.store.Tx(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "tx lookup", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown transaction"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ── session routes ──────────────────────────────────────────────────────────

func (h *Handler) nonce(c *gin.Context) {
	ctx := c.Request.Context()
	addr := sessionAddress(c)
	n, err := h.store.AccountNonce(ctx, addr)
	if err != nil {
		h.internalError(c, "account nonce", err)
		return
	}
	dn, err := h.store.DelegationNonce(ctx, addr)
	if err != nil {
		h.internalError(c, "delegation nonce", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": n, "delegationNonce": dn})
}

func (h *Handler) status(c *gin.Context) {
	delegate, ok, err := h.store.Delegate(c.Request.Context(), sessionAddress(c))
	if err != nil {
		h.internalError(c, "delegate lookup", err)
		return
	}
	resp := gin.H{"delegated": ok}
	if ok {
		resp["delegateAddress"] = delegate.Hex()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) goldPrice(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"price": h.cfg.GoldPrice})
}

type executeRequest struct {
	Calls     []batch.Call `json:"calls"`
	Signature string       `json:"signature"`
	WaitForTx bool         `json:"waitForTx"`
}

type sponsorRequest struct {
	executeRequest
	Authorization *authorization.Data `json:"authorization"`
}

func reject(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

func (h *Handler) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	addr := sessionAddress(c)
	if !h.allowed(c, addr, false) {
		return
	}
	delegate, ok, err := h.store.Delegate(ctx, addr)
	if err != nil {
		h.internalError(c, "delegate lookup", err)
		return
	}
	if !ok || delegate != h.cfg.DelegateAddress {
		reject(c, http.StatusBadRequest, "account is not delegated")
		return
	}
	if len(req.Calls) == 0 {
		reject(c, http.StatusBadRequest, "empty batch")
		return
	}
	h.submit(c, addr, &req)
}

func (h *Handler) sponsor(c *gin.Context) {
	var req sponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	addr := sessionAddress(c)
	if !h.allowed(c, addr, true) {
		return
	}
	auth := req.Authorization
	if auth == nil {
		reject(c, http.StatusBadRequest, "missing authorization")
		return
	}
	if auth.ChainID != h.cfg.ChainID {
		reject(c, http.StatusBadRequest, "authorization chain id mismatch")
		return
	}
	delegate, err := codec.DecodeAddress(auth.DelegateAddress)
	if err != nil || delegate != h.cfg.DelegateAddress {
		reject(c, http.StatusBadRequest, "unsupported delegate")
		return
	}
	authority, err := authorization.Recover(auth)
	if err != nil || authority != addr {
		reject(c, http.StatusBadRequest, "invalid authorization signature")
		return
	}
	if err := h.store.ConsumeAccountNonce(ctx, addr, auth.Nonce); err != nil {
		if errors.Is(err, ErrNonceMismatch) {
			reject(c, http.StatusBadRequest, "authorization nonce mismatch")
			return
		}
		h.internalError(c, "consume account nonce", err)
		return
	}
	if err := h.store.SetDelegate(ctx, addr, delegate); err != nil {
		h.internalError(c, "set delegate", err)
		return
	}
	h.log.Info("account delegated",
		zap.String("address", addr.Hex()),
		zap.String("delegate", delegate.Hex()))

	if len(req.Calls) == 0 {
		rec := h.newTx(addr, nil, auth.Signature.R)
		rec.Status = TxMined
		if err := h.store.PutTx(ctx, rec); err != nil {
			h.internalError(c, "store tx", err)
			return
		}
		h.metrics.tx(TxMined)
		c.JSON(http.StatusOK, gin.H{"success": true, "transaction": gin.H{"hash": rec.Hash, "id": rec.ID}})
		return
	}
	h.submit(c, addr, &req.executeRequest)
}

// allowed enforces registration, plus the whitelist for sponsored calls.
func (h *Handler) allowed(c *gin.Context, addr common.Address, sponsored bool) bool {
	ctx := c.Request.Context()
	ok, err := h.store.IsRegistered(ctx, addr)
	if err != nil {
		h.internalError(c, "registration lookup", err)
		return false
	}
	if !ok {
		reject(c, http.StatusForbidden, "account is not registered")
		return false
	}
	if !sponsored {
		return true
	}
	ok, err = h.store.IsWhitelisted(ctx, addr)
	if err != nil {
		h.internalError(c, "whitelist lookup", err)
		return false
	}
	if !ok {
		reject(c, http.StatusForbidden, "account is not whitelisted")
		return false
	}
	return true
}

// submit verifies the batch signature against the delegation nonce, consumes
// the nonce and settles or enqueues the batch.
func (h *Handler) submit(c *gin.Context, addr common.Address, req *executeRequest) {
	ctx := c.Request.Context()
	nonce, err := h.store.DelegationNonce(ctx, addr)
	if err != nil {
		h.internalError(c, "delegation nonce", err)
		return
	}
	sig, err := signer.ParseSignature(req.Signature)
	if err != nil {
		reject(c, http.StatusBadRequest, "invalid batch signature")
		return
	}
	digest := batch.Digest(new(uint256.Int).SetUint64(nonce), req.Calls)
	recovered, err := signer.RecoverPersonal(digest[:], sig)
	if err != nil || recovered != addr {
		reject(c, http.StatusBadRequest, "invalid batch signature")
		return
	}
	if err := h.store.ConsumeDelegationNonce(ctx, addr, nonce); err != nil {
		if errors.Is(err, ErrNonceMismatch) {
			reject(c, http.StatusConflict, "delegation nonce changed, retry")
			return
		}
		h.internalError(c, "consume delegation nonce", err)
		return
	}

	rec := h.newTx(addr, req.Calls, codec.EncodeHex(digest[:]))
	if !req.WaitForTx {
		if err := h.store.PutTx(ctx, rec); err != nil {
			h.internalError(c, "store tx", err)
			return
		}
		if err := h.store.Enqueue(ctx, rec.ID); err != nil {
			h.internalError(c, "enqueue tx", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "transaction": gin.H{"hash": rec.Hash, "id": rec.ID}})
		return
	}

	if err := Settle(ctx, h.store, h.cfg.TokenAddress, rec); err != nil {
		h.internalError(c, "settle tx", err)
		return
	}
	h.metrics.tx(rec.Status)
	if rec.Status == TxReverted {
		reject(c, http.StatusOK, "execution reverted: "+rec.Reason)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": gin.H{"hash": rec.Hash, "id": rec.ID}})
}

func (h *Handler) newTx(from common.Address, calls []batch.Call, salt string) *TxRecord {
	id := uuid.NewString()
	return &TxRecord{
		ID:      id,
		Hash:    codec.EncodeHex(codec.Keccak256(from.Bytes(), []byte(id), []byte(salt))),
		From:    from.Hex(),
		Calls:   calls,
		Status:  TxPending,
		Created: h.now().Unix(),
	}
}

// ── admin routes ────────────────────────────────────────────────────────────

func (h *Handler) mint(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := codec.DecodeAddress(req.Address)
	if err != nil {
		reject(c, http.StatusBadRequest, "invalid address")
		return
	}
	amount, err := codec.ParseUint256(req.Amount)
	if err != nil {
		reject(c, http.StatusBadRequest, "invalid amount")
		return
	}
	if err := h.store.Mint(c.Request.Context(), addr, amount); err != nil {
		h.internalError(c, "mint", err)
		return
	}
	h.log.Info("minted",
		zap.String("address", addr.Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("by", sessionAddress(c).Hex()))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "minted " + amount.Dec()})
}

func (h *Handler) whitelist(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := codec.DecodeAddress(req.Address)
	if err != nil {
		reject(c, http.StatusBadRequest, "invalid address")
		return
	}
	if err := h.store.Whitelist(c.Request.Context(), addr); err != nil {
		h.internalError(c, "whitelist", err)
		return
	}
	h.log.Info("whitelisted", zap.String("address", addr.Hex()))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "whitelisted"})
}
