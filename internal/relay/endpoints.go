package relay

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
)

// Challenge asks the relay for a message to sign for address (POST /random).
func (c *Client) Challenge(ctx context.Context, address string) (string, error) {
	r := request{method: http.MethodPost, endpoint: "/random", body: challengeRequest{Address: address}}
	var resp challengeResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return "", err
	}
	if resp.SignMessage == "" {
		return "", c.malformed(r, "missing signMessage")
	}
	return resp.SignMessage, nil
}

// Register submits a signed challenge and returns the address the relay
// recovered from it (POST /register).
func (c *Client) Register(ctx context.Context, message, signature string) (string, error) {
	r := request{method: http.MethodPost, endpoint: "/register",
		body: registerRequest{Message: message, Signature: signature}}
	var resp registerResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", c.malformed(r, "missing address")
	}
	return resp.Address, nil
}

// Nonce returns the account and delegation nonces (GET /nonce).
func (c *Client) Nonce(ctx context.Context, h Headers) (*NonceResponse, error) {
	r := request{method: http.MethodGet, endpoint: "/nonce", headers: &h}
	var resp NonceResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	if resp.Nonce == nil || resp.DelegationNonce == nil {
		return nil, c.malformed(r, "missing nonce or delegationNonce")
	}
	return &resp, nil
}

// Status reports whether the session address is delegated (GET /status).
func (c *Client) Status(ctx context.Context, h Headers) (*StatusResponse, error) {
	r := request{method: http.MethodGet, endpoint: "/status", headers: &h}
	var resp StatusResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ABI returns the raw ABI JSON the relay holds for a contract (GET /abi/{address}).
func (c *Client) ABI(ctx context.Context, address string) (json.RawMessage, error) {
	r := request{method: http.MethodGet, endpoint: "/abi", path: "/abi/" + url.PathEscape(address)}
	var resp abiResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	if len(resp.ABI) == 0 || string(resp.ABI) == "null" {
		return nil, c.malformed(r, "missing abi")
	}
	return resp.ABI, nil
}

// Execute submits a signed batch (POST /execute). A decoded body is returned
// even when the relay reports failure.
func (c *Client) Execute(ctx context.Context, h Headers, req ExecuteRequest) (*ExecuteResponse, error) {
	return c.execute(ctx, request{method: http.MethodPost, endpoint: "/execute", headers: &h, body: req})
}

// Sponsor submits a batch together with a delegation (POST /sponsor).
func (c *Client) Sponsor(ctx context.Context, h Headers, req SponsorRequest) (*ExecuteResponse, error) {
	return c.execute(ctx, request{method: http.MethodPost, endpoint: "/sponsor", headers: &h, body: req})
}

func (c *Client) execute(ctx context.Context, r request) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Contracts returns the delegate and token addresses (GET /contracts).
func (c *Client) Contracts(ctx context.Context) (*ContractsResponse, error) {
	r := request{method: http.MethodGet, endpoint: "/contracts"}
	var resp ContractsResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	if resp.DelegateAddress == "" || resp.TokenAddress == "" {
		return nil, c.malformed(r, "missing delegateAddress or tokenAddress")
	}
	return &resp, nil
}

// GoldPrice returns the commodity price quote (GET /gold/price).
func (c *Client) GoldPrice(ctx context.Context, h Headers) (float64, error) {
	r := request{method: http.MethodGet, endpoint: "/gold/price", headers: &h}
	raw, err := c.send(ctx, r)
	if err != nil {
		return 0, err
	}
	p, err := parsePrice(raw)
	if err != nil {
		return 0, c.malformed(r, err.Error())
	}
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return 0, c.malformed(r, "price out of range")
	}
	return p, nil
}

// Mint credits amount (raw base units) to address (POST /admin/mint).
func (c *Client) Mint(ctx context.Context, h Headers, address, amount string) (*AdminResponse, error) {
	return c.admin(ctx, request{method: http.MethodPost, endpoint: "/admin/mint", headers: &h, admin: true,
		body: mintRequest{Address: address, Amount: amount}})
}

// Whitelist allows address to use the relay (POST /admin/whitelist).
func (c *Client) Whitelist(ctx context.Context, h Headers, address string) (*AdminResponse, error) {
	return c.admin(ctx, request{method: http.MethodPost, endpoint: "/admin/whitelist", headers: &h, admin: true,
		body: whitelistRequest{Address: address}})
}

func (c *Client) admin(ctx context.Context, r request) (*AdminResponse, error) {
	var resp AdminResponse
	if err := c.sendJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
