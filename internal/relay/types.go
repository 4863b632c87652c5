package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-gasless/internal/authorization"
	"github.com/0gfoundation/0g-gasless/internal/batch"
	"github.com/0gfoundation/0g-gasless/internal/codec"
)

// Header names of the session and admin credentials.
const (
	HeaderMessage   = "x-message"
	HeaderSignature = "x-signature"
	HeaderAddress   = "x-address"
	HeaderAPIKey    = "x-api-key"
	HeaderRequestID = "x-request-id"
)

// Headers are the session credentials attached to authenticated requests.
type Headers struct {
	Message   string
	Signature string
	Address   string
}

func (h Headers) apply(hdr http.Header) {
	hdr.Set(HeaderMessage, h.Message)
	hdr.Set(HeaderSignature, h.Signature)
	hdr.Set(HeaderAddress, h.Address)
}

// Uint is a non-negative integer that the relay may send as a JSON number or
// as a decimal or 0x string.
type Uint struct {
	uint256.Int
}

func (u *Uint) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return fmt.Errorf("%w: null integer", codec.ErrEncoding)
	}
	if s[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := codec.ParseUint256(s)
	if err != nil {
		return err
	}
	u.Set(v)
	return nil
}

func (u Uint) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Dec())
}

// ID accepts a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	SignMessage string `json:"signMessage"`
}

type registerRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type registerResponse struct {
	Address string `json:"address"`
}

// NonceResponse carries the account nonce (for authorizations) and the
// delegate contract nonce (for batch digests).
type NonceResponse struct {
	Nonce           *Uint `json:"nonce"`
	DelegationNonce *Uint `json:"delegationNonce"`
}

type StatusResponse struct {
	Delegated       bool   `json:"delegated"`
	DelegateAddress string `json:"delegateAddress,omitempty"`
}

type abiResponse struct {
	ABI json.RawMessage `json:"abi"`
}

// ExecuteRequest is the /execute body.
type ExecuteRequest struct {
	Calls     []batch.Call `json:"calls"`
	Signature string       `json:"signature"`
	WaitForTx bool         `json:"waitForTx"`
}

// SponsorRequest is the /sponsor body: an execute request plus the signed
// delegation.
type SponsorRequest struct {
	ExecuteRequest
	Authorization *authorization.Data `json:"authorization"`
}

type Transaction struct {
	Hash string `json:"hash"`
	ID   ID     `json:"id"`
}

// ExecuteResponse is returned by /execute and /sponsor.
type ExecuteResponse struct {
	Success     bool         `json:"success"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Accepted is true when the relay reports success or returned a transaction.
func (r *ExecuteResponse) Accepted() bool {
	return r.Success || r.Transaction != nil
}

// Reason is the relay's failure text.
func (r *ExecuteResponse) Reason() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Error != "" {
		return r.Error
	}
	return "relay rejected the request"
}

type ContractsResponse struct {
	DelegateAddress string `json:"delegateAddress"`
	TokenAddress    string `json:"tokenAddress"`
}

type mintRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type whitelistRequest struct {
	Address string `json:"address"`
}

// AdminResponse is returned by the admin endpoints.
type AdminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// parsePrice accepts a bare number, a numeric string, or {"price": ...}.
func parsePrice(body []byte) (float64, error) {
	var obj struct {
		Price json.RawMessage `json:"price"`
	}
	raw := body
	if json.Unmarshal(body, &obj) == nil && len(obj.Price) > 0 {
		raw = obj.Price
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("price is neither number nor string")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %v", s, err)
	}
	return n, nil
}
