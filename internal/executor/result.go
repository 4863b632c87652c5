package executor

import (
	"encoding/json"

	"github.com/0gfoundation/0g-gasless/internal/relay"
)

// Result is the outcome of an executor operation. Exactly one variant is
// populated: Success with optional transaction details and Data, or a
// failure carrying Err.
type Result struct {
	Success       bool
	TxHash        string
	TransactionID string
	Data          json.RawMessage
	Err           error
}

func success(data any) Result {
	r := Result{Success: true}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return failure(err)
		}
		r.Data = b
	}
	return r
}

func failure(err error) Result {
	return Result{Err: err}
}

// Message is the failure text, empty on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return relay.Message(r.Err)
}

type resultJSON struct {
	Success       bool            `json:"success"`
	TxHash        string          `json:"txHash,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Success:       r.Success,
		TxHash:        r.TxHash,
		TransactionID: r.TransactionID,
		Data:          r.Data,
		Error:         r.Message(),
	})
}
