package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a 2xx response that is missing required fields or has
// the wrong shape.
var ErrMalformed = errors.New("malformed relay response")

// Error describes a failed relay exchange: either a non-2xx status or, with
// Err set to ErrMalformed, an unusable success body.
type Error struct {
	StatusCode int
	Method     string
	Endpoint   string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay %s %s: status %d", e.Method, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("relay %s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Message extracts the relay's human-readable message from err, falling back
// to err.Error().
func Message(err error) string {
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// messageFrom pulls "message" or "error" out of a JSON body, else returns the
// trimmed body text.
func messageFrom(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
