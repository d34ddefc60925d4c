package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx response from the backend. Fields follow the shapes of the
// REST, auth and functions APIs; whichever the server filled in is kept.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, msg)
}

// Text joins message, details and hint for keyword classification.
func (e *Error) Text() string {
	return strings.ToLower(strings.Join([]string{e.Code, e.Message, e.Details, e.Hint}, " "))
}

type errorBody struct {
	Code             json.RawMessage `json:"code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	ErrorCode        string          `json:"error_code"`
}

func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var b errorBody
	if err := json.Unmarshal(body, &b); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	// auth returns numeric codes, REST returns strings
	if len(b.Code) > 0 {
		var s string
		if json.Unmarshal(b.Code, &s) == nil {
			e.Code = s
		} else {
			e.Code = string(b.Code)
		}
	}
	if b.ErrorCode != "" {
		e.Code = b.ErrorCode
	}
	e.Details, e.Hint = b.Details, b.Hint
	for _, m := range []string{b.Message, b.Msg, b.ErrorDescription, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Code == "" && b.Error != "" && b.Error != e.Message {
		e.Code = b.Error
	}
	return e
}

// TransportError is a failure to reach the backend at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a 2xx response whose body did not match the expected shape.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return e.Op + ": decoding response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
