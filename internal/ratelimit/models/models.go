package models

import (
	"net/http"
	"time"
)

// Class groups endpoints that share a request budget.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// ClassFor maps an HTTP method to its budget class. Safe methods share the
// read budget; anything that can mutate state, touch the ledger or render a
// certificate counts against the write budget.
func ClassFor(method string) Class {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Limit is a sliding-window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Key builds the bucket key for a caller within a class.
func Key(class Class, identifier string) string {
	return "rl:" + string(class) + ":" + identifier
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set when denied
}

// ExceededResponse is the API response when a budget is exhausted.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
