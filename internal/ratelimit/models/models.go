package models

import "time"

// Result is the outcome of a sliding-window admission check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is how long until enough permits age out to admit the
	// request. Only set when not allowed.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}
