package models

// RateLimitExceededResponse is the 429 body sent to throttled API clients.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
