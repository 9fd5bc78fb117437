// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client for outbound service calls. Every call must be bounded.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
	}
}
