// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zmcp/odata-client/internal/constants"
)

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff    time.Duration // Delay before the first retry
	MaxBackoff        time.Duration // Cap on any single delay, Retry-After included
	BackoffMultiplier float64
	JitterFraction    float64 // Random jitter fraction (0.0-1.0)
	RetryableStatuses []int

	// RetryNonIdempotent also retries POST, PATCH and MERGE. A failed
	// create may already have been applied by the server.
	RetryNonIdempotent bool
}

// DefaultRetryConfig returns the defaults used when no config is given.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// CalculateBackoff returns the delay for a given attempt (0-indexed).
// Attempt 0 returns InitialBackoff; later attempts grow exponentially.
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	if c.JitterFraction > 0 {
		jitterRange := backoff * c.JitterFraction
		backoff += (rand.Float64()*2 - 1) * jitterRange
		if backoff < 0 {
			backoff = 0
		}
	}

	return time.Duration(backoff)
}

// ShouldRetry reports whether a response with statusCode on the given
// attempt warrants another try.
func (c *RetryConfig) ShouldRetry(statusCode int, attempt int) bool {
	if attempt >= c.MaxRetries {
		return false
	}
	return c.IsRetryableStatus(statusCode)
}

// IsRetryableStatus checks if a status code is in the retryable list.
func (c *RetryConfig) IsRetryableStatus(statusCode int) bool {
	return slices.Contains(c.RetryableStatuses, statusCode)
}

// CanRetry reports whether requests with this method may be sent again.
func (c *RetryConfig) CanRetry(method string) bool {
	switch method {
	case constants.GET, http.MethodHead, http.MethodOptions, constants.PUT, constants.DELETE:
		return true
	}
	return c.RetryNonIdempotent
}

// RetryAfter reads a Retry-After header given either as seconds or as an
// HTTP date.
func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get(constants.RetryAfter))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// IsCSRFFailure checks if the response indicates a CSRF token validation
// failure. SAP gateways answer 403 with "X-CSRF-Token: Required".
func IsCSRFFailure(status int, h http.Header, body []byte) bool {
	if status != http.StatusForbidden {
		return false
	}
	if strings.EqualFold(h.Get(constants.CSRFTokenHeader), "required") {
		return true
	}
	return strings.Contains(strings.ToLower(string(body)), "csrf")
}
