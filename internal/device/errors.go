package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind classifies normalized device API failures.
type ErrorKind string

const (
	KindHTTP    ErrorKind = "http"
	KindTimeout ErrorKind = "timeout"
	KindDNS     ErrorKind = "dns"
	KindNetwork ErrorKind = "network"
	KindUnknown ErrorKind = "unknown"
)

// APIError is the single error shape every device API failure is normalized
// into before it reaches a caller.
type APIError struct {
	Kind       ErrorKind
	StatusCode int // set only for KindHTTP
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("device api: %s (status %d)", e.Message, e.StatusCode)
	}
	return "device api: " + e.Message
}

// Retryable reports whether the failure is worth retrying: client errors are
// final, except 429 which signals server-side rate limiting.
func (e *APIError) Retryable() bool {
	if e.Kind == KindHTTP && e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}

func isRetryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return true
}

// apiMessage is the error envelope the device API uses for non-2xx bodies.
type apiMessage struct {
	Message string `json:"message"`
}

// normalizeHTTPError builds an APIError from a non-2xx response, extracting
// the server message when the body is the usual JSON envelope and appending
// guidance for the statuses streamers actually hit.
func normalizeHTTPError(status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var env apiMessage
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		msg = env.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg += "; check that the API token is valid and has control permission for this device"
	case http.StatusTooManyRequests:
		msg += "; the device API is rate limiting this token, commands will be retried more slowly"
	}
	return &APIError{Kind: KindHTTP, StatusCode: status, Message: msg}
}

// normalizeTransportError classifies request transport failures into
// user-actionable messages: DNS, timeout, or generic network trouble.
func normalizeTransportError(err error) *APIError {
	if err == nil {
		return &APIError{Kind: KindUnknown, Message: "unknown failure"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &APIError{Kind: KindDNS, Message: "cannot resolve the device API host; check the configured base URL and your network connection"}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &APIError{Kind: KindTimeout, Message: "request to the device API timed out; the service may be down or your connection unstable"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Message: "request to the device API timed out; the service may be down or your connection unstable"}
	}

	return &APIError{Kind: KindNetwork, Message: "could not reach the device API: " + err.Error()}
}
