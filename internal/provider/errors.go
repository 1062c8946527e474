package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ProviderError classifies vendor call failures as transient/permanent.
type ProviderError struct {
	Vendor     string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if vendor := strings.TrimSpace(e.Vendor); vendor != "" {
		parts = append(parts, vendor+" error")
	} else {
		parts = append(parts, "provider error")
	}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the caller should treat err as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

// vendorErrorMessage prefers the vendor's "error"/"message" field over the raw body.
func vendorErrorMessage(statusCode int, body string) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		switch detail := payload.Error.(type) {
		case string:
			if strings.TrimSpace(detail) != "" {
				return detail
			}
		case map[string]any:
			if msg, ok := detail["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return msg
			}
		}
		if strings.TrimSpace(payload.Message) != "" {
			return payload.Message
		}
	}

	if body == "" {
		return fmt.Sprintf("returned status %d", statusCode)
	}
	return body
}
