package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultVendorTimeout = 10 * time.Second

// newVendorClient builds a resty client without retries; the caller's
// upstream owns retry policy.
func newVendorClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultVendorTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

func prepareVendorClient(client *resty.Client) (*resty.Client, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultVendorTimeout)
	}
	client.SetRetryCount(0)
	return client, nil
}

func normalizeBaseURL(name, raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%s base url is required", name)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return "", fmt.Errorf("invalid %s base url: %w", name, err)
	}
	return trimmed, nil
}

// execute runs the request and maps transport failures and non-2xx
// responses to *ProviderError.
func execute(vendor string, request *resty.Request, method, endpoint string) (*resty.Response, error) {
	response, err := request.Execute(method, endpoint)
	if err != nil {
		return nil, &ProviderError{
			Vendor:    vendor,
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Vendor:    vendor,
			Message:   "empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return response, nil
	}

	return nil, &ProviderError{
		Vendor:     vendor,
		StatusCode: statusCode,
		Message:    vendorErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
