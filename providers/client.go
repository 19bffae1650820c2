// Package providers holds the cloud back-end adapters and the HTTP plumbing
// they share. Adapters normalize every provider failure into the common error
// taxonomy before it crosses the package boundary.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps an HTTP doer with the decode and error-normalization behavior
// every adapter needs.
type Client struct {
	providerID string
	doer       HTTPDoer
}

func NewClient(providerID string, doer HTTPDoer) Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultRequestTimeout}
	}
	return Client{providerID: strings.TrimSpace(providerID), doer: doer}
}

func (c Client) Do(req *http.Request) (*http.Response, error) {
	if c.doer == nil {
		return nil, fmt.Errorf("providers: http client is not configured")
	}
	response, err := c.doer.Do(req)
	if err != nil {
		return nil, core.NewTransientError(
			fmt.Sprintf("providers: %s request failed", c.providerID), err,
		)
	}
	return response, nil
}

// DoJSON issues the request, normalizes non-2xx statuses, and decodes the
// body into out when out is non-nil.
func (c Client) DoJSON(req *http.Request, out any) error {
	response, err := c.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if readErr != nil {
		return core.NewTransientError(
			fmt.Sprintf("providers: %s response read failed", c.providerID), readErr,
		)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return NormalizeHTTPError(c.providerID, response.StatusCode, response.Header, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return core.NewTransientError(
			fmt.Sprintf("providers: %s response decode failed", c.providerID), err,
		)
	}
	return nil
}

func (c Client) NewJSONRequest(ctx context.Context, method string, endpoint string, accessToken string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("providers: encode %s request: %w", c.providerID, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("providers: build %s request: %w", c.providerID, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(accessToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// NormalizeHTTPError maps a provider HTTP failure into the shared taxonomy:
// 401/403 invalidate the credential, 404 is not found, 429 carries the
// retry-after hint, and 408/5xx are transient.
func NormalizeHTTPError(providerID string, status int, headers http.Header, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	message := fmt.Sprintf("providers: %s returned %d", providerID, status)
	if detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.NewAuthExpiredError(message)
	case status == http.StatusNotFound:
		return core.NewNotFoundError(message)
	case status == http.StatusTooManyRequests:
		return core.NewRateLimitedError(message, parseRetryAfter(headers))
	case status == http.StatusRequestTimeout || status >= 500:
		return core.NewTransientError(message, nil)
	default:
		return core.NewValidationError(message)
	}
}

// parseRetryAfter reads the Retry-After header as either delta seconds or an
// HTTP date.
func parseRetryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}
