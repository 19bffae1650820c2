package providers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
)

func TestNormalizeHTTPErrorCategories(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, core.IsAuthError},
		{"forbidden", http.StatusForbidden, core.IsAuthError},
		{"not found", http.StatusNotFound, core.IsNotFound},
		{"too many requests", http.StatusTooManyRequests, core.IsRateLimited},
		{"server error", http.StatusInternalServerError, core.IsRetryable},
		{"bad gateway", http.StatusBadGateway, core.IsRetryable},
		{"request timeout", http.StatusRequestTimeout, core.IsRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NormalizeHTTPError("gdrive", tc.status, nil, []byte("details"))
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if !tc.check(err) {
				t.Fatalf("status %d mapped to unexpected category: %v", tc.status, err)
			}
		})
	}
}

func TestNormalizeHTTPErrorBadRequestIsNotRetryable(t *testing.T) {
	err := NormalizeHTTPError("dropbox", http.StatusBadRequest, nil, []byte("bad input"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if core.IsRetryable(err) {
		t.Fatalf("expected 400 to be non-retryable: %v", err)
	}
}

func TestNormalizeHTTPErrorCarriesRetryAfter(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "7")

	err := NormalizeHTTPError("dropbox", http.StatusTooManyRequests, headers, nil)
	hint, ok := core.RetryAfterHint(err)
	if !ok {
		t.Fatalf("expected retry-after hint on 429")
	}
	if hint != 7*time.Second {
		t.Fatalf("expected 7s hint, got %s", hint)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", time.Now().UTC().Add(30*time.Second).Format(http.TimeFormat))

	delay := parseRetryAfter(headers)
	if delay <= 0 || delay > 31*time.Second {
		t.Fatalf("expected delay near 30s, got %s", delay)
	}
}

func TestParseRetryAfterMissingHeader(t *testing.T) {
	if delay := parseRetryAfter(http.Header{}); delay != 0 {
		t.Fatalf("expected zero delay, got %s", delay)
	}
}
