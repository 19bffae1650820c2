package core

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	StorageErrorBadInput            = "STORAGE_BAD_INPUT"
	StorageErrorAuthExpired         = "STORAGE_AUTH_EXPIRED"
	StorageErrorRateLimited         = "STORAGE_RATE_LIMITED"
	StorageErrorNotFound            = "STORAGE_NOT_FOUND"
	StorageErrorProviderUnavailable = "STORAGE_PROVIDER_UNAVAILABLE"
	StorageErrorSyncConflict        = "STORAGE_SYNC_CONFLICT"
	StorageErrorUploadFailed        = "STORAGE_UPLOAD_FAILED"
	StorageErrorInternal            = "STORAGE_INTERNAL_ERROR"
)

// NewAuthExpiredError marks a credential as invalid and unrefreshable; the
// user must reconnect the provider.
func NewAuthExpiredError(message string) *goerrors.Error {
	return newStorageError(message, goerrors.CategoryAuth, StorageErrorAuthExpired)
}

func NewRateLimitedError(message string, retryAfter time.Duration) *goerrors.Error {
	err := newStorageError(message, goerrors.CategoryRateLimit, StorageErrorRateLimited)
	if retryAfter > 0 {
		err = err.WithMetadata(map[string]any{"retry_after_ms": retryAfter.Milliseconds()})
	}
	return err
}

func NewNotFoundError(message string) *goerrors.Error {
	return newStorageError(message, goerrors.CategoryNotFound, StorageErrorNotFound)
}

// NewTransientError wraps connection and timeout failures; retryable with
// exponential backoff.
func NewTransientError(message string, cause error) *goerrors.Error {
	if cause != nil {
		return ensureStorageErrorEnvelope(
			goerrors.Wrap(cause, goerrors.CategoryExternal, message).
				WithTextCode(StorageErrorProviderUnavailable),
		)
	}
	return newStorageError(message, goerrors.CategoryExternal, StorageErrorProviderUnavailable)
}

func NewValidationError(message string) *goerrors.Error {
	return newStorageError(message, goerrors.CategoryBadInput, StorageErrorBadInput)
}

func NewConflictError(message string) *goerrors.Error {
	return newStorageError(message, goerrors.CategoryConflict, StorageErrorSyncConflict)
}

// IsRetryable reports whether the shared retry utility may re-attempt the
// failed operation.
func IsRetryable(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryRateLimit, goerrors.CategoryExternal:
		return true
	}
	return false
}

func IsAuthError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth || richErr.Category == goerrors.CategoryAuthz
}

func IsNotFound(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryNotFound
}

func IsRateLimited(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryRateLimit
}

// RetryAfterHint extracts the provider-signaled delay, when one exists.
func RetryAfterHint(err error) (time.Duration, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return 0, false
	}
	if richErr.Metadata == nil {
		return 0, false
	}
	raw, ok := richErr.Metadata["retry_after_ms"]
	if !ok {
		return 0, false
	}
	switch value := raw.(type) {
	case int64:
		return time.Duration(value) * time.Millisecond, value > 0
	case int:
		return time.Duration(value) * time.Millisecond, value > 0
	case float64:
		return time.Duration(value) * time.Millisecond, value > 0
	}
	return 0, false
}

func storageErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureStorageErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "not found"):
		return newStorageError(err.Error(), goerrors.CategoryNotFound, StorageErrorNotFound)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newStorageError(err.Error(), goerrors.CategoryRateLimit, StorageErrorRateLimited)
	case strings.Contains(msg, "token"), strings.Contains(msg, "unauthorized"):
		return newStorageError(err.Error(), goerrors.CategoryAuth, StorageErrorAuthExpired)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newStorageError(err.Error(), goerrors.CategoryBadInput, StorageErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureStorageErrorEnvelope(mapped)
}

func newStorageError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureStorageErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureStorageErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = storageHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultStorageTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultStorageTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return StorageErrorBadInput
	case goerrors.CategoryNotFound:
		return StorageErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return StorageErrorAuthExpired
	case goerrors.CategoryConflict:
		return StorageErrorSyncConflict
	case goerrors.CategoryRateLimit:
		return StorageErrorRateLimited
	case goerrors.CategoryExternal:
		return StorageErrorProviderUnavailable
	default:
		return StorageErrorInternal
	}
}

func storageHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
