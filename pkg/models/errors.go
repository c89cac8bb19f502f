package models

import (
	"context"
	"errors"
)

// Error taxonomy. Components wrap these with fmt.Errorf("...: %w", ...) so
// callers can branch with errors.Is regardless of the detail message.
var (
	ErrNotFound         = errors.New("not found")
	ErrNetwork          = errors.New("network error")
	ErrClient           = errors.New("client error")
	ErrStorage          = errors.New("storage error")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrAnalysisProvider = errors.New("analysis provider error")
	ErrInvalidInput     = errors.New("invalid input")
)

// Error kind names, as reported by the API and CLI.
const (
	KindNotFound         = "not_found"
	KindNetworkError     = "network_error"
	KindClientError      = "client_error"
	KindStorageError     = "storage_error"
	KindExtractionFailed = "extraction_failed"
	KindAnalysisError    = "analysis_provider_error"
	KindInvalidInput     = "invalid_input"
	KindInternal         = "internal"
)

// ErrorKind maps an error to its taxonomy name. A deadline that expired
// outside any classified component counts as a network failure. Unclassified
// errors are "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrClient):
		return KindClientError
	case errors.Is(err, ErrNetwork):
		return KindNetworkError
	case errors.Is(err, ErrStorage):
		return KindStorageError
	case errors.Is(err, ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, ErrAnalysisProvider):
		return KindAnalysisError
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetworkError
	}
	return KindInternal
}
