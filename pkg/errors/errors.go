// Package errors defines the sentinel errors and typed error values shared by
// the indexer and the searcher, plus the mapping from errors to HTTP status
// codes used by the search API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDecode           = errors.New("malformed document text")
	ErrEncodingConflict = errors.New("value contains a reserved shard delimiter")
	ErrMissingToken     = errors.New("token not in shard vocabulary")
	ErrShardNotFound    = errors.New("shard not found")
	ErrCorruptShard     = errors.New("corrupt shard file")
	ErrEmptyQuery       = errors.New("nothing to search")
	ErrNotUpdated       = errors.New("index was not updated")
	ErrIndexLocked      = errors.New("index directory is locked by another writer")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// DecodeError reports a document whose text could not be decoded. The
// document is skipped; the build carries on.
type DecodeError struct {
	DocID  string
	Offset int
}

func (e *DecodeError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("%s at byte %d", ErrDecode, e.Offset)
	}
	return fmt.Sprintf("document %s: %s at byte %d", e.DocID, ErrDecode, e.Offset)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// EncodingConflictError reports a token or document id that would corrupt
// the shard line format.
type EncodingConflictError struct {
	Field string // "token" or "doc_id"
	Value string
}

func (e *EncodingConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, ErrEncodingConflict)
}

func (e *EncodingConflictError) Unwrap() error { return ErrEncodingConflict }

// ShardNotFoundError reports a shard path that does not exist.
type ShardNotFoundError struct {
	Path string
}

func (e *ShardNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrShardNotFound, e.Path)
}

func (e *ShardNotFoundError) Unwrap() error { return ErrShardNotFound }

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrShardNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrIndexLocked):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
