package afs

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced by the file store API.
//
// Codes are stable and map one-to-one onto transport status codes, so the
// HTTP adapter and the coordinator both rely on them rather than on messages.
type ErrorCode int

const (
	// ErrInvalidPath indicates a malformed path, owner id or request argument
	ErrInvalidPath ErrorCode = iota

	// ErrPermissionDenied indicates the session lacks the required rights
	ErrPermissionDenied

	// ErrNotFound indicates a missing file, directory, owner or transaction
	ErrNotFound

	// ErrSessionExpired indicates the session token is no longer valid
	ErrSessionExpired

	// ErrTransactionConflict indicates a lock conflict or an intra-transaction ordering violation
	ErrTransactionConflict

	// ErrAlreadyExists indicates a create target or transaction id already exists
	ErrAlreadyExists

	// ErrInvalidState indicates an operation issued in the wrong transaction state
	ErrInvalidState

	// ErrStorageFailure indicates an underlying filesystem error
	ErrStorageFailure

	// ErrIndexingFailure indicates the feeder failed to index a dataset
	ErrIndexingFailure
)

var errorCodeNames = map[ErrorCode]string{
	ErrInvalidPath:         "InvalidPath",
	ErrPermissionDenied:    "PermissionDenied",
	ErrNotFound:            "NotFound",
	ErrSessionExpired:      "SessionExpired",
	ErrTransactionConflict: "TransactionConflict",
	ErrAlreadyExists:       "AlreadyExists",
	ErrInvalidState:        "InvalidState",
	ErrStorageFailure:      "StorageFailure",
	ErrIndexingFailure:     "IndexingFailure",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// StoreError is the error type returned by every layer of the file store.
//
// Err optionally carries the underlying cause (usually a filesystem error)
// and is exposed through Unwrap so callers can use errors.Is / errors.As.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
	Err     error
}

func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewError creates a StoreError without an underlying cause.
func NewError(code ErrorCode, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// Wrap creates a StoreError carrying err as its cause.
func Wrap(code ErrorCode, err error, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path, Err: err}
}

// CodeOf extracts the error code from err or any error it wraps.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsCode reports whether err is a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// Convenience constructors for the most common failures.

func NewNotFoundError(path, what string) *StoreError {
	return NewError(ErrNotFound, what+" not found", path)
}

func NewInvalidPathError(path, reason string) *StoreError {
	return NewError(ErrInvalidPath, reason, path)
}

func NewConflictError(path, reason string) *StoreError {
	return NewError(ErrTransactionConflict, reason, path)
}

func NewInvalidStateError(reason string) *StoreError {
	return NewError(ErrInvalidState, reason, "")
}

func NewStorageError(err error, path string) *StoreError {
	return Wrap(ErrStorageFailure, err, "storage failure", path)
}
