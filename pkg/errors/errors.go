package errors

import (
	"errors"
	"fmt"
	"net/http"

	"pype/internal/core/domain"
)

// ErrorCode represents application error codes surfaced at the API boundary
type ErrorCode string

const (
	ErrCodeDuplicateID     ErrorCode = "DUPLICATE_ID"
	ErrCodeUnknownPeer     ErrorCode = "UNKNOWN_PEER"
	ErrCodePeerUnavailable ErrorCode = "PEER_UNAVAILABLE"
	ErrCodeAlreadyPending  ErrorCode = "ALREADY_PENDING"
	ErrCodeStaleCall       ErrorCode = "STALE_CALL"
	ErrCodeNotInSession    ErrorCode = "NOT_IN_SESSION"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and HTTP status
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// FromDomain maps the core's recoverable error taxonomy to an AppError for
// the API boundary. Everything in the taxonomy is a client-visible local
// failure; anything else is internal.
func FromDomain(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrDuplicateID):
		return &AppError{Code: ErrCodeDuplicateID, Message: err.Error(), HTTPStatus: http.StatusConflict, Cause: err}
	case errors.Is(err, domain.ErrUnknownPeer):
		return &AppError{Code: ErrCodeUnknownPeer, Message: err.Error(), HTTPStatus: http.StatusNotFound, Cause: err}
	case errors.Is(err, domain.ErrPeerUnavailable):
		return &AppError{Code: ErrCodePeerUnavailable, Message: err.Error(), HTTPStatus: http.StatusConflict, Cause: err}
	case errors.Is(err, domain.ErrAlreadyPending):
		return &AppError{Code: ErrCodeAlreadyPending, Message: err.Error(), HTTPStatus: http.StatusConflict, Cause: err}
	case errors.Is(err, domain.ErrStaleCall):
		return &AppError{Code: ErrCodeStaleCall, Message: err.Error(), HTTPStatus: http.StatusGone, Cause: err}
	case errors.Is(err, domain.ErrNotInSession):
		return &AppError{Code: ErrCodeNotInSession, Message: err.Error(), HTTPStatus: http.StatusNotFound, Cause: err}
	default:
		return &AppError{Code: ErrCodeInternal, Message: err.Error(), HTTPStatus: http.StatusInternalServerError, Cause: err}
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
