package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"pype/internal/core/domain"
	"pype/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDomainMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   errors.ErrorCode
		status int
	}{
		{domain.ErrDuplicateID, errors.ErrCodeDuplicateID, http.StatusConflict},
		{domain.ErrUnknownPeer, errors.ErrCodeUnknownPeer, http.StatusNotFound},
		{domain.ErrPeerUnavailable, errors.ErrCodePeerUnavailable, http.StatusConflict},
		{domain.ErrAlreadyPending, errors.ErrCodeAlreadyPending, http.StatusConflict},
		{domain.ErrStaleCall, errors.ErrCodeStaleCall, http.StatusGone},
		{domain.ErrNotInSession, errors.ErrCodeNotInSession, http.StatusNotFound},
		{stderrors.New("boom"), errors.ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		appErr := errors.FromDomain(tc.err)
		assert.Equal(t, tc.code, appErr.Code, "error %v", tc.err)
		assert.Equal(t, tc.status, appErr.HTTPStatus, "error %v", tc.err)
	}
}

func TestFromDomainWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("accepting call: %w", domain.ErrStaleCall)

	appErr := errors.FromDomain(wrapped)
	assert.Equal(t, errors.ErrCodeStaleCall, appErr.Code)
	assert.ErrorIs(t, appErr, domain.ErrStaleCall)
}

func TestGetAppError(t *testing.T) {
	assert.Nil(t, errors.GetAppError(nil))
	assert.Nil(t, errors.GetAppError(stderrors.New("plain")))

	appErr := errors.NewInvalidInputError("bad field")
	wrapped := fmt.Errorf("handler: %w", appErr)

	got := errors.GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, errors.ErrCodeInvalidInput, got.Code)
	assert.Equal(t, http.StatusBadRequest, got.HTTPStatus)
}

func TestAppErrorUnwrap(t *testing.T) {
	appErr := errors.FromDomain(domain.ErrUnknownPeer)
	assert.ErrorIs(t, appErr, domain.ErrUnknownPeer)
	assert.Contains(t, appErr.Error(), "UNKNOWN_PEER")
}
