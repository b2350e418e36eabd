package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *Error
		code   Code
		status int
	}{
		{BadRequest("x"), CodeBadRequest, http.StatusBadRequest},
		{Unauthorized("x"), CodeUnauthorized, http.StatusUnauthorized},
		{Forbidden("x"), CodeForbidden, http.StatusForbidden},
		{NotFound("x"), CodeNotFound, http.StatusNotFound},
		{QuotaExceeded("x"), CodeQuotaExceeded, http.StatusTooManyRequests},
		{Upstream(529, "x"), CodeUpstream, 529},
		{Upstream(200, "x"), CodeUpstream, http.StatusBadGateway},
		{Transport("x"), CodeTransport, http.StatusBadGateway},
		{Internal("x"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
		assert.Equal(t, tt.status, tt.err.HTTPStatus)
	}
}

func TestAsThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("handler: %w", Internal("write failed").WithCause(cause).WithDetail("table", "usage"))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "usage", appErr.Details["table"])
	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.Contains(t, appErr.Error(), "disk full")

	_, ok = As(cause)
	assert.False(t, ok)
}
