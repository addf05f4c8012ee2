package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode_MapsEveryKind(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:     http.StatusBadRequest,
		KindAuthentication: http.StatusUnauthorized,
		KindAuthorization:  http.StatusForbidden,
		KindNotFound:       http.StatusNotFound,
		KindConflict:       http.StatusConflict,
		KindTransaction:    http.StatusBadRequest,
		KindScoring:        http.StatusInternalServerError,
		KindDatabase:       http.StatusInternalServerError,
		KindRateLimit:      http.StatusTooManyRequests,
	}

	for kind, status := range cases {
		err := New(kind, "boom")
		assert.Equal(t, status, err.StatusCode(), "kind=%s", kind)
	}
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDatabase, "failed to load transaction", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "failed to load transaction")
}

func TestToBody_KnownError(t *testing.T) {
	err := New(KindNotFound, "transaction not found")

	status, body := ToBody(err, "req-123")

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body.Error.Code)
	assert.Equal(t, "transaction not found", body.Error.Message)
	assert.Equal(t, "req-123", body.Error.RequestID)
}

func TestToBody_UnknownErrorFallsBackToInternal(t *testing.T) {
	status, body := ToBody(errors.New("unexpected"), "req-456")

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", body.Error.Message)
	assert.Equal(t, "req-456", body.Error.RequestID)
}

func TestToBody_PreservesExistingRequestID(t *testing.T) {
	err := &Error{Kind: KindConflict, Message: "duplicate", RequestID: "original-id"}

	_, body := ToBody(err, "should-not-override")

	assert.Equal(t, "original-id", body.Error.RequestID)
}
