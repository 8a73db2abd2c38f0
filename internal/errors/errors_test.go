package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid input")
}

func TestAuthRejectedError(t *testing.T) {
	cause := fmt.Errorf("status 401")
	err := AuthRejectedError("token expired", cause)

	assert.Equal(t, TypeAuthRejected, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
	assert.Contains(t, err.Error(), "status 401")
}

func TestAutomationFailureError(t *testing.T) {
	err := AutomationFailureError("automation run failed", nil)

	assert.Equal(t, TypeAutomationFailure, err.Type)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestUploadFailureError(t *testing.T) {
	cause := fmt.Errorf("bucket unreachable")
	err := UploadFailureError("failed to persist session artifact", cause)

	assert.Equal(t, TypeUploadFailure, err.Type)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.Contains(t, err.Error(), "bucket unreachable")
}

func TestArtifactUnavailableError(t *testing.T) {
	err := ArtifactUnavailableError("signed link expired", nil)

	assert.Equal(t, TypeArtifactUnavailable, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
}

func TestWithContext(t *testing.T) {
	err := NetworkError("automation host unreachable", nil).
		WithContext("profile_id", "p1").
		WithContext("attempt", 2)

	assert.Equal(t, "p1", err.Context["profile_id"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NetworkError("automation host unreachable", cause)

	assert.True(t, errors.Is(err, cause))
}

func TestIsAuthRejected(t *testing.T) {
	assert.True(t, IsAuthRejected(AuthRejectedError("rejected", nil)))
	assert.True(t, IsAuthRejected(fmt.Errorf("wrapped: %w", AuthRejectedError("rejected", nil))))
	assert.False(t, IsAuthRejected(NetworkError("down", nil)))
	assert.False(t, IsAuthRejected(nil))
}

func TestAsStructuredError(t *testing.T) {
	structured := ValidationError("bad")
	assert.Same(t, structured, AsStructuredError(structured))

	wrapped := AsStructuredError(fmt.Errorf("plain failure"))
	require.NotNil(t, wrapped)
	assert.Equal(t, TypeInternal, wrapped.Type)

	assert.Nil(t, AsStructuredError(nil))
}

func TestToResponse(t *testing.T) {
	err := NotFoundError("profile not found").WithContext("profile_id", "p1")
	resp := err.ToResponse()

	assert.Equal(t, "profile not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "p1", resp.Context["profile_id"])
}
