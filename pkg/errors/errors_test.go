package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesCodeThroughWrapping(t *testing.T) {
	base := New(CodeNotFound, "record not found")
	wrapped := fmt.Errorf("loading account: %w", base)

	assert.True(t, Is(wrapped, CodeNotFound))
	assert.False(t, Is(wrapped, CodeBadRequest))
	assert.False(t, Is(stderrors.New("plain"), CodeNotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, CodeUnavailable, "backend unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "backend unavailable: connection reset", err.Error())
	assert.Equal(t, CodeUnavailable, CodeOf(err))
}

func TestMessageOfHidesUnknownErrors(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(stderrors.New("pq: relation does not exist")))
	assert.Equal(t, "quota exceeded", MessageOf(New(CodeConflict, "quota exceeded")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:  http.StatusBadRequest,
		CodeNotFound:    http.StatusNotFound,
		CodeConflict:    http.StatusConflict,
		CodeTimeout:     http.StatusGatewayTimeout,
		CodeUnavailable: http.StatusServiceUnavailable,
		CodeInternal:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
