package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key"

func signedToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

func actorFor(t *testing.T, authHeader, signingKey string) string {
	t.Helper()
	var got string
	handler := Actor(signingKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetActor(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestActorResolvesSubject(t *testing.T) {
	actor := actorFor(t, "Bearer "+signedToken(t, "user-42"), testSigningKey)
	assert.Equal(t, "user-42", actor)
}

func TestActorDowngradesToAnonymous(t *testing.T) {
	assert.Equal(t, AnonymousActor, actorFor(t, "", testSigningKey), "no header")
	assert.Equal(t, AnonymousActor, actorFor(t, "Bearer not-a-jwt", testSigningKey), "garbage token")
	assert.Equal(t, AnonymousActor, actorFor(t, "Bearer "+signedToken(t, "user-42"), "other-key"), "wrong key")
	assert.Equal(t, AnonymousActor, actorFor(t, "Bearer "+signedToken(t, "user-42"), ""), "auth disabled")
}

func TestGetActorWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, AnonymousActor, GetActor(req.Context()))
}
