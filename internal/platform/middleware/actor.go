package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AnonymousActor is recorded when no identity is presented. Checks and fraud
// reports are open to unauthenticated users by design.
const AnonymousActor = "anonymous"

// Actor resolves the caller's reference from an optional bearer token. A
// missing, malformed, or unverifiable token downgrades to "anonymous" rather
// than rejecting the request: identity here is attribution, not access
// control.
func Actor(signingKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := AnonymousActor
			if sub := subjectFromHeader(r.Header.Get("Authorization"), signingKey); sub != "" {
				actor = sub
			}
			ctx := context.WithValue(r.Context(), contextKeyActorRef, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor returns the caller reference set by Actor, or "anonymous".
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyActorRef).(string); ok && v != "" {
		return v
	}
	return AnonymousActor
}

func subjectFromHeader(header, signingKey string) string {
	if signingKey == "" {
		return ""
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(signingKey), nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
