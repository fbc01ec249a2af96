package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"manulmonday/economy/internal/model"
)

type subjectKey struct{}

// Authenticator verifies HS256 bearer tokens issued by the auth provider.
// The token subject is the user id.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", model.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="economy"`)
			writeError(w, r, fmt.Errorf("%w: missing bearer token", model.ErrUnauthorized))
			return
		}

		subject, err := a.Verify(tokenString)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="economy", error="invalid_token"`)
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

// Subject returns the authenticated user id, or "" for anonymous requests.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// RequireOwner allows a request only when the {userID} path parameter is the
// authenticated user.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := Subject(r.Context())
		if subject == "" {
			writeError(w, r, errors.New("owner check without authentication"))
			return
		}
		if userID := chi.URLParam(r, "userID"); userID != subject {
			writeError(w, r, fmt.Errorf("%w: user %s", model.ErrForbidden, userID))
			return
		}
		next.ServeHTTP(w, r)
	})
}
