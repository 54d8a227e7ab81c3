package mw

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/models/domainErrors"

	"github.com/golang-jwt/jwt/v5"
)

type callerKey struct{}

// CallerClaims is the token payload: sub carries the numeric user id.
type CallerClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// CallerFromContext returns the authenticated caller, or the zero Caller.
func CallerFromContext(ctx context.Context) models.Caller {
	c, _ := ctx.Value(callerKey{}).(models.Caller)
	return c
}

func WithCaller(ctx context.Context, c models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret []byte, userID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CallerClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseCaller validates an HS256 token and extracts the caller.
func ParseCaller(secret []byte, raw string) (models.Caller, error) {
	var claims CallerClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Caller{}, fmt.Errorf("%w: %v", domainErrors.ErrUnauthenticated, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return models.Caller{}, fmt.Errorf("%w: subject %q", domainErrors.ErrUnauthenticated, claims.Subject)
	}
	return models.Caller{UserID: id, Email: claims.Email}, nil
}

// Authenticate requires "Authorization: Bearer <jwt>" and puts the caller
// into the request context.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				WriteError(w, fmt.Errorf("%w: bearer token required", domainErrors.ErrUnauthenticated))
				return
			}

			caller, err := ParseCaller(secret, parts[1])
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
