// Package auth extracts the authenticated owner identity from requests.
// Identity issuance lives outside this service; all we do here is validate a
// bearer token and put the owner id on the request context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ownerContextKey is the context key for the authenticated owner id.
type ownerContextKey struct{}

var ErrInvalidToken = errors.New("invalid bearer token")

// Claims are the owner-token claims this service understands.
type Claims struct {
	OwnerID string `json:"ownerId"`
	jwt.RegisteredClaims
}

// Config holds token validation settings.
type Config struct {
	// Secret is the HMAC key shared with the identity service.
	Secret string
	// AllowDevHeader accepts a plain X-Owner-Id header when no bearer token
	// is present. Local development only.
	AllowDevHeader bool
}

func LoadConfig() Config {
	return Config{
		Secret:         getenv("AUTH_JWT_SECRET", ""),
		AllowDevHeader: getenv("AUTH_ALLOW_DEV_HEADER", "") == "true",
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// OwnerFromContext returns the authenticated owner id, if any.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(string)
	return owner, ok && owner != ""
}

// ContextWithOwner is exported for tests and internal wiring.
func ContextWithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, ownerID)
}

// ParseToken validates a signed owner token and returns its claims.
func ParseToken(token, secret string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid || claims.OwnerID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken signs an owner token. Used by operational tooling and tests;
// production tokens come from the identity service.
func GenerateToken(ownerID, secret string, ttl time.Duration) (string, error) {
	claims := Claims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Middleware requires an authenticated owner on every wrapped route.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := ownerFromRequest(r, cfg)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":      "AUTH_REQUIRED",
					"message":   "valid bearer token required",
					"retryable": false,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithOwner(r.Context(), ownerID)))
		})
	}
}

func ownerFromRequest(r *http.Request, cfg Config) (string, error) {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") && cfg.Secret != "" {
		claims, err := ParseToken(strings.TrimPrefix(header, "Bearer "), cfg.Secret)
		if err != nil {
			return "", err
		}
		return claims.OwnerID, nil
	}
	if cfg.AllowDevHeader {
		if owner := r.Header.Get("X-Owner-Id"); owner != "" {
			return owner, nil
		}
	}
	return "", ErrInvalidToken
}
