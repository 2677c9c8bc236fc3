// ABOUTME: Operator authentication for the management API.
// ABOUTME: bcrypt credential check issuing HS256 JWTs, plus the verifier.

package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
)

const tokenLifetime = 12 * time.Hour

// Authenticator checks operator credentials and mints session tokens for the
// management API. A single operator account is configured per deployment.
type Authenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
}

// NewAuthenticator builds an authenticator from the configured operator
// username, bcrypt password hash, and JWT signing secret.
func NewAuthenticator(username, passwordHash string, secret []byte) *Authenticator {
	return &Authenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
		secret:       secret,
	}
}

// Login verifies the credentials and returns a signed session token.
func (a *Authenticator) Login(username, password string) (string, error) {
	if username != a.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates a session token and returns the operator name from the
// "sub" claim.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// Middleware wraps API handlers with bearer token verification.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			writeJSONError(w, http.StatusUnauthorized, errMsg)
			return
		}
		if _, err := a.Verify(token); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken pulls the token out of an Authorization header.
// Returns the token and an error message, empty on success.
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
