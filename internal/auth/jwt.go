// Package auth resolves request identities from signed session tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roomchat/internal/models"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "__rcsession"

const issuer = "room-chat"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 session tokens.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// IssueToken signs a session token for userID valid for ttl.
func (r *JWTResolver) IssueToken(userID string, ttl time.Duration) (string, error) {
	if isReserved(userID) || userID == "" {
		return "", fmt.Errorf("cannot issue token for %q", userID)
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// Validate parses tokenString and returns the user it identifies.
func (r *JWTResolver) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" || isReserved(claims.UserID) {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// ResolveIdentity returns the user identified by the request's bearer token,
// token query parameter or session cookie.
func (r *JWTResolver) ResolveIdentity(req *http.Request) (string, bool) {
	tokenString := tokenFromRequest(req)
	if tokenString == "" {
		return "", false
	}
	userID, err := r.Validate(tokenString)
	if err != nil {
		return "", false
	}
	return userID, true
}

func tokenFromRequest(req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// EventSource and WebSocket clients cannot set headers.
	if token := req.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := req.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func isReserved(userID string) bool {
	return userID == models.GlobalOwner || userID == models.SystemOwner
}
