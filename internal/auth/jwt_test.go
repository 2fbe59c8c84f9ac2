package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/models"
)

func TestResolveIdentitySources(t *testing.T) {
	resolver := NewJWTResolver("secret")
	token, err := resolver.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	bearer := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)

	query := httptest.NewRequest(http.MethodGet, "/events?room=r1&token="+token, nil)

	cookie := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	cookie.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})

	for _, req := range []*http.Request{bearer, query, cookie} {
		user, ok := resolver.ResolveIdentity(req)
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
	}
}

func TestResolveIdentityRejects(t *testing.T) {
	resolver := NewJWTResolver("secret")
	other, err := NewJWTResolver("other").IssueToken("alice", time.Hour)
	require.NoError(t, err)
	expired, err := resolver.IssueToken("alice", -time.Minute)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + other,
		"expired":      "Bearer " + expired,
		"garbage":      "Bearer not-a-token",
		"wrong scheme": "Basic abc",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		_, ok := resolver.ResolveIdentity(req)
		assert.False(t, ok, name)
	}
}

func TestReservedIdentitiesNeverResolve(t *testing.T) {
	resolver := NewJWTResolver("secret")

	_, err := resolver.IssueToken(models.GlobalOwner, time.Hour)
	assert.Error(t, err)

	claims := &Claims{
		UserID: models.SystemOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = resolver.Validate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
