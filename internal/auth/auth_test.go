package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func request(header string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	a := &MultiAuthenticator{DevToken: "test-token"}
	_, err := a.Authenticate(request(""))
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestAuthenticateDevToken(t *testing.T) {
	a := &MultiAuthenticator{DevToken: "test-token"}
	p, err := a.Authenticate(request("Bearer test-token"))
	require.NoError(t, err)
	assert.Equal(t, "dev", p.Subject)
	assert.True(t, p.Can(CapEditPosts))
	assert.True(t, p.Can(CapManageOptions))
}

func TestAuthenticateRejectsBadBearer(t *testing.T) {
	a := &MultiAuthenticator{DevToken: "test-token"}
	for _, header := range []string{"Bearer wrong", "Token abc", "Bearer "} {
		_, err := a.Authenticate(request(header))
		assert.ErrorIs(t, err, ErrInvalidToken, header)
	}

	_, err := (&MultiAuthenticator{}).Authenticate(request("Bearer anything"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, err := IssueToken(secret, "", "site-17", []string{CapEditPosts}, now, time.Hour)
	require.NoError(t, err)

	a := &MultiAuthenticator{DevToken: "test-token", Tokens: NewTokenAuthenticator(secret)}
	p, err := a.Authenticate(request("Bearer " + token))
	require.NoError(t, err)
	assert.Equal(t, "site-17", p.Subject)
	assert.Equal(t, DefaultIssuer, p.Issuer)
	assert.True(t, p.Can(CapEditPosts))
	assert.False(t, p.Can(CapManageOptions))
}

func TestTokenRejections(t *testing.T) {
	now := time.Now()
	verifier := NewTokenAuthenticator(secret)

	expired, err := IssueToken(secret, "", "site", nil, now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	_, err = verifier.AuthenticateBearer(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := IssueToken([]byte("another-secret-another-secret-xx"), "", "site", nil, now, time.Hour)
	require.NoError(t, err)
	_, err = verifier.AuthenticateBearer(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer, err := IssueToken(secret, "elsewhere", "site", nil, now, time.Hour)
	require.NoError(t, err)
	_, err = verifier.AuthenticateBearer(otherIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": DefaultIssuer, "sub": "site"}).SignedString(secret)
	require.NoError(t, err)
	_, err = verifier.AuthenticateBearer(noExpiry)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenAuthenticator(nil).AuthenticateBearer("abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenUsesInjectedClock(t *testing.T) {
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := IssueToken(secret, "", "site", nil, issued, time.Hour)
	require.NoError(t, err)

	verifier := NewTokenAuthenticator(secret)
	verifier.Now = func() time.Time { return issued.Add(30 * time.Minute) }
	_, err = verifier.AuthenticateBearer(token)
	require.NoError(t, err)

	verifier.Now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = verifier.AuthenticateBearer(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueTokenValidatesInput(t *testing.T) {
	now := time.Now()
	_, err := IssueToken(nil, "", "site", nil, now, time.Hour)
	assert.Error(t, err)
	_, err = IssueToken(secret, "", "", nil, now, time.Hour)
	assert.Error(t, err)
	_, err = IssueToken(secret, "", "site", nil, now, 0)
	assert.Error(t, err)
}

func TestApplicationPasswords(t *testing.T) {
	hash, err := HashPassword("abcd efgh ijkl mnop")
	require.NoError(t, err)

	a := &MultiAuthenticator{Passwords: NewPasswordAuthenticator([]AppUser{
		{Name: "deployer", PasswordHash: hash, Capabilities: []string{CapEditPosts}},
	})}

	req := request("")
	req.SetBasicAuth("deployer", "abcd efgh ijkl mnop")
	p, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "deployer", p.Subject)
	assert.True(t, p.Can(CapEditPosts))

	req = request("")
	req.SetBasicAuth("deployer", "abcdefghijklmnop")
	_, err = a.Authenticate(req)
	require.NoError(t, err)

	req = request("")
	req.SetBasicAuth("deployer", "wrong")
	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	req = request("")
	req.SetBasicAuth("nobody", "abcdefghijklmnop")
	_, err = a.Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	req = request("")
	req.SetBasicAuth("deployer", "abcdefghijklmnop")
	_, err = (&MultiAuthenticator{DevToken: "x"}).Authenticate(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
