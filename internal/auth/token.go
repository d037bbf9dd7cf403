package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultIssuer = "wpcd"

// TokenAuthenticator verifies HS256 tokens minted by IssueToken.
type TokenAuthenticator struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

func NewTokenAuthenticator(secret []byte) *TokenAuthenticator {
	return &TokenAuthenticator{Secret: secret, Issuer: DefaultIssuer, Now: time.Now}
}

func (a *TokenAuthenticator) AuthenticateBearer(token string) (Principal, error) {
	if token == "" || len(a.Secret) == 0 {
		return Principal{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.Issuer),
		jwt.WithExpirationRequired(),
	}
	if a.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(a.Now))
	}
	claims := &tokenClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	})
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}

	return Principal{
		Subject:      claims.Subject,
		Issuer:       claims.Issuer,
		Capabilities: claims.Capabilities,
	}, nil
}

// IssueToken signs a token for subject carrying capabilities, valid for ttl
// from now.
func IssueToken(secret []byte, issuer, subject string, capabilities []string, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Capabilities: capabilities,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

type tokenClaims struct {
	jwt.RegisteredClaims

	Capabilities []string `json:"caps,omitempty"`
}
