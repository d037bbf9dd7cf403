package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AppUser is an account allowed to sign in with an application password.
type AppUser struct {
	Name         string   `yaml:"name"`
	PasswordHash string   `yaml:"password_hash"`
	Capabilities []string `yaml:"capabilities"`
}

// PasswordAuthenticator checks application passwords against bcrypt hashes.
type PasswordAuthenticator struct {
	users map[string]AppUser
}

func NewPasswordAuthenticator(users []AppUser) *PasswordAuthenticator {
	m := make(map[string]AppUser, len(users))
	for _, u := range users {
		m[u.Name] = u
	}
	return &PasswordAuthenticator{users: m}
}

// Authenticate ignores spaces in password, since application passwords are
// displayed in groups of four.
func (a *PasswordAuthenticator) Authenticate(username, password string) (Principal, error) {
	user, ok := a.users[username]
	if !ok || user.PasswordHash == "" {
		return Principal{}, ErrInvalidCredentials
	}
	password = strings.ReplaceAll(password, " ", "")
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Subject: user.Name, Issuer: "application-password", Capabilities: user.Capabilities}, nil
}

// HashPassword returns the bcrypt hash stored for an application password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.ReplaceAll(password, " ", "")), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
