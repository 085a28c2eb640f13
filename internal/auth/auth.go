// Package auth implements the username/password credential store that
// gates SOCKS4 USERID and SOCKS5 password sub-negotiation.
package auth

import (
	"fmt"
	"strings"
)

// User is one configured username/password pair.
type User struct {
	Username string
	Password string
}

// ParseUser parses a "user:pass" credential line.
func ParseUser(s string) (User, error) {
	uname, passwd, ok := strings.Cut(s, ":")
	if !ok {
		return User{}, fmt.Errorf("auth: invalid username/password: %q", s)
	}
	return User{Username: uname, Password: passwd}, nil
}

// Authenticator verifies SOCKS credentials against a fixed set of users.
// A nil *Authenticator means no credential store is configured (the
// SOCKS ingress then requires the NONE method and empty SOCKS4 USERID
// verification never runs).
type Authenticator struct {
	storage map[string]string
}

// New builds an Authenticator from users.
func New(users []User) *Authenticator {
	storage := make(map[string]string, len(users))
	for _, u := range users {
		storage[u.Username] = u.Password
	}
	return &Authenticator{storage: storage}
}

// Verify reports whether (user, pass) matches a configured credential.
// SOCKS4's USERID check calls this with an empty pass.
func (a *Authenticator) Verify(user, pass string) bool {
	if a == nil {
		return false
	}
	real, ok := a.storage[user]
	return ok && real == pass
}
