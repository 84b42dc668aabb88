// Package auth provides password hashing (see password.go) and the HTTP
// Basic authentication / access-level scheme spec.md §4.7 describes: a
// totally ordered access level per user, checked against each operation's
// required level.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Level is a point in the totally ordered access scheme Get < Put < Delete.
type Level int

const (
	Get Level = iota
	Put
	Delete
)

func (l Level) String() string {
	switch l {
	case Get:
		return "Get"
	case Put:
		return "Put"
	case Delete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// ParseLevel parses the String() form, used when loading a user list.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "get":
		return Get, nil
	case "put":
		return Put, nil
	case "delete":
		return Delete, nil
	default:
		return 0, fmt.Errorf("auth: unknown access level %q", s)
	}
}

// User is one (name, password-hash, access-level) tuple. PasswordHash is an
// argon2id PHC string produced by HashPassword.
type User struct {
	Name         string
	PasswordHash string
	Level        Level
}

// Users holds the configured user list and checks Basic-auth credentials
// against it.
type Users struct {
	byName map[string]User
}

// NewUsers builds a Users lookup table from a user list.
func NewUsers(users []User) *Users {
	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Name] = u
	}
	return &Users{byName: byName}
}

// Check verifies the given HTTP request's Basic-auth credentials and returns
// the matched user's level if they authenticate successfully — regardless of
// whether that level satisfies the caller's requirement. Callers compare the
// returned level against the level they require.
//
// Returns ok=false if the Authorization header is missing, malformed, or the
// credentials do not match any configured user.
func (u *Users) Check(r *http.Request) (level Level, ok bool) {
	name, password, hasBasic := r.BasicAuth()
	if !hasBasic {
		return 0, false
	}
	user, found := u.byName[name]
	if !found {
		return 0, false
	}
	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !match {
		return 0, false
	}
	return user.Level, true
}

// WriteUnauthorized writes the 401 response with the WWW-Authenticate
// challenge spec.md §4.7 requires.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="mbackup", charset="UTF-8"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// BasicAuthHeader builds the value of an Authorization header for the given
// credentials, as the client sends it.
func BasicAuthHeader(name, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(name+":"+password))
}
