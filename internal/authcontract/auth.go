// Package authcontract defines the boundary types the HTTP layer depends
// on for authorization decisions. Token verification itself is injected:
// the route layer receives an Authenticator and never parses JWTs here.
package authcontract

import (
	"context"
	"net/http"
	"strings"
)

// Permission is one grant in a caller's claim set.
type Permission string

const (
	PermRead  Permission = "read"
	PermAdmin Permission = "admin"
)

// PermWrite grants writes scoped to one space; PermWriteAll grants writes
// everywhere.
func PermWrite(space string) Permission { return Permission("write:" + space) }

// PermDelete grants deletes scoped to one space.
func PermDelete(space string) Permission { return Permission("delete:" + space) }

// PermWriteAll is the unscoped write grant.
const PermWriteAll Permission = "write:all"

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject     string
	Permissions []Permission
}

// CanWrite reports whether the claims permit writes in space. Admin
// subsumes every grant.
func (c Claims) CanWrite(space string) bool {
	for _, p := range c.Permissions {
		if p == PermAdmin || p == PermWriteAll || p == PermWrite(space) {
			return true
		}
	}
	return false
}

// CanRead reports whether the claims permit reads.
func (c Claims) CanRead() bool {
	for _, p := range c.Permissions {
		if p == PermRead || p == PermAdmin {
			return true
		}
		if strings.HasPrefix(string(p), "write:") {
			return true
		}
	}
	return false
}

// CanDelete reports whether the claims permit deletes in space.
func (c Claims) CanDelete(space string) bool {
	for _, p := range c.Permissions {
		if p == PermAdmin || p == PermDelete(space) {
			return true
		}
	}
	return false
}

// Authenticator verifies a request's bearer token and returns its claims.
// Implementations live outside this module; AllowAll below is the no-auth
// development default.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Claims, error)
}

// AllowAll grants admin to every request. Used when no authenticator is
// configured.
type AllowAll struct{}

func (AllowAll) Authenticate(context.Context, *http.Request) (Claims, error) {
	return Claims{Subject: "anonymous", Permissions: []Permission{PermAdmin}}, nil
}
