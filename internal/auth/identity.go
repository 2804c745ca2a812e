// Package auth verifies identity tokens, guards routes, and drives the
// Mercado Livre OAuth flow.
//
// REQUEST FLOW:
//  1. The frontend signs in with Clerk and sends "Authorization: Bearer <jwt>".
//  2. RequireAuth verifies the token (JWKS in production, HS256 in local
//     development) and stores the Identity in the request context.
//  3. RequireUser maps the Identity to a stored user (created on first sight).
//  4. RequirePaid / RequireAdmin gate feature routes on plan and admin list.
package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what a verified token says about the caller.
type Identity struct {
	Subject string
	Email   string
}

// Verifier validates a raw identity token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// emailFromClaims finds the caller's email in the shapes Clerk session
// templates produce: "email" as a string or object, "email_addresses" as a
// list of objects, or "primary_email"/"primaryEmail".
func emailFromClaims(claims jwt.MapClaims) string {
	if v, ok := claims["email"]; ok {
		if e := emailFromValue(v); e != "" {
			return e
		}
	}

	if list, ok := claims["email_addresses"].([]any); ok && len(list) > 0 {
		if e := emailFromValue(list[0]); e != "" {
			return e
		}
	}

	for _, key := range []string{"primary_email", "primaryEmail"} {
		if s, ok := claims[key].(string); ok && strings.Contains(s, "@") {
			return strings.TrimSpace(s)
		}
	}

	return ""
}

func emailFromValue(v any) string {
	switch val := v.(type) {
	case string:
		if strings.Contains(val, "@") {
			return strings.TrimSpace(val)
		}
	case map[string]any:
		for _, key := range []string{"email_address", "email"} {
			if s, ok := val[key].(string); ok && strings.Contains(s, "@") {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
