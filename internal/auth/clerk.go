package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ClerkVerifier validates RS256 session tokens against Clerk's JWKS.
type ClerkVerifier struct {
	keyfunc jwt.Keyfunc
	issuer  string
}

var _ Verifier = (*ClerkVerifier)(nil)

// NewClerkVerifier fetches the key set at jwksURL and keeps it refreshed in
// the background until ctx is cancelled. issuer is optional.
func NewClerkVerifier(ctx context.Context, jwksURL, issuer string) (*ClerkVerifier, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: loading JWKS from %s: %w", jwksURL, err)
	}
	return &ClerkVerifier{keyfunc: k.Keyfunc, issuer: issuer}, nil
}

func (v *ClerkVerifier) Verify(_ context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyfunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("auth: token has no subject")
	}

	return &Identity{Subject: sub, Email: emailFromClaims(claims)}, nil
}

// ClerkDirectory reads user records from the Clerk backend API. It is used
// when a session token carries no email claim.
type ClerkDirectory struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClerkDirectory(baseURL, secretKey string, timeout time.Duration) *ClerkDirectory {
	return &ClerkDirectory{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

// LookupEmail returns the primary email of the user with the given subject
// id, falling back to the first listed address.
func (d *ClerkDirectory) LookupEmail(ctx context.Context, subject string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/v1/users/"+url.PathEscape(subject), nil)
	if err != nil {
		return "", fmt.Errorf("auth: building clerk request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: calling clerk users API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("auth: clerk users API returned status %d", resp.StatusCode)
	}

	var user struct {
		PrimaryEmailAddressID string `json:"primary_email_address_id"`
		EmailAddresses        []struct {
			ID           string `json:"id"`
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("auth: decoding clerk user: %w", err)
	}

	for _, e := range user.EmailAddresses {
		if e.ID == user.PrimaryEmailAddressID {
			return e.EmailAddress, nil
		}
	}
	if len(user.EmailAddresses) > 0 {
		return user.EmailAddresses[0].EmailAddress, nil
	}
	return "", nil
}
