package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClerkVerifier(t *testing.T, issuer string) (*ClerkVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := &ClerkVerifier{
		keyfunc: func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		issuer:  issuer,
	}
	return v, key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

// =========================================================================
// CLERK VERIFIER
// =========================================================================

func TestClerkVerifier_Valid(t *testing.T) {
	v, key := newTestClerkVerifier(t, "https://clerk.example.com")

	token := signRS256(t, key, jwt.MapClaims{
		"sub":   "user_2abc",
		"iss":   "https://clerk.example.com",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"email": "seller@example.com",
	})

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_2abc", id.Subject)
	assert.Equal(t, "seller@example.com", id.Email)
}

func TestClerkVerifier_Rejects(t *testing.T) {
	v, key := newTestClerkVerifier(t, "https://clerk.example.com")
	future := time.Now().Add(time.Minute).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"expired", jwt.MapClaims{"sub": "u", "iss": "https://clerk.example.com", "exp": time.Now().Add(-time.Minute).Unix()}},
		{"no expiry", jwt.MapClaims{"sub": "u", "iss": "https://clerk.example.com"}},
		{"wrong issuer", jwt.MapClaims{"sub": "u", "iss": "https://evil.example.com", "exp": future}},
		{"no subject", jwt.MapClaims{"iss": "https://clerk.example.com", "exp": future}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), signRS256(t, key, tt.claims))
			assert.Error(t, err)
		})
	}
}

func TestClerkVerifier_RejectsHS256(t *testing.T) {
	v, _ := newTestClerkVerifier(t, "")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("some-shared-secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)
}

// =========================================================================
// EMAIL CLAIM SHAPES
// =========================================================================

func TestEmailFromClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"string", jwt.MapClaims{"email": "a@example.com"}, "a@example.com"},
		{"object", jwt.MapClaims{"email": map[string]any{"email_address": "b@example.com"}}, "b@example.com"},
		{"list", jwt.MapClaims{"email_addresses": []any{map[string]any{"email_address": "c@example.com"}}}, "c@example.com"},
		{"primary_email", jwt.MapClaims{"primary_email": " d@example.com "}, "d@example.com"},
		{"primaryEmail", jwt.MapClaims{"primaryEmail": "e@example.com"}, "e@example.com"},
		{"not an email", jwt.MapClaims{"email": "nope"}, ""},
		{"missing", jwt.MapClaims{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, emailFromClaims(tt.claims))
		})
	}
}

// =========================================================================
// CLERK DIRECTORY
// =========================================================================

func TestClerkDirectory_LookupEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/user_2abc", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"primary_email_address_id": "idn_2",
			"email_addresses": [
				{"id": "idn_1", "email_address": "old@example.com"},
				{"id": "idn_2", "email_address": "primary@example.com"}
			]
		}`))
	}))
	defer srv.Close()

	d := NewClerkDirectory(srv.URL, "sk_test", 5*time.Second)

	email, err := d.LookupEmail(context.Background(), "user_2abc")
	require.NoError(t, err)
	assert.Equal(t, "primary@example.com", email)
}

func TestClerkDirectory_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewClerkDirectory(srv.URL, "sk_test", 5*time.Second)

	_, err := d.LookupEmail(context.Background(), "user_missing")
	assert.Error(t, err)
}
