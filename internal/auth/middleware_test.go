package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeResolver struct {
	user *model.User
	err  error
}

func (f *fakeResolver) ResolveUser(_ context.Context, id *Identity) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u := *f.user
	u.ClerkUserID = id.Subject
	return &u, nil
}

type fakePolicy struct {
	paid  bool
	admin bool
}

func (p fakePolicy) CanAccessPaid(*model.User) bool { return p.paid || p.admin }
func (p fakePolicy) IsAdmin(*model.User) bool       { return p.admin }

// okHandler records the user it saw.
func okHandler(seen **model.User) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := UserFromContext(r.Context()); ok && seen != nil {
			*seen = u
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// =========================================================================
// REQUIRE AUTH + REQUIRE USER
// =========================================================================

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Generate("user_1", "a@example.com")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer garbage", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAuth(ts, testLogger())(okHandler(nil))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}

func TestRequireUser_StoresUser(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate("user_1", "a@example.com")

	resolver := &fakeResolver{user: &model.User{ID: "u1", Email: "a@example.com"}}
	var seen *model.User
	h := RequireAuth(ts, testLogger())(RequireUser(resolver, testLogger())(okHandler(&seen)))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	if assert.NotNil(t, seen) {
		assert.Equal(t, "u1", seen.ID)
		assert.Equal(t, "user_1", seen.ClerkUserID)
	}
}

func TestRequireUser_ResolverErrors(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate("user_1", "")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", apperror.Unauthorized("E-mail da conta não encontrado."), http.StatusUnauthorized},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAuth(ts, testLogger())(RequireUser(&fakeResolver{err: tt.err}, testLogger())(okHandler(nil)))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// =========================================================================
// PAID + ADMIN GUARDS
// =========================================================================

func TestRequirePaid(t *testing.T) {
	tests := []struct {
		name   string
		policy fakePolicy
		want   int
	}{
		{"free user", fakePolicy{}, http.StatusForbidden},
		{"paid user", fakePolicy{paid: true}, http.StatusNoContent},
		{"admin on free plan", fakePolicy{admin: true}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequirePaid(tt.policy)(okHandler(nil))

			req := httptest.NewRequest(http.MethodGet, "/api/finance/panel", nil)
			req = req.WithContext(WithUser(req.Context(), &model.User{ID: "u1"}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), `"error":"forbidden"`)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(fakePolicy{paid: true})(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req = req.WithContext(WithUser(req.Context(), &model.User{ID: "u1"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h = RequireAdmin(fakePolicy{admin: true})(okHandler(nil))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGuard_NoUserInContext(t *testing.T) {
	h := RequirePaid(fakePolicy{paid: true})(okHandler(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
