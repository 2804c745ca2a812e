package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/model"
)

// contextKey is unexported so no other package can read or shadow the values.
type contextKey string

const (
	identityKey contextKey = "identity"
	userKey     contextKey = "user"
)

// UserResolver maps a verified identity to the stored user.
type UserResolver interface {
	ResolveUser(ctx context.Context, id *Identity) (*model.User, error)
}

// AccessPolicy decides paid and admin access for a user.
type AccessPolicy interface {
	CanAccessPaid(u *model.User) bool
	IsAdmin(u *model.User) bool
}

// RequireAuth rejects requests without a valid "Authorization: Bearer"
// identity token and stores the Identity in the context.
func RequireAuth(v Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Token de autenticação ausente.")
				return
			}

			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				logger.Debug("identity token rejected", slog.String("error", err.Error()))
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Sessão inválida ou expirada. Faça login novamente.")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser loads the stored user for the verified identity. It must run
// after RequireAuth.
func RequireUser(resolver UserResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Autenticação necessária.")
				return
			}

			user, err := resolver.ResolveUser(r.Context(), id)
			if err != nil {
				var appErr *apperror.AppError
				if errors.As(err, &appErr) && errors.Is(err, apperror.ErrUnauthorized) {
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", appErr.Message)
					return
				}
				logger.Error("resolving user",
					slog.String("subject", id.Subject),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "Ocorreu um erro interno.")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequirePaid lets through users with an active plan or on the admin list.
func RequirePaid(policy AccessPolicy) func(http.Handler) http.Handler {
	return guard(policy.CanAccessPaid, "Recurso disponível apenas para assinantes. Assine um plano para continuar.")
}

// RequireAdmin lets through admin users only.
func RequireAdmin(policy AccessPolicy) func(http.Handler) http.Handler {
	return guard(policy.IsAdmin, "Acesso restrito a administradores.")
}

func guard(allow func(*model.User) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Autenticação necessária.")
				return
			}
			if !allow(user) {
				writeAuthError(w, http.StatusForbidden, "forbidden", message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// WithUser stores u in ctx. Handlers read it back with UserFromContext.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeAuthError writes the same {"error","message"} shape the handlers use.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
