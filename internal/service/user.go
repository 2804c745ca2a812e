package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/auth"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/notify"
	"github.com/sakif/mercado-insights/internal/repository"
)

const maxChatIDLength = 64

// EmailDirectory looks up an account email when the identity token has
// none. *auth.ClerkDirectory implements it.
type EmailDirectory interface {
	LookupEmail(ctx context.Context, subject string) (string, error)
}

var _ EmailDirectory = (*auth.ClerkDirectory)(nil)

// UserService maps identities to stored users and owns the plan and admin
// rules used by the route guards.
type UserService struct {
	users     repository.UserRepository
	directory EmailDirectory
	messenger TestMessenger
	admins    map[string]struct{}
	logger    *slog.Logger
}

var (
	_ auth.UserResolver = (*UserService)(nil)
	_ auth.AccessPolicy = (*UserService)(nil)
)

// NewUserService creates a UserService. directory and messenger may be nil
// when Clerk backend access or Telegram are not configured.
func NewUserService(
	users repository.UserRepository,
	directory EmailDirectory,
	messenger TestMessenger,
	adminEmails []string,
	logger *slog.Logger,
) *UserService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &UserService{
		users:     users,
		directory: directory,
		messenger: messenger,
		admins:    admins,
		logger:    logger,
	}
}

// ResolveUser returns the stored user for id, creating it on first sight.
// The directory is asked only when neither the token nor the stored user
// has an email; a found address is saved so later requests skip the
// lookup. A directory failure is logged and the user is resolved without
// an email.
func (s *UserService) ResolveUser(ctx context.Context, id *auth.Identity) (*model.User, error) {
	if id == nil || strings.TrimSpace(id.Subject) == "" {
		return nil, apperror.Unauthorized("Sessão inválida. Faça login novamente.")
	}

	email := strings.ToLower(strings.TrimSpace(id.Email))
	u, err := s.users.GetOrCreateUser(ctx, id.Subject, email)
	if err != nil {
		return nil, fmt.Errorf("service/user: resolving %s: %w", id.Subject, err)
	}
	if u.Email != "" || s.directory == nil {
		return u, nil
	}

	looked, err := s.directory.LookupEmail(ctx, id.Subject)
	if err != nil {
		s.logger.Warn("email lookup failed",
			slog.String("subject", id.Subject),
			slog.String("error", err.Error()),
		)
		return u, nil
	}
	looked = strings.ToLower(strings.TrimSpace(looked))
	if looked == "" {
		return u, nil
	}

	updated, err := s.users.GetOrCreateUser(ctx, id.Subject, looked)
	if err != nil {
		return nil, fmt.Errorf("service/user: saving email for %s: %w", id.Subject, err)
	}
	return updated, nil
}

// IsAdmin reports whether u's email is on the admin list.
func (s *UserService) IsAdmin(u *model.User) bool {
	if u == nil || u.Email == "" {
		return false
	}
	_, ok := s.admins[strings.ToLower(u.Email)]
	return ok
}

// CanAccessPaid is true for an active plan or an admin.
func (s *UserService) CanAccessPaid(u *model.User) bool {
	if u == nil {
		return false
	}
	return u.Plan == model.PlanActive || s.IsAdmin(u)
}

// Profile is what GET /api/me returns.
type Profile struct {
	Plan           model.Plan `json:"plan"`
	Email          string     `json:"email"`
	IsAdmin        bool       `json:"is_admin"`
	TelegramChatID string     `json:"telegram_chat_id"`
	NotifyEmail    string     `json:"notify_email"`
}

func (s *UserService) Profile(u *model.User) Profile {
	return Profile{
		Plan:           u.Plan,
		Email:          u.Email,
		IsAdmin:        s.IsAdmin(u),
		TelegramChatID: u.TelegramChatID,
		NotifyEmail:    u.NotifyEmail,
	}
}

// UpdateNotifications stores the seller's Telegram chat id and optional
// notification email. Empty values clear the setting.
func (s *UserService) UpdateNotifications(ctx context.Context, u *model.User, telegramChatID, notifyEmail string) (*model.User, error) {
	telegramChatID = strings.TrimSpace(telegramChatID)
	notifyEmail = strings.ToLower(strings.TrimSpace(notifyEmail))

	if len(telegramChatID) > maxChatIDLength {
		return nil, apperror.ValidationFailed("telegram_chat_id",
			fmt.Sprintf("Chat ID deve ter no máximo %d caracteres.", maxChatIDLength))
	}
	if notifyEmail != "" {
		if err := notify.ValidateAddress(notifyEmail); err != nil {
			return nil, apperror.ValidationFailed("notify_email", "E-mail de notificação inválido.")
		}
	}

	if err := s.users.UpdateNotificationSettings(ctx, u.ID, telegramChatID, notifyEmail); err != nil {
		return nil, fmt.Errorf("service/user: updating notification settings: %w", err)
	}

	updated := *u
	updated.TelegramChatID = telegramChatID
	updated.NotifyEmail = notifyEmail

	s.logger.Info("notification settings updated",
		slog.String("userID", u.ID),
		slog.Bool("telegram", telegramChatID != ""),
		slog.Bool("custom_email", notifyEmail != ""),
	)
	return &updated, nil
}

// SendTestNotification sends the Telegram test message to the linked chat.
func (s *UserService) SendTestNotification(ctx context.Context, u *model.User) error {
	if s.messenger == nil {
		return apperror.Unavailable("Telegram não configurado no servidor.")
	}
	if strings.TrimSpace(u.TelegramChatID) == "" {
		return apperror.ValidationFailed("telegram_chat_id",
			"Chat ID não vinculado. Vincule primeiro na página de configurações.")
	}

	err := s.messenger.SendTest(ctx, u.TelegramChatID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notify.ErrNoChannel):
		return apperror.Unavailable("Telegram não configurado no servidor.")
	case errors.Is(err, notify.ErrChatNotFound):
		return apperror.ValidationFailed("telegram_chat_id",
			"Chat não encontrado. Abra o Telegram, procure o bot do Mercado Insights e envie /start. Depois tente novamente.")
	default:
		s.logger.Warn("telegram test failed",
			slog.String("userID", u.ID),
			slog.String("error", err.Error()),
		)
		return apperror.Upstream("Não foi possível enviar a mensagem de teste.", err)
	}
}
