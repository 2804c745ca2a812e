// Package notify tells sellers about new buyer questions. Telegram is the
// preferred channel; email is the fallback when no chat is linked or the
// chat delivery fails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/mercado-insights/internal/metrics"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/textutil"
)

const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
)

// ErrNoChannel means neither channel could be used for the recipient.
var ErrNoChannel = errors.New("notify: no delivery channel available")

const testMessage = "✅ Mercado Insights — Teste de notificação\n\nSua conexão com o Telegram está funcionando corretamente!"

// ChatSender delivers a text message to a chat id.
type ChatSender interface {
	Send(ctx context.Context, chatID, text string) error
}

// MailSender delivers a plain-text email.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// QuestionAlert is the content of a new-question notification.
type QuestionAlert struct {
	ItemTitle string
	Question  string
	Draft     string
}

// Notifier fans a question alert out to the best channel for a user.
// Either sender may be nil when the integration is not configured.
type Notifier struct {
	chat        ChatSender
	mail        MailSender
	frontendURL string
	logger      *slog.Logger
}

func NewNotifier(chat ChatSender, mail MailSender, frontendURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		chat:        chat,
		mail:        mail,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// ChatEnabled reports whether a chat channel is configured.
func (n *Notifier) ChatEnabled() bool { return n.chat != nil }

// NotifyQuestion delivers alert to u and returns the channel that accepted
// it.
func (n *Notifier) NotifyQuestion(ctx context.Context, u *model.User, alert QuestionAlert) (string, error) {
	var chatErr error

	if n.chat != nil && strings.TrimSpace(u.TelegramChatID) != "" {
		chatErr = n.chat.Send(ctx, u.TelegramChatID, n.telegramText(alert))
		metrics.NotificationsTotal.WithLabelValues(ChannelTelegram, metrics.Outcome(chatErr)).Inc()
		if chatErr == nil {
			return ChannelTelegram, nil
		}
		n.logger.Warn("telegram notification failed, trying email",
			slog.String("userID", u.ID),
			slog.String("error", chatErr.Error()),
		)
	}

	to := u.NotificationEmail()
	if n.mail == nil || to == "" {
		if chatErr != nil {
			return "", chatErr
		}
		return "", ErrNoChannel
	}

	err := n.mail.Send(ctx, to, "Mercado Insights — Nova pergunta no anúncio", n.emailText(alert))
	metrics.NotificationsTotal.WithLabelValues(ChannelEmail, metrics.Outcome(err)).Inc()
	if err != nil {
		return "", errors.Join(chatErr, fmt.Errorf("notify: email: %w", err))
	}
	return ChannelEmail, nil
}

// SendTest sends a fixed message so the seller can confirm the chat link.
func (n *Notifier) SendTest(ctx context.Context, chatID string) error {
	if n.chat == nil {
		return ErrNoChannel
	}
	return n.chat.Send(ctx, chatID, testMessage)
}

func (n *Notifier) telegramText(a QuestionAlert) string {
	return n.render("📩 Nova pergunta no seu anúncio (ML)", a, 200, 300)
}

func (n *Notifier) emailText(a QuestionAlert) string {
	return n.render("Nova pergunta no seu anúncio (Mercado Livre)", a, 300, 500)
}

func (n *Notifier) render(header string, a QuestionAlert, questionLimit, draftLimit int) string {
	var b strings.Builder
	b.WriteString(header + "\n\n")
	if a.ItemTitle != "" {
		b.WriteString("Anúncio: " + a.ItemTitle + "\n")
	}
	b.WriteString("Pergunta: " + textutil.Truncate(a.Question, questionLimit) + "\n\n")
	b.WriteString("Resposta sugerida pela IA:\n" + textutil.Truncate(a.Draft, draftLimit) + "\n\n")
	if n.frontendURL != "" {
		b.WriteString("Aprove ou edite: " + n.frontendURL + "/perguntas\n")
	}
	return b.String()
}
