// Package service contains the business logic of the seller backend.
//
// LAYERS:
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, enforces plan rules, orchestrates calls
//	Repository      → reads/writes SQLite
//	Clients         → Mercado Livre, Mercado Pago, OpenAI, Telegram, SMTP
//
// Services depend on the small interfaces declared in this file and in
// internal/repository, never on concrete clients, so every service is
// tested with in-memory fakes. Upstream failures are converted to
// apperror values here; handlers only translate those to HTTP.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/auth"
	"github.com/sakif/mercado-insights/internal/llm"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/notify"
	"github.com/sakif/mercado-insights/internal/telemetry"
)

// Marketplace is the subset of the Mercado Livre client the services call.
// *marketplace.Client implements it.
type Marketplace interface {
	GetMe(ctx context.Context, token string) (*marketplace.Account, error)
	ListItemIDs(ctx context.Context, token, sellerID, status string, limit, offset int) (*marketplace.ItemIDPage, error)
	GetItem(ctx context.Context, token, itemID string) (*marketplace.Item, error)
	GetItemDescription(ctx context.Context, token, itemID string) (string, error)
	GetItems(ctx context.Context, token string, ids []string) ([]marketplace.Item, error)
	ListOrders(ctx context.Context, token, sellerID, status string, limit, offset int) (*marketplace.OrderPage, error)
	GetOrder(ctx context.Context, token, orderID string) (*marketplace.Order, error)
	SearchQuestions(ctx context.Context, token string, f marketplace.QuestionFilter) (*marketplace.QuestionPage, error)
	GetQuestion(ctx context.Context, token, questionID string) (*marketplace.Question, error)
	PostAnswer(ctx context.Context, token, questionID, text string) (*marketplace.Question, error)
	Search(ctx context.Context, token string, sq marketplace.SearchQuery) (*marketplace.SearchPage, error)
}

var _ Marketplace = (*marketplace.Client)(nil)

// OAuthProvider runs the Mercado Livre authorization-code and refresh grants.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Grant, error)
}

var _ OAuthProvider = (*auth.MercadoLivreProvider)(nil)

// TokenProvider returns a credential whose access token is usable now.
// CredentialService is the production implementation.
type TokenProvider interface {
	GetValidToken(ctx context.Context, userID string) (*model.Credential, error)
}

// Drafter writes suggested answers to buyer questions.
type Drafter interface {
	DraftAnswer(ctx context.Context, req llm.DraftRequest) (string, error)
}

// Analyzer asks the model for a JSON document and decodes it into out.
type Analyzer interface {
	AnalyzeJSON(ctx context.Context, prompt string, out any) error
}

var (
	_ Drafter  = (*llm.Client)(nil)
	_ Analyzer = (*llm.Client)(nil)
)

// QuestionNotifier alerts a seller about a drafted question.
type QuestionNotifier interface {
	NotifyQuestion(ctx context.Context, u *model.User, alert notify.QuestionAlert) (string, error)
}

// TestMessenger sends the Telegram link test message.
type TestMessenger interface {
	SendTest(ctx context.Context, chatID string) error
}

var (
	_ QuestionNotifier = (*notify.Notifier)(nil)
	_ TestMessenger    = (*notify.Notifier)(nil)
)

// Clock returns the current time. Tests replace it to control expiry.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// upstream wraps a client failure for the caller. "Not connected" and
// other apperror values pass through unchanged.
func upstream(message string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Upstream(message, err)
}

// connected returns the caller's credential, requiring a bound seller id.
func connected(ctx context.Context, tokens TokenProvider, userID string) (*model.Credential, error) {
	cred, err := tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred.SellerID == "" {
		return nil, apperror.NotConnected()
	}
	return cred, nil
}

// track sends a product event. Telemetry failures never reach the caller.
func track(ctx context.Context, tel telemetry.Telemetry, logger *slog.Logger, userID, event string, props map[string]any) {
	err := tel.Send(ctx, telemetry.Event{DistinctID: userID, Name: event, Properties: props})
	if err != nil {
		logger.Debug("telemetry event dropped",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
