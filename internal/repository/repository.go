// Package repository declares the storage contracts used by the services.
// internal/repository/sqlite is the only implementation; services depend on
// these interfaces so tests can substitute in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/mercado-insights/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	// GetOrCreateUser returns the user for clerkUserID, creating a free-plan
	// user on first sight. A non-empty email replaces the stored one.
	GetOrCreateUser(ctx context.Context, clerkUserID, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByClerkID(ctx context.Context, clerkUserID string) (*model.User, error)
	UpdatePlan(ctx context.Context, userID string, plan model.Plan) error
	UpdateNotificationSettings(ctx context.Context, userID, telegramChatID, notifyEmail string) error
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
}

type SubscriptionRepository interface {
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*model.Subscription, error)
	// SaveSubscription inserts or updates by ExternalID.
	SaveSubscription(ctx context.Context, sub *model.Subscription) error
	ListSubscriptions(ctx context.Context, opts ListOptions) ([]model.SubscriptionView, error)
}

// CredentialRepository is the credential store. Tokens are encrypted by the
// implementation; callers always see plaintext.
type CredentialRepository interface {
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)
	// SaveCredential upserts by UserID. Saving a seller id already bound to
	// another user moves the binding to this user.
	SaveCredential(ctx context.Context, cred *model.Credential) error
	// FindUserIDBySellerID is the reverse index used to route webhooks.
	FindUserIDBySellerID(ctx context.Context, sellerID string) (string, error)
	ListCredentialUserIDs(ctx context.Context) ([]string, error)
}

// OAuthStateRepository holds the single-use state values issued with each
// marketplace consent URL.
type OAuthStateRepository interface {
	SaveOAuthState(ctx context.Context, userID, state string, expiresAt time.Time) error
	// ConsumeOAuthState deletes the state and returns apperror.ErrNotFound
	// when it was never issued to userID, was already used or expired
	// before now.
	ConsumeOAuthState(ctx context.Context, userID, state string, now time.Time) error
}

type QuestionRepository interface {
	// CreatePendingQuestion returns apperror.ErrConflict when the marketplace
	// question id is already recorded.
	CreatePendingQuestion(ctx context.Context, q *model.PendingQuestion) error
	QuestionExists(ctx context.Context, questionID string) (bool, error)
	GetPendingQuestion(ctx context.Context, userID, questionID string) (*model.PendingQuestion, error)
	// ListPendingQuestions returns status=pending rows, most recent first.
	ListPendingQuestions(ctx context.Context, userID string) ([]model.PendingQuestion, error)
	// MarkPublished flips the question to published and appends fb in one
	// transaction.
	MarkPublished(ctx context.Context, id string, publishedAt time.Time, fb *model.QuestionFeedback) error
}

type FeedbackRepository interface {
	// RecentFeedback returns up to limit rows for userID, most recent first.
	RecentFeedback(ctx context.Context, userID string, limit int) ([]model.QuestionFeedback, error)
	// PruneFeedback keeps the newest keepPerUser rows per user and returns
	// how many were deleted.
	PruneFeedback(ctx context.Context, keepPerUser int) (int64, error)
}

type CostRepository interface {
	ListCosts(ctx context.Context, userID string) (map[string]model.CostRecord, error)
	UpsertCosts(ctx context.Context, userID string, updates []model.CostUpdate) (int, error)
}
