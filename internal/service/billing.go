package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/billing"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
	"github.com/sakif/mercado-insights/internal/telemetry"
)

const (
	// PaymentWebhookPath is where Mercado Pago posts subscription events.
	PaymentWebhookPath = "/api/webhooks/mercadopago"

	topicPreapproval = "subscription_preapproval"
)

// PaymentGateway is the Mercado Pago surface used for subscriptions.
type PaymentGateway interface {
	CreatePlan(ctx context.Context, req billing.PlanRequest) (*billing.Plan, error)
	GetPreapproval(ctx context.Context, id string) (*billing.Preapproval, error)
	GetPreapprovalPlan(ctx context.Context, id string) (*billing.Plan, error)
}

var _ PaymentGateway = (*billing.Client)(nil)

// PaymentNotification is a Mercado Pago webhook body.
type PaymentNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID FlexibleID `json:"id"`
	} `json:"data"`
}

type BillingConfig struct {
	PlanAmount  float64
	PlanReason  string
	FrontendURL string
	BackendURL  string
}

// BillingService sells the monthly plan and keeps user plans in sync with
// Mercado Pago subscription state.
type BillingService struct {
	gateway   PaymentGateway
	users     repository.UserRepository
	subs      repository.SubscriptionRepository
	telemetry telemetry.Telemetry
	config    BillingConfig
	now       Clock
	logger    *slog.Logger
}

// NewBillingService creates a BillingService. gateway is nil when
// Mercado Pago is not configured.
func NewBillingService(
	gateway PaymentGateway,
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	tel telemetry.Telemetry,
	cfg BillingConfig,
	logger *slog.Logger,
) *BillingService {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &BillingService{
		gateway:   gateway,
		users:     users,
		subs:      subs,
		telemetry: tel,
		config:    cfg,
		now:       systemClock,
		logger:    logger,
	}
}

// Checkout creates a subscription plan for u and returns the checkout URL.
func (s *BillingService) Checkout(ctx context.Context, u *model.User) (string, error) {
	if s.gateway == nil {
		return "", apperror.Unavailable("Mercado Pago não configurado. Defina MP_ACCESS_TOKEN.")
	}

	plan, err := s.gateway.CreatePlan(ctx, billing.PlanRequest{
		Reason:            s.config.PlanReason,
		Amount:            s.config.PlanAmount,
		BackURL:           s.config.FrontendURL + "/dashboard?success=1",
		ExternalReference: u.ClerkUserID,
		NotificationURL:   s.config.BackendURL + PaymentWebhookPath,
	})
	if err != nil {
		s.logger.Error("creating checkout",
			slog.String("userID", u.ID),
			slog.String("error", err.Error()),
		)
		return "", apperror.Upstream("Não foi possível iniciar o pagamento.", err)
	}
	return plan.InitPoint, nil
}

// HandleWebhook applies a subscription event. Events of other types and
// preapprovals that cannot be fetched or attributed are ignored; only
// storage failures are returned.
func (s *BillingService) HandleWebhook(ctx context.Context, n PaymentNotification) error {
	if n.Type != topicPreapproval || n.Data.ID == "" {
		return nil
	}
	if s.gateway == nil {
		s.logger.Warn("payment webhook received without Mercado Pago configured")
		return nil
	}

	pre, err := s.gateway.GetPreapproval(ctx, string(n.Data.ID))
	if err != nil {
		s.logger.Warn("fetching preapproval",
			slog.String("preapprovalID", string(n.Data.ID)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if n.Action == "created" || n.Action == "authorized" {
		return s.activate(ctx, pre)
	}
	return s.update(ctx, pre)
}

func (s *BillingService) activate(ctx context.Context, pre *billing.Preapproval) error {
	if pre.Status != model.SubscriptionAuthorized && pre.Status != model.SubscriptionPending {
		return nil
	}

	ref := pre.ExternalReference
	if ref == "" && pre.PreapprovalPlanID != "" {
		plan, err := s.gateway.GetPreapprovalPlan(ctx, pre.PreapprovalPlanID)
		if err != nil {
			s.logger.Warn("fetching preapproval plan",
				slog.String("planID", pre.PreapprovalPlanID),
				slog.String("error", err.Error()),
			)
		} else {
			ref = plan.ExternalReference
		}
	}
	if ref == "" {
		s.logger.Warn("preapproval without external reference", slog.String("preapprovalID", pre.ID))
		return nil
	}

	u, err := s.users.GetUserByClerkID(ctx, ref)
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Warn("preapproval for unknown user", slog.String("reference", ref))
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/billing: loading user %s: %w", ref, err)
	}

	if err := s.users.UpdatePlan(ctx, u.ID, model.PlanActive); err != nil {
		return fmt.Errorf("service/billing: activating %s: %w", u.ID, err)
	}

	started := s.now()
	sub := &model.Subscription{
		UserID:     u.ID,
		ExternalID: pre.ID,
		Status:     pre.Status,
		StartedAt:  &started,
	}
	if err := s.subs.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("service/billing: saving subscription %s: %w", pre.ID, err)
	}

	s.logger.Info("subscription activated",
		slog.String("userID", u.ID),
		slog.String("preapprovalID", pre.ID),
	)
	track(ctx, s.telemetry, s.logger, u.ClerkUserID, telemetry.EventSubscriptionActivated, map[string]any{
		"preapproval_id": pre.ID,
		"status":         pre.Status,
	})
	return nil
}

func (s *BillingService) update(ctx context.Context, pre *billing.Preapproval) error {
	sub, err := s.subs.GetSubscriptionByExternalID(ctx, pre.ID)
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Debug("update for unknown subscription", slog.String("preapprovalID", pre.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/billing: loading subscription %s: %w", pre.ID, err)
	}

	plan := model.PlanActive
	switch pre.Status {
	case model.SubscriptionCancelled, model.SubscriptionPaused, model.SubscriptionPending:
		plan = model.PlanFree
	}
	if pre.Status == model.SubscriptionCancelled {
		ended := s.now()
		sub.EndsAt = &ended
	}
	sub.Status = pre.Status

	if err := s.users.UpdatePlan(ctx, sub.UserID, plan); err != nil {
		return fmt.Errorf("service/billing: updating plan for %s: %w", sub.UserID, err)
	}
	if err := s.subs.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("service/billing: saving subscription %s: %w", pre.ID, err)
	}

	s.logger.Info("subscription updated",
		slog.String("userID", sub.UserID),
		slog.String("status", pre.Status),
		slog.String("plan", string(plan)),
	)
	return nil
}
