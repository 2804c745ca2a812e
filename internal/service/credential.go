package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/metrics"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
	"github.com/sakif/mercado-insights/internal/telemetry"
)

const (
	// RefreshMargin is how long before expiry an access token is replaced.
	RefreshMargin = 5 * time.Minute

	// defaultTokenLifetime is assumed when a refresh grant carries no expiry.
	defaultTokenLifetime = 6 * time.Hour

	// oauthStateTTL bounds the time between the consent URL and the callback.
	oauthStateTTL = 10 * time.Minute
)

// ConnectionStatus is what GET /api/ml-status returns.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	SellerID  string `json:"seller_id,omitempty"`
}

// CredentialService owns the Mercado Livre credential lifecycle: the
// connect flow, the status probe and the token refresh cache.
//
// GetValidToken refreshes when the stored access token is within
// RefreshMargin of expiry. Two concurrent calls for the same user may both
// refresh; the later save wins and both callers get a usable token.
type CredentialService struct {
	creds     repository.CredentialRepository
	states    repository.OAuthStateRepository
	provider  OAuthProvider
	market    Marketplace
	telemetry telemetry.Telemetry
	now       Clock
	logger    *slog.Logger
}

var _ TokenProvider = (*CredentialService)(nil)

// NewCredentialService creates a CredentialService. provider is nil when
// the Mercado Livre application is not configured; connect and refresh are
// then unavailable but stored tokens are still served.
func NewCredentialService(
	creds repository.CredentialRepository,
	states repository.OAuthStateRepository,
	provider OAuthProvider,
	market Marketplace,
	tel telemetry.Telemetry,
	logger *slog.Logger,
) *CredentialService {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &CredentialService{
		creds:     creds,
		states:    states,
		provider:  provider,
		market:    market,
		telemetry: tel,
		now:       systemClock,
		logger:    logger,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *CredentialService) SetClock(c Clock) {
	s.now = c
}

// AuthURL returns the marketplace consent URL for userID's connect button.
// The state it carries is stored for oauthStateTTL and must come back with
// the authorization code.
func (s *CredentialService) AuthURL(ctx context.Context, userID string) (string, error) {
	if s.provider == nil {
		return "", apperror.Unavailable("Integração com o Mercado Livre não configurada.")
	}
	state := xid.New().String()
	if err := s.states.SaveOAuthState(ctx, userID, state, s.now().Add(oauthStateTTL)); err != nil {
		return "", fmt.Errorf("service/credential: saving oauth state: %w", err)
	}
	return s.provider.AuthURL(state), nil
}

// Connect exchanges an authorization code and stores the credential for
// userID. state must be one issued by AuthURL to the same user; it is
// consumed before the code is exchanged. The seller id comes from the
// grant, or from /users/me when the token response omits it.
func (s *CredentialService) Connect(ctx context.Context, userID, code, state string) (*ConnectionStatus, error) {
	if s.provider == nil {
		return nil, apperror.Unavailable("Integração com o Mercado Livre não configurada.")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.ValidationFailed("code", "Código de autorização ausente.")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, apperror.ValidationFailed("state", "Estado de autorização ausente.")
	}

	err := s.states.ConsumeOAuthState(ctx, userID, state, s.now())
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Warn("oauth state rejected", slog.String("userID", userID))
		return nil, apperror.ValidationFailed("state", "Autorização expirada ou inválida. Conecte novamente.")
	}
	if err != nil {
		return nil, fmt.Errorf("service/credential: checking oauth state: %w", err)
	}

	grant, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("authorization code exchange failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.ValidationFailed("code", "Não foi possível obter tokens do Mercado Livre.")
	}

	sellerID := grant.SellerID
	if sellerID == "" {
		acc, err := s.market.GetMe(ctx, grant.AccessToken)
		if err != nil {
			return nil, upstream("Não foi possível identificar a conta do Mercado Livre.", err)
		}
		sellerID = strconv.FormatInt(acc.ID, 10)
	}

	cred := &model.Credential{
		UserID:       userID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		SellerID:     sellerID,
		ExpiresAt:    grant.Expiry,
	}
	if err := s.creds.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("service/credential: saving credential: %w", err)
	}

	s.logger.Info("marketplace account connected",
		slog.String("userID", userID),
		slog.String("sellerID", sellerID),
	)
	track(ctx, s.telemetry, s.logger, userID, telemetry.EventMarketplaceConnected, map[string]any{"seller_id": sellerID})

	return &ConnectionStatus{Connected: true, SellerID: sellerID}, nil
}

// Status reports whether userID has a stored credential. It does not
// refresh or call the marketplace.
func (s *CredentialService) Status(ctx context.Context, userID string) (*ConnectionStatus, error) {
	cred, err := s.creds.GetCredential(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return &ConnectionStatus{Connected: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/credential: status: %w", err)
	}
	return &ConnectionStatus{Connected: cred.AccessToken != "", SellerID: cred.SellerID}, nil
}

// GetValidToken returns userID's credential with an access token that is
// valid for at least RefreshMargin, refreshing it first when needed.
//
// A missing credential or a failed refresh is reported as
// apperror.ErrNotConnected. When the refreshed credential cannot be saved
// the failure is logged and the fresh token is still returned.
func (s *CredentialService) GetValidToken(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := s.creds.GetCredential(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotConnected()
	}
	if err != nil {
		return nil, fmt.Errorf("service/credential: loading credential: %w", err)
	}
	if cred.AccessToken == "" {
		return nil, apperror.NotConnected()
	}

	now := s.now()
	if !cred.NeedsRefresh(now, RefreshMargin) {
		return cred, nil
	}

	if s.provider == nil || cred.RefreshToken == "" {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		s.logger.Warn("token expired and cannot be refreshed", slog.String("userID", userID))
		return nil, apperror.NotConnected()
	}

	grant, err := s.provider.Refresh(ctx, cred.RefreshToken)
	metrics.TokenRefreshTotal.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.logger.Warn("token refresh failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.NotConnected()
	}

	refreshed := *cred
	refreshed.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		refreshed.RefreshToken = grant.RefreshToken
	}
	if grant.SellerID != "" {
		refreshed.SellerID = grant.SellerID
	}
	refreshed.ExpiresAt = grant.Expiry
	if refreshed.ExpiresAt.IsZero() {
		refreshed.ExpiresAt = now.Add(defaultTokenLifetime)
	}

	if err := s.creds.SaveCredential(ctx, &refreshed); err != nil {
		s.logger.Error("saving refreshed credential",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("access token refreshed",
			slog.String("userID", userID),
			slog.Time("expiresAt", refreshed.ExpiresAt),
		)
	}
	return &refreshed, nil
}
