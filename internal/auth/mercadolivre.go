package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// MercadoLivreConfig configures the seller OAuth application.
type MercadoLivreConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string // e.g. https://auth.mercadolivre.com.br/authorization
	APIURL       string // token endpoint is APIURL + "/oauth/token"
	Timeout      time.Duration
}

// Grant is the outcome of an authorization-code exchange or a refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string
	SellerID     string
	Expiry       time.Time
}

// MercadoLivreProvider drives the Mercado Livre authorization-code flow.
//
// Mercado Livre expects client_id and client_secret in the form body
// (AuthStyleInParams) and returns the seller id as "user_id" next to the
// token fields.
type MercadoLivreProvider struct {
	config *oauth2.Config
	client *http.Client
}

func NewMercadoLivreProvider(cfg MercadoLivreConfig) *MercadoLivreProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &MercadoLivreProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"offline_access", "read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  strings.TrimRight(cfg.APIURL, "/") + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: timeout},
	}
}

// AuthURL returns the consent page URL carrying state.
func (p *MercadoLivreProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a Grant.
func (p *MercadoLivreProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("auth: empty authorization code")
	}

	tok, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging code: %w", err)
	}
	return grantFromToken(tok, "")
}

// Refresh obtains a new access token. Mercado Livre rotates refresh tokens,
// so the returned Grant carries the new one when the response includes it.
func (p *MercadoLivreProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, errors.New("auth: no refresh token")
	}

	src := p.config.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refreshing token: %w", err)
	}
	return grantFromToken(tok, refreshToken)
}

func (p *MercadoLivreProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func grantFromToken(tok *oauth2.Token, fallbackRefresh string) (*Grant, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("auth: token response has no access_token")
	}

	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		SellerID:     sellerIDFromExtra(tok.Extra("user_id")),
		Expiry:       tok.Expiry,
	}
	if g.RefreshToken == "" {
		g.RefreshToken = fallbackRefresh
	}
	return g, nil
}

// sellerIDFromExtra normalises "user_id", which arrives as a JSON number.
func sellerIDFromExtra(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	}
	return ""
}
