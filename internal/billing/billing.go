// Package billing talks to the Mercado Pago subscriptions API
// (preapproval plans and preapprovals).
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/mercado-insights/internal/metrics"
)

const DefaultBaseURL = "https://api.mercadopago.com"

var ErrRequestFailed = errors.New("billing: request failed")

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("billing: %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRequestFailed }

type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// PlanRequest describes a monthly BRL subscription plan for one user.
type PlanRequest struct {
	Reason            string
	Amount            float64
	BackURL           string
	ExternalReference string
	NotificationURL   string
}

type Plan struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
}

// Preapproval is a subscription as Mercado Pago reports it.
type Preapproval struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	PreapprovalPlanID string `json:"preapproval_plan_id"`
	PayerEmail        string `json:"payer_email"`
}

type autoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

type planPayload struct {
	Reason            string        `json:"reason"`
	AutoRecurring     autoRecurring `json:"auto_recurring"`
	BackURL           string        `json:"back_url"`
	ExternalReference string        `json:"external_reference"`
	NotificationURL   string        `json:"notification_url,omitempty"`
}

// CreatePlan creates a preapproval plan; the returned InitPoint is the
// checkout URL for the seller.
func (c *Client) CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error) {
	payload := planPayload{
		Reason: req.Reason,
		AutoRecurring: autoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: req.Amount,
			CurrencyID:        "BRL",
		},
		BackURL:           req.BackURL,
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}

	var plan Plan
	if err := c.do(ctx, http.MethodPost, "/preapproval_plan", payload, &plan); err != nil {
		return nil, err
	}
	if plan.InitPoint == "" {
		return nil, fmt.Errorf("%w: plan %s has no init_point", ErrRequestFailed, plan.ID)
	}
	return &plan, nil
}

func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var p Preapproval
	if err := c.do(ctx, http.MethodGet, "/preapproval/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetPreapprovalPlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	if err := c.do(ctx, http.MethodGet, "/preapproval_plan/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestsTotal.WithLabelValues("mercadopago", metrics.Outcome(err)).Inc()
		metrics.UpstreamRequestDuration.WithLabelValues("mercadopago").Observe(time.Since(start).Seconds())
	}()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("billing: encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("billing: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("billing: decoding %s: %w", path, err)
	}
	return nil
}
