// Package llm wraps the OpenAI chat completion API for the two things the
// service asks of a model: drafting answers to buyer questions and turning
// the financial panel into structured insights.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/sakif/mercado-insights/internal/metrics"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI-compatible gateways
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	api   *openai.Client
	model string
}

func New(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{api: openai.NewClientWithConfig(oc), model: model}
}

// Complete runs a single-turn chat completion and returns the trimmed text.
// system may be empty.
func (c *Client) Complete(ctx context.Context, system, prompt string) (text string, err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestsTotal.WithLabelValues("openai", metrics.Outcome(err)).Inc()
		metrics.UpstreamRequestDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	}()

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text = strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// AnalyzeJSON sends prompt and decodes the model's JSON answer into out.
func (c *Client) AnalyzeJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.Complete(ctx, "", prompt)
	if err != nil {
		return err
	}
	if err := ExtractJSON(text, out); err != nil {
		return fmt.Errorf("llm: response is not valid JSON: %w", err)
	}
	return nil
}

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// ExtractJSON strips a surrounding markdown code fence, if any, and
// unmarshals the remainder into out.
func ExtractJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return json.Unmarshal([]byte(text), out)
}
