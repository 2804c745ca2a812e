package notify

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
)

// ErrChatNotFound means the bot cannot reach the chat, usually because the
// seller never sent /start to the bot.
var ErrChatNotFound = errors.New("notify: telegram chat not found")

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewTelegram(baseURL, botToken string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   botToken,
		http:    &http.Client{Timeout: timeout},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to chatID.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return errors.New("notify: empty telegram chat id")
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("notify: encoding telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		// The URL contains the bot token; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("notify: calling telegram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var tr telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &tr)
	desc := tr.Description
	if desc == "" {
		desc = strings.TrimSpace(string(raw))
	}

	lower := strings.ToLower(desc)
	if strings.Contains(lower, "chat not found") || strings.Contains(lower, "chat_id") {
		return fmt.Errorf("%w: %s", ErrChatNotFound, desc)
	}
	return fmt.Errorf("notify: telegram returned status %d: %s", resp.StatusCode, desc)
}
