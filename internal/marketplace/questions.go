package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type QuestionFilter struct {
	SellerID string
	ItemID   string
	Status   string
	Limit    int
	Offset   int
}

// SearchQuestions lists questions by seller or item.
func (c *Client) SearchQuestions(ctx context.Context, token string, f QuestionFilter) (*QuestionPage, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	q := url.Values{}
	q.Set("api_version", "4")
	q.Set("sort_fields", "date_created")
	q.Set("sort_types", "DESC")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if f.ItemID != "" {
		q.Set("item", f.ItemID)
	} else {
		q.Set("seller_id", f.SellerID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}

	var page QuestionPage
	if err := c.do(ctx, http.MethodGet, "/questions/search", q, token, nil, &page); err != nil {
		return nil, err
	}
	if page.Questions == nil {
		page.Questions = []Question{}
	}
	return &page, nil
}

func (c *Client) GetQuestion(ctx context.Context, token, questionID string) (*Question, error) {
	q := url.Values{}
	q.Set("api_version", "4")

	var question Question
	if err := c.do(ctx, http.MethodGet, "/questions/"+url.PathEscape(questionID), q, token, nil, &question); err != nil {
		return nil, err
	}
	return &question, nil
}

// PostAnswer publishes text as the answer to questionID.
func (c *Client) PostAnswer(ctx context.Context, token, questionID, text string) (*Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("marketplace: answer text is empty")
	}
	id, err := strconv.ParseInt(questionID, 10, 64)
	if err != nil {
		return nil, errors.New("marketplace: question id must be numeric")
	}

	body := struct {
		QuestionID int64  `json:"question_id"`
		Text       string `json:"text"`
	}{id, text}

	var answered Question
	if err := c.do(ctx, http.MethodPost, "/answers", nil, token, body, &answered); err != nil {
		return nil, err
	}
	return &answered, nil
}
