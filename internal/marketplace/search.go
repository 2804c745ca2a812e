package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// MaxQueryLength is the longest search query sent upstream, in runes.
const MaxQueryLength = 100

type SearchQuery struct {
	Query  string
	Limit  int
	Offset int
	Sort   string
}

// Search runs a catalogue search on the configured site. token is optional.
func (c *Client) Search(ctx context.Context, token string, sq SearchQuery) (*SearchPage, error) {
	query := strings.TrimSpace(sq.Query)
	if r := []rune(query); len(r) > MaxQueryLength {
		query = string(r[:MaxQueryLength])
	}
	limit, offset := clampPage(sq.Limit, sq.Offset)

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if sq.Sort != "" {
		q.Set("sort", sq.Sort)
	}

	var page SearchPage
	if err := c.do(ctx, http.MethodGet, "/sites/"+c.siteID+"/search", q, token, nil, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		page.Results = []SearchHit{}
	}
	return &page, nil
}
