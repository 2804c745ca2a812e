package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// StatusAll merges every listing status into one id page.
const StatusAll = "all"

// listingStatuses are the statuses merged by StatusAll.
var listingStatuses = []string{"active", "paused", "closed", "under_review"}

// batchConcurrency bounds the parallel /items?ids= calls made by GetItems.
const batchConcurrency = 4

// GetMe returns the account the token belongs to.
func (c *Client) GetMe(ctx context.Context, token string) (*Account, error) {
	var acc Account
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, token, nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListItemIDs pages through the seller's listing ids. An empty status lists
// every status the API returns by default; StatusAll queries each known
// status with the same limit and merges the pages.
func (c *Client) ListItemIDs(ctx context.Context, token, sellerID, status string, limit, offset int) (*ItemIDPage, error) {
	limit, offset = clampPage(limit, offset)

	if status != StatusAll {
		return c.listItemIDs(ctx, token, sellerID, status, limit, offset)
	}

	merged := &ItemIDPage{Results: []string{}, Paging: Paging{Offset: offset, Limit: limit}}
	seen := make(map[string]struct{})
	for _, st := range listingStatuses {
		page, err := c.listItemIDs(ctx, token, sellerID, st, limit, offset)
		if err != nil {
			return nil, err
		}
		merged.Paging.Total += page.Paging.Total
		for _, id := range page.Results {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged.Results = append(merged.Results, id)
		}
	}
	return merged, nil
}

func (c *Client) listItemIDs(ctx context.Context, token, sellerID, status string, limit, offset int) (*ItemIDPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if status != "" {
		q.Set("status", status)
	}

	var page ItemIDPage
	path := "/users/" + url.PathEscape(sellerID) + "/items/search"
	if err := c.do(ctx, http.MethodGet, path, q, token, nil, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		page.Results = []string{}
	}
	return &page, nil
}

// GetItem returns one listing. A 403 with the seller token (listing owned
// by someone else or restricted scope) is retried as a public read.
func (c *Client) GetItem(ctx context.Context, token, itemID string) (*Item, error) {
	path := "/items/" + url.PathEscape(itemID)

	var item Item
	err := c.do(ctx, http.MethodGet, path, nil, token, nil, &item)
	if err != nil && token != "" && StatusCode(err) == http.StatusForbidden {
		c.logger.Debug("item read forbidden, retrying as public", slog.String("itemID", itemID))
		item = Item{}
		err = c.do(ctx, http.MethodGet, path, nil, "", nil, &item)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemDescription returns the plain-text description, or "" when the
// listing has none.
func (c *Client) GetItemDescription(ctx context.Context, token, itemID string) (string, error) {
	var desc struct {
		PlainText string `json:"plain_text"`
	}
	err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(itemID)+"/description", nil, token, nil, &desc)
	if StatusCode(err) == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return desc.PlainText, nil
}

// GetItems fetches listings by id. Ids are split into chunks of
// MaxBatchSize and chunks are fetched concurrently; entries the API reports
// with a non-200 code are skipped. The result keeps the input order.
func (c *Client) GetItems(ctx context.Context, token string, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return []Item{}, nil
	}

	chunks := chunk(ids, MaxBatchSize)
	results := make([][]Item, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, batch := range chunks {
		g.Go(func() error {
			items, err := c.getItemBatch(gctx, token, batch)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Item, 0, len(ids))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (c *Client) getItemBatch(ctx context.Context, token string, ids []string) ([]Item, error) {
	if len(ids) > MaxBatchSize {
		return nil, errors.New("marketplace: batch exceeds 20 ids")
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))

	var entries []struct {
		Code int  `json:"code"`
		Body Item `json:"body"`
	}
	if err := c.do(ctx, http.MethodGet, "/items", q, token, nil, &entries); err != nil {
		return nil, fmt.Errorf("fetching item batch: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if e.Code == http.StatusOK {
			items = append(items, e.Body)
		}
	}
	return items, nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
