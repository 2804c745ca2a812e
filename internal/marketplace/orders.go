package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListOrders pages through the seller's orders, newest first. An empty
// status returns every status.
func (c *Client) ListOrders(ctx context.Context, token, sellerID, status string, limit, offset int) (*OrderPage, error) {
	limit, offset = clampPage(limit, offset)

	q := url.Values{}
	q.Set("seller", sellerID)
	q.Set("sort", "date_desc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if status != "" {
		q.Set("order.status", status)
	}

	var page OrderPage
	if err := c.do(ctx, http.MethodGet, "/orders/search", q, token, nil, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		page.Results = []Order{}
	}
	return &page, nil
}

func (c *Client) GetOrder(ctx context.Context, token, orderID string) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, token, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
