package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, logger)
	return c, srv
}

// =========================================================================
// TRANSPORT CONTRACT
// =========================================================================

func TestDo_AttachesBearerToken(t *testing.T) {
	var gotAuth, gotUA string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		json.NewEncoder(w).Encode(map[string]any{"id": 123, "nickname": "LOJA"})
	})

	acc, err := c.GetMe(context.Background(), "APP_USR-1")
	require.NoError(t, err)
	assert.Equal(t, int64(123), acc.ID)
	assert.Equal(t, "Bearer APP_USR-1", gotAuth)
	assert.Equal(t, "MercadoInsights/1.0", gotUA)
}

func TestDo_Non2xxIsFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"upstream"}`))
	})

	_, err := c.GetMe(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
}

func TestDo_TimeoutIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logger)

	_, err := c.GetMe(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.Equal(t, 0, StatusCode(err))
}

// =========================================================================
// ITEMS
// =========================================================================

func TestGetItems_ChunksByTwentyAndKeepsOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")

		mu.Lock()
		sizes = append(sizes, len(ids))
		mu.Unlock()

		var out []map[string]any
		for _, id := range ids {
			code := http.StatusOK
			if id == "MLB7" {
				code = http.StatusNotFound
			}
			out = append(out, map[string]any{"code": code, "body": map[string]any{"id": id, "title": "t-" + id}})
		}
		json.NewEncoder(w).Encode(out)
	})

	var ids []string
	for i := 0; i < 45; i++ {
		ids = append(ids, fmt.Sprintf("MLB%d", i))
	}

	items, err := c.GetItems(context.Background(), "tok", ids)
	require.NoError(t, err)

	assert.Len(t, items, 44, "the 404 entry is skipped")
	assert.Equal(t, "MLB0", items[0].ID)
	assert.Equal(t, "MLB44", items[len(items)-1].ID)

	assert.ElementsMatch(t, []int{20, 20, 5}, sizes)
	for _, n := range sizes {
		assert.LessOrEqual(t, n, MaxBatchSize)
	}
}

func TestGetItem_FallsBackToPublicReadOn403(t *testing.T) {
	var calls []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "MLB1", "title": "Fone", "price": 99.9})
	})

	item, err := c.GetItem(context.Background(), "tok", "MLB1")
	require.NoError(t, err)
	assert.Equal(t, "Fone", item.Title)
	assert.Equal(t, []string{"Bearer tok", ""}, calls)
}

func TestListItemIDs_AllMergesStatuses(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/999/items/search", r.URL.Path)
		status := r.URL.Query().Get("status")
		results := map[string][]string{
			"active":       {"MLB1", "MLB2"},
			"paused":       {"MLB3"},
			"closed":       {},
			"under_review": {"MLB2"},
		}[status]
		json.NewEncoder(w).Encode(map[string]any{
			"results": results,
			"paging":  map[string]int{"total": len(results)},
		})
	})

	page, err := c.ListItemIDs(context.Background(), "tok", "999", StatusAll, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"MLB1", "MLB2", "MLB3"}, page.Results)
	assert.Equal(t, 4, page.Paging.Total)
}

// =========================================================================
// QUESTIONS / ANSWERS
// =========================================================================

func TestPostAnswer(t *testing.T) {
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/answers", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 5036111111, "status": "ANSWERED"})
	})

	q, err := c.PostAnswer(context.Background(), "tok", "5036111111", "  Sim, temos.  ")
	require.NoError(t, err)
	assert.Equal(t, "ANSWERED", q.Status)
	assert.Equal(t, float64(5036111111), body["question_id"])
	assert.Equal(t, "Sim, temos.", body["text"])
}

func TestPostAnswer_RejectsEmptyTextWithoutCalling(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.PostAnswer(context.Background(), "tok", "1", "   ")
	assert.Error(t, err)
	assert.False(t, called)
}

func TestGetQuestion(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/questions/42", r.URL.Path)
		assert.Equal(t, "4", r.URL.Query().Get("api_version"))
		json.NewEncoder(w).Encode(map[string]any{
			"id": 42, "seller_id": 999, "item_id": "MLB1", "text": "Tem azul?", "status": "UNANSWERED",
		})
	})

	q, err := c.GetQuestion(context.Background(), "tok", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", q.IDString())
	assert.Equal(t, int64(999), q.SellerID)
	assert.Equal(t, QuestionStatusUnanswered, q.Status)
}

// =========================================================================
// SEARCH
// =========================================================================

func TestSearch_PublicAndClamped(t *testing.T) {
	var got *http.Request
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	})

	long := strings.Repeat("á", 150)
	_, err := c.Search(context.Background(), "", SearchQuery{Query: "  " + long + " ", Limit: 500})
	require.NoError(t, err)

	assert.Equal(t, "/sites/MLB/search", got.URL.Path)
	assert.Empty(t, got.Header.Get("Authorization"))
	assert.Equal(t, 100, len([]rune(got.URL.Query().Get("q"))))
	assert.Equal(t, "50", got.URL.Query().Get("limit"))
}
