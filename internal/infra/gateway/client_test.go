package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/permaroam/roamer/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{URL: srv.URL, Timeout: 5 * time.Second}, testLogger())
	return c, srv
}

func TestCurrentHeight(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"network": "arweave.N.1", "height": 1680000, "blocks": 1680001})
	}))

	h, err := c.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("CurrentHeight: %v", err)
	}
	if h != 1680000 {
		t.Errorf("expected height 1680000, got %d", h)
	}
}

func TestCurrentHeight_MalformedInfo(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"network": "arweave.N.1"})
	}))

	_, err := c.CurrentHeight(context.Background())
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for missing height, got %v", err)
	}
}

func TestBlockByHeight(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/block/height/1500000" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"height": 1500000, "timestamp": 1735689600})
	}))

	blk, err := c.BlockByHeight(context.Background(), 1500000)
	if err != nil {
		t.Fatalf("BlockByHeight: %v", err)
	}
	if blk.Height != 1500000 || blk.Timestamp != 1735689600 {
		t.Errorf("unexpected block %+v", blk)
	}
}

func TestBlockByHeight_NotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := c.BlockByHeight(context.Background(), 99999999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockByHeight_MissingTimestamp(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"height": 10})
	}))

	_, err := c.BlockByHeight(context.Background(), 10)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestGet_RateLimited(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.CurrentHeight(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestStats_CountsOutcomes(t *testing.T) {
	fail := false
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"height": 100})
	}))

	if _, err := c.CurrentHeight(context.Background()); err != nil {
		t.Fatalf("warmup call: %v", err)
	}
	fail = true
	if _, err := c.CurrentHeight(context.Background()); err == nil {
		t.Fatal("expected an error")
	}

	succ, failures, _ := c.Stats()
	if succ != 1 || failures != 1 {
		t.Errorf("expected 1 success and 1 failure, got %d/%d", succ, failures)
	}
}

func TestTransactionsInRange(t *testing.T) {
	var gotVars map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotVars = req.Variables

		io.WriteString(w, `{"data":{"transactions":{
			"pageInfo":{"hasNextPage":true},
			"edges":[
				{"cursor":"c1","node":{
					"id":"tx1","owner":{"address":"addr1"},
					"data":{"size":"2048","type":"image/png"},
					"tags":[{"name":"Content-Type","value":"image/png"}],
					"block":{"height":1500100,"timestamp":1735689600},
					"bundledIn":{"id":"bundle1"}}},
				{"cursor":"c2","node":{
					"id":"pending","owner":{"address":"addr2"},
					"data":{"size":"1","type":"image/png"},
					"tags":[],"block":null,"bundledIn":null}},
				{"cursor":"c3","node":{
					"id":"tx3","owner":{"address":"addr3"},
					"data":{"size":"not-a-number","type":"image/jpeg"},
					"tags":[],
					"block":{"height":1500050,"timestamp":1735683600},
					"bundledIn":null}}
			]}}}`)
	}))

	page, err := c.TransactionsInRange(context.Background(), RangeQuery{
		Media:        domain.MediaImages,
		MinBlock:     1500000,
		MaxBlock:     1505000,
		OwnerAddress: "addr1",
		PageSize:     10,
	})
	if err != nil {
		t.Fatalf("TransactionsInRange: %v", err)
	}

	// Pending entry without a block is skipped, not an error.
	if len(page.Txs) != 2 {
		t.Fatalf("expected 2 txs, got %d", len(page.Txs))
	}
	if page.Txs[0].ID != "tx1" || page.Txs[0].BundledIn != "bundle1" || page.Txs[0].DataSize != 2048 {
		t.Errorf("unexpected first tx %+v", page.Txs[0])
	}
	if page.Txs[1].DataSize != 0 {
		t.Errorf("unparseable size should read 0, got %d", page.Txs[1].DataSize)
	}
	if !page.HasMore {
		t.Error("expected HasMore")
	}
	if page.Cursor != "c3" {
		t.Errorf("cursor should be the last edge, got %q", page.Cursor)
	}

	if gotVars["min"].(float64) != 1500000 || gotVars["max"].(float64) != 1505000 {
		t.Errorf("window bounds not passed through: %v", gotVars)
	}
	if _, ok := gotVars["owners"]; !ok {
		t.Error("owner filter not passed through")
	}
	if _, ok := gotVars["tags"]; !ok {
		t.Error("content-type tag filter not passed through")
	}
}

func TestTransactionsInRange_PendingOnlyPageAdvancesCursor(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"transactions":{
			"pageInfo":{"hasNextPage":true},
			"edges":[
				{"cursor":"c1","node":{"id":"p1","owner":{"address":"a"},"data":{"size":"1","type":"image/png"},"tags":[],"block":null,"bundledIn":null}},
				{"cursor":"c2","node":{"id":"p2","owner":{"address":"a"},"data":{"size":"1","type":"image/png"},"tags":[],"block":null,"bundledIn":null}}
			]}}}`)
	}))

	page, err := c.TransactionsInRange(context.Background(), RangeQuery{Media: domain.MediaImages, MinBlock: 1, MaxBlock: 100, PageSize: 2})
	if err != nil {
		t.Fatalf("TransactionsInRange: %v", err)
	}
	if len(page.Txs) != 0 {
		t.Fatalf("expected all entries skipped, got %d", len(page.Txs))
	}
	// Even with every edge skipped the cursor moves forward, so paging never
	// replays the window from its first page.
	if page.Cursor != "c2" {
		t.Errorf("cursor should advance over skipped edges, got %q", page.Cursor)
	}
}

func TestTransactionsInRange_GraphQLError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[{"message":"query too deep"}]}`)
	}))

	_, err := c.TransactionsInRange(context.Background(), RangeQuery{Media: domain.MediaEverything, MinBlock: 1, MaxBlock: 2, PageSize: 1})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for graphql errors, got %v", err)
	}
}

func TestTransactionByID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"transaction":{
			"id":"tx1","owner":{"address":"addr1"},
			"data":{"size":"100","type":"text/html"},
			"tags":[{"name":"App-Name","value":"ArDrive"}],
			"block":{"height":1500000,"timestamp":1735689600},
			"bundledIn":null}}}`)
	}))

	tx, err := c.TransactionByID(context.Background(), "tx1")
	if err != nil {
		t.Fatalf("TransactionByID: %v", err)
	}
	if tx.ID != "tx1" || tx.BlockHeight != 1500000 || tx.ContentType != "text/html" {
		t.Errorf("unexpected tx %+v", tx)
	}
}

func TestTransactionByID_Unknown(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"transaction":null}}`)
	}))

	_, err := c.TransactionByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveFileMeta(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/filetx" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"name":"photo.png","size":4096,"dataTxId":"datatx","dataContentType":"image/png"}`)
	}))

	tx := &domain.TransactionMeta{
		ID:          "filetx",
		ContentType: "application/json",
		Tags: []domain.Tag{
			{Name: "Entity-Type", Value: "file"},
			{Name: "App-Name", Value: "ArDrive"},
		},
	}
	meta, err := c.ResolveFileMeta(context.Background(), tx)
	if err != nil {
		t.Fatalf("ResolveFileMeta: %v", err)
	}
	if meta == nil || meta.Name != "photo.png" || meta.DataTxID != "datatx" || meta.ContentType != "image/png" {
		t.Errorf("unexpected file meta %+v", meta)
	}
}

func TestResolveFileMeta_NotAFileEntry(t *testing.T) {
	called := false
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tx := &domain.TransactionMeta{ID: "plain", ContentType: "image/png"}
	meta, err := c.ResolveFileMeta(context.Background(), tx)
	if err != nil || meta != nil {
		t.Errorf("expected nil, nil for a plain tx, got %+v, %v", meta, err)
	}
	if called {
		t.Error("no gateway call should be made for a plain tx")
	}
}

func TestResolveFileMeta_MissingDataTx(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"orphan.png","size":1}`)
	}))

	tx := &domain.TransactionMeta{
		ID:          "filetx",
		ContentType: "application/json",
		Tags:        []domain.Tag{{Name: "Entity-Type", Value: "file"}},
	}
	_, err := c.ResolveFileMeta(context.Background(), tx)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDoWithRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := DoWithRetry(context.Background(), DefaultRetryConfig, func(ctx context.Context) error {
		calls++
		return ErrMalformed
	})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

func TestDoWithRetry_RetriesTransient(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1.0}
	calls := 0
	err := DoWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoWithRetry_Exhausted(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 1.0}
	transient := errors.New("timeout")
	calls := 0
	err := DoWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}
