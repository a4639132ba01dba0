package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/metrics"
)

// RangeQuery describes one page of a windowed transactions query. Owner and
// app-name filters are applied server-side, verbatim.
type RangeQuery struct {
	Media        domain.MediaKind
	MinBlock     int64
	MaxBlock     int64
	OwnerAddress string
	AppName      string
	PageSize     int
	Cursor       string // resume point within the window, "" for the first page
}

// RangePage is one page of matching transactions.
type RangePage struct {
	Txs     []domain.TransactionMeta
	HasMore bool
	Cursor  string // pass back in the next RangeQuery to continue
}

const txRangeQuery = `query TxRange($min: Int!, $max: Int!, $first: Int!, $after: String, $owners: [String!], $tags: [TagFilter!]) {
  transactions(block: {min: $min, max: $max}, owners: $owners, tags: $tags, first: $first, after: $after, sort: HEIGHT_DESC) {
    pageInfo { hasNextPage }
    edges {
      cursor
      node {
        id
        owner { address }
        data { size type }
        tags { name value }
        block { height timestamp }
        bundledIn { id }
      }
    }
  }
}`

type tagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlTxResponse struct {
	Data struct {
		Transactions struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Edges []struct {
				Cursor string `json:"cursor"`
				Node   struct {
					ID    string `json:"id"`
					Owner struct {
						Address string `json:"address"`
					} `json:"owner"`
					Data struct {
						Size string `json:"size"`
						Type string `json:"type"`
					} `json:"data"`
					Tags []struct {
						Name  string `json:"name"`
						Value string `json:"value"`
					} `json:"tags"`
					Block *struct {
						Height    int64 `json:"height"`
						Timestamp int64 `json:"timestamp"`
					} `json:"block"`
					BundledIn *struct {
						ID string `json:"id"`
					} `json:"bundledIn"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// TransactionsInRange runs one page of the GraphQL range query. Transport
// errors are returned unretried; the caller owns retry policy.
func (c *Client) TransactionsInRange(ctx context.Context, q RangeQuery) (*RangePage, error) {
	vars := map[string]any{
		"min":   q.MinBlock,
		"max":   q.MaxBlock,
		"first": q.PageSize,
	}
	if q.Cursor != "" {
		vars["after"] = q.Cursor
	}
	if q.OwnerAddress != "" {
		vars["owners"] = []string{q.OwnerAddress}
	}
	var tags []tagFilter
	if cts := q.Media.ContentTypes(); len(cts) > 0 {
		tags = append(tags, tagFilter{Name: "Content-Type", Values: cts})
	}
	if q.AppName != "" {
		tags = append(tags, tagFilter{Name: "App-Name", Values: []string{q.AppName}})
	}
	if len(tags) > 0 {
		vars["tags"] = tags
	}

	var resp gqlTxResponse
	if err := c.postGraphQL(ctx, gqlRequest{Query: txRangeQuery, Variables: vars}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql: %s", ErrMalformed, resp.Errors[0].Message)
	}

	edges := resp.Data.Transactions.Edges
	page := &RangePage{
		Txs:     make([]domain.TransactionMeta, 0, len(edges)),
		HasMore: resp.Data.Transactions.PageInfo.HasNextPage,
	}
	for _, e := range edges {
		// The cursor tracks every edge, skipped or kept, so the next page
		// never replays entries this one already covered.
		page.Cursor = e.Cursor
		n := e.Node
		if n.ID == "" || n.Block == nil {
			// Pending or partially indexed entries carry no block; skip them
			// rather than fail the page.
			continue
		}
		tx := domain.TransactionMeta{
			ID:             n.ID,
			OwnerAddress:   n.Owner.Address,
			BlockHeight:    n.Block.Height,
			BlockTimestamp: n.Block.Timestamp,
			DataSize:       parseSize(n.Data.Size),
			ContentType:    n.Data.Type,
		}
		for _, t := range n.Tags {
			tx.Tags = append(tx.Tags, domain.Tag{Name: t.Name, Value: t.Value})
		}
		if n.BundledIn != nil {
			tx.BundledIn = n.BundledIn.ID
		}
		page.Txs = append(page.Txs, tx)
	}
	metrics.PagesFetched.Inc()
	return page, nil
}

const txByIDQuery = `query TxByID($id: ID!) {
  transaction(id: $id) {
    id
    owner { address }
    data { size type }
    tags { name value }
    block { height timestamp }
    bundledIn { id }
  }
}`

type gqlTxByIDResponse struct {
	Data struct {
		Transaction *struct {
			ID    string `json:"id"`
			Owner struct {
				Address string `json:"address"`
			} `json:"owner"`
			Data struct {
				Size string `json:"size"`
				Type string `json:"type"`
			} `json:"data"`
			Tags []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"tags"`
			Block *struct {
				Height    int64 `json:"height"`
				Timestamp int64 `json:"timestamp"`
			} `json:"block"`
			BundledIn *struct {
				ID string `json:"id"`
			} `json:"bundledIn"`
		} `json:"transaction"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// TransactionByID fetches the metadata of a single transaction, for deep
// links that jump directly to a known item.
func (c *Client) TransactionByID(ctx context.Context, id string) (*domain.TransactionMeta, error) {
	var resp gqlTxByIDResponse
	req := gqlRequest{Query: txByIDQuery, Variables: map[string]any{"id": id}}
	if err := c.postGraphQL(ctx, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql: %s", ErrMalformed, resp.Errors[0].Message)
	}
	n := resp.Data.Transaction
	if n == nil || n.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	tx := &domain.TransactionMeta{
		ID:           n.ID,
		OwnerAddress: n.Owner.Address,
		DataSize:     parseSize(n.Data.Size),
		ContentType:  n.Data.Type,
	}
	if n.Block != nil {
		tx.BlockHeight = n.Block.Height
		tx.BlockTimestamp = n.Block.Timestamp
	}
	for _, t := range n.Tags {
		tx.Tags = append(tx.Tags, domain.Tag{Name: t.Name, Value: t.Value})
	}
	if n.BundledIn != nil {
		tx.BundledIn = n.BundledIn.ID
	}
	return tx, nil
}

func (c *Client) postGraphQL(ctx context.Context, req gqlRequest, out any) error {
	start := time.Now()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure()
		metrics.GatewayErrors.WithLabelValues("transport").Inc()
		return fmt.Errorf("graphql call: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.GatewayCalls.WithLabelValues("graphql").Inc()
	metrics.GatewayLatency.WithLabelValues("graphql").Observe(latency.Seconds())

	if resp.StatusCode == http.StatusTooManyRequests {
		c.recordFailure()
		metrics.GatewayErrors.WithLabelValues("rate_limit").Inc()
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		c.recordFailure()
		metrics.GatewayErrors.WithLabelValues("http").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graphql http %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	c.recordSuccess(latency)
	return nil
}

// parseSize converts the string-encoded data size the GraphQL schema uses.
func parseSize(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
