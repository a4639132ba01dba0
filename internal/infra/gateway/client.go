package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/metrics"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrNotFound is returned for 404 responses (e.g. a block height that
	// does not exist yet).
	ErrNotFound = errors.New("gateway: not found")

	// ErrMalformed is returned when a response parses but is missing
	// required fields. It counts as a failure of that single fetch.
	ErrMalformed = errors.New("gateway: malformed response")

	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("gateway: rate limited")
)

// Config holds gateway connection configuration.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to an Arweave gateway: /info and /block/height point lookups
// over plain HTTP, and the transactions range query over GraphQL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	mu           sync.RWMutex
	totalLatency time.Duration
	successCount int
	failureCount int
}

// NewClient creates a gateway client with a tuned transport.
func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log,
	}
}

// networkInfo mirrors the gateway /info document.
type networkInfo struct {
	Network string `json:"network"`
	Height  int64  `json:"height"`
	Blocks  int64  `json:"blocks"`
}

// CurrentHeight returns the gateway's view of the chain tip.
func (c *Client) CurrentHeight(ctx context.Context) (int64, error) {
	var info networkInfo
	if err := c.getJSON(ctx, "/info", &info); err != nil {
		return 0, err
	}
	if info.Height < 1 {
		return 0, fmt.Errorf("%w: info height %d", ErrMalformed, info.Height)
	}
	metrics.ChainTip.Set(float64(info.Height))
	return info.Height, nil
}

// BlockByHeight fetches a single block header. Timestamps are whole seconds.
func (c *Client) BlockByHeight(ctx context.Context, height int64) (*domain.BlockInfo, error) {
	if height < 1 {
		return nil, fmt.Errorf("%w: height %d", ErrMalformed, height)
	}
	var blk struct {
		Height    int64 `json:"height"`
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/block/height/%d", height), &blk); err != nil {
		return nil, err
	}
	if blk.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: block %d has no timestamp", ErrMalformed, height)
	}
	if blk.Height == 0 {
		blk.Height = height
	}
	return &domain.BlockInfo{Height: blk.Height, Timestamp: blk.Timestamp}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path, accept string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		metrics.GatewayErrors.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.GatewayCalls.WithLabelValues("http").Inc()
	metrics.GatewayLatency.WithLabelValues("http").Observe(latency.Seconds())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.recordFailure()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.recordFailure()
		metrics.GatewayErrors.WithLabelValues("rate_limit").Inc()
		return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		c.recordFailure()
		metrics.GatewayErrors.WithLabelValues("http").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.recordSuccess(latency)
	return body, nil
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCount++
	c.totalLatency += latency
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
}

// Stats returns request counters since startup, for the health endpoint.
func (c *Client) Stats() (successes, failures int, avgLatency time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.successCount > 0 {
		avgLatency = c.totalLatency / time.Duration(c.successCount)
	}
	return c.successCount, c.failureCount, avgLatency
}
