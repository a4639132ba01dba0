package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/metrics"
	"github.com/permaroam/roamer/internal/discovery/resolve"
	"github.com/permaroam/roamer/internal/infra/gateway"
)

// TxSource is the paged range-query collaborator the queue pulls from.
type TxSource interface {
	TransactionsInRange(ctx context.Context, q gateway.RangeQuery) (*gateway.RangePage, error)
}

// ErrBusy is returned when Next is invoked while a previous Next is still in
// flight. Calls are single-flight; overlapping calls are rejected instead of
// racing shared window state.
var ErrBusy = errors.New("queue: fetch already in progress")

// Config holds the queue tunables.
type Config struct {
	// WindowSpan is the width of the sliding window in blocks.
	WindowSpan int64 `yaml:"window_span"`
	// FirstPage is the page size for the first fetch of a session, kept
	// small so the first item arrives fast.
	FirstPage int `yaml:"first_page"`
	// RefillPage is the page size for every later fetch.
	RefillPage int `yaml:"refill_page"`
	// MaxSlides bounds how many windows one Next call may try before
	// reporting "no content found".
	MaxSlides int `yaml:"max_slides"`
	// MaxEmptyPages bounds consecutive pages with no unseen survivor before
	// the window is considered exhausted.
	MaxEmptyPages int `yaml:"max_empty_pages"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	WindowSpan:    5000,
	FirstPage:     10,
	RefillPage:    40,
	MaxSlides:     5,
	MaxEmptyPages: 2,
}

// InitOptions carries deep-link parameters that bypass window derivation.
// InitialTxID is resolved into InitialTx by the navigation layer; the queue
// itself only consumes InitialTx.
type InitOptions struct {
	InitialTxID  string
	InitialTx    *domain.TransactionMeta
	MinBlock     int64
	MaxBlock     int64
	OwnerAddress string
	AppName      string
}

// Queue walks a sliding window over block-height space for one channel,
// serving previously unseen transactions one at a time. Next calls are
// single-flight; the seen set is shared with the owner and survives Init.
type Queue struct {
	cfg      Config
	source   TxSource
	resolver *resolve.Resolver
	seen     *SeenSet
	log      *slog.Logger
	randInt  func(n int64) int64

	inFlight atomic.Bool

	mu              sync.Mutex
	channel         domain.Channel
	window          domain.BlockRange
	cursor          string
	buffer          []domain.TransactionMeta
	hasMoreInWindow bool
	firstPageDone   bool
}

// New creates a queue over the given source and resolver. The seen set is
// caller-owned so that resets can be scoped independently of the queue.
func New(cfg Config, source TxSource, resolver *resolve.Resolver, seen *SeenSet, log *slog.Logger) *Queue {
	if cfg.WindowSpan <= 0 {
		cfg = DefaultConfig
	}
	return &Queue{
		cfg:      cfg,
		source:   source,
		resolver: resolver,
		seen:     seen,
		log:      log,
		randInt:  rand.Int64N,
	}
}

// Init starts a new session for the channel and returns the resolved window
// so the caller can reflect it (e.g. sync a date slider). Explicit bounds in
// opts win over recency-derived placement. The seen set is not cleared.
// Init never fails; absence of results surfaces later through Next.
func (q *Queue) Init(ctx context.Context, ch domain.Channel, opts InitOptions) domain.BlockRange {
	if opts.OwnerAddress != "" {
		ch.OwnerAddress = opts.OwnerAddress
	}
	if opts.AppName != "" {
		ch.AppName = opts.AppName
	}

	var window domain.BlockRange
	if opts.MinBlock >= 1 && opts.MaxBlock >= opts.MinBlock {
		window = domain.BlockRange{Min: opts.MinBlock, Max: opts.MaxBlock}
	} else if opts.InitialTx != nil && opts.InitialTx.BlockHeight >= 1 {
		// Deep link into one item: explore outward from its block.
		half := q.cfg.WindowSpan / 2
		window = domain.BlockRange{
			Min: opts.InitialTx.BlockHeight - half,
			Max: opts.InitialTx.BlockHeight + half,
		}
		if window.Min < 1 {
			window.Min = 1
		}
	} else {
		tip := q.resolver.RefreshAnchor(ctx)
		if ch.Recency == domain.RecencyOld {
			window = q.randomWindow(tip)
		} else {
			window = domain.BlockRange{Min: tip - q.cfg.WindowSpan, Max: tip}
			if window.Min < 1 {
				window.Min = 1
			}
		}
	}

	q.mu.Lock()
	q.channel = ch
	q.window = window
	q.cursor = ""
	q.buffer = q.buffer[:0]
	q.hasMoreInWindow = true
	q.firstPageDone = false
	if opts.InitialTx != nil {
		// Deep link: the linked item is served first.
		q.buffer = append(q.buffer, *opts.InitialTx)
	}
	q.mu.Unlock()

	metrics.WindowMin.Set(float64(window.Min))
	metrics.WindowMax.Set(float64(window.Max))
	q.log.Debug("queue initialized",
		"media", ch.Media, "recency", ch.Recency,
		"window_min", window.Min, "window_max", window.Max)
	return window
}

// Next returns the next unseen transaction for the session, fetching and
// sliding the window as needed. (nil, nil) means no content was found after
// the bounded slide attempts: a normal result, not an error. Transport
// errors propagate unretried so the caller owns retry policy and messaging.
func (q *Queue) Next(ctx context.Context) (*domain.TransactionMeta, error) {
	if !q.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer q.inFlight.Store(false)

	q.mu.Lock()
	defer q.mu.Unlock()

	slides := 0
	emptyPages := 0
	for {
		if tx := q.popUnseen(); tx != nil {
			return tx, nil
		}

		if q.hasMoreInWindow && emptyPages < q.cfg.MaxEmptyPages {
			survivors, err := q.fetchPage(ctx)
			if err != nil {
				return nil, err
			}
			if survivors == 0 {
				emptyPages++
			}
			continue
		}

		if slides >= q.cfg.MaxSlides {
			q.log.Debug("window slides exhausted", "slides", slides)
			return nil, nil
		}
		q.slide(ctx)
		slides++
		emptyPages = 0
	}
}

// MarkSeen records an ID so it is never served again this session. Called
// when the item is actually surfaced to the user, not when it is fetched.
func (q *Queue) MarkSeen(id string) {
	q.seen.Add(id)
}

// Window returns the current search window.
func (q *Queue) Window() domain.BlockRange {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.window
}

// Reset clears the seen set and all window state, for an explicit
// "start over" action.
func (q *Queue) Reset() {
	q.seen.Clear()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cursor = ""
	q.buffer = q.buffer[:0]
	q.hasMoreInWindow = true
	q.firstPageDone = false
}

// popUnseen pops buffered candidates until one survives the seen filter.
// Callers hold q.mu.
func (q *Queue) popUnseen() *domain.TransactionMeta {
	for len(q.buffer) > 0 {
		tx := q.buffer[0]
		q.buffer = q.buffer[1:]
		if q.seen.Contains(tx.ID) {
			metrics.SeenFiltered.Inc()
			continue
		}
		return &tx
	}
	return nil
}

// fetchPage pulls one page for the current window and buffers unseen
// candidates, returning how many survived. Callers hold q.mu.
func (q *Queue) fetchPage(ctx context.Context) (int, error) {
	size := q.cfg.RefillPage
	if !q.firstPageDone {
		size = q.cfg.FirstPage
	}

	page, err := q.source.TransactionsInRange(ctx, gateway.RangeQuery{
		Media:        q.channel.Media,
		MinBlock:     q.window.Min,
		MaxBlock:     q.window.Max,
		OwnerAddress: q.channel.OwnerAddress,
		AppName:      q.channel.AppName,
		PageSize:     size,
		Cursor:       q.cursor,
	})
	if err != nil {
		return 0, err
	}

	q.firstPageDone = true
	q.cursor = page.Cursor
	q.hasMoreInWindow = page.HasMore

	survivors := 0
	for _, tx := range page.Txs {
		if q.seen.Contains(tx.ID) {
			metrics.SeenFiltered.Inc()
			continue
		}
		q.buffer = append(q.buffer, tx)
		survivors++
	}
	return survivors, nil
}

// slide moves the window once the current one is exhausted: "new" channels
// step one span further into the past, "old" channels draw a fresh random
// window. Callers hold q.mu.
func (q *Queue) slide(ctx context.Context) {
	if q.channel.Recency == domain.RecencyOld {
		q.window = q.randomWindow(q.resolver.RefreshAnchor(ctx))
	} else {
		span := q.cfg.WindowSpan
		next := domain.BlockRange{Min: q.window.Min - span, Max: q.window.Min - 1}
		if next.Max < 1 {
			next = domain.BlockRange{Min: 1, Max: span}
		} else if next.Min < 1 {
			next.Min = 1
		}
		q.window = next
	}
	q.cursor = ""
	q.hasMoreInWindow = true

	metrics.WindowSlides.WithLabelValues(string(q.channel.Recency)).Inc()
	metrics.WindowMin.Set(float64(q.window.Min))
	metrics.WindowMax.Set(float64(q.window.Max))
	q.log.Debug("window slid", "recency", q.channel.Recency,
		"window_min", q.window.Min, "window_max", q.window.Max)
}

// randomWindow draws a span-sized window uniformly within [1, tip].
func (q *Queue) randomWindow(tip int64) domain.BlockRange {
	span := q.cfg.WindowSpan
	if tip <= span+1 {
		return domain.BlockRange{Min: 1, Max: tip}
	}
	min := 1 + q.randInt(tip-span)
	return domain.BlockRange{Min: min, Max: min + span}
}
