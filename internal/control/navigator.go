package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/permaroam/roamer/internal/api"
	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/metrics"
	"github.com/permaroam/roamer/internal/discovery/queue"
	"github.com/permaroam/roamer/internal/discovery/resolve"
)

// maxFailStreak is how many consecutive transport failures Next tolerates
// before auto-advance is halted until the user explicitly acts, so a down
// gateway is not hammered.
const maxFailStreak = 3

// ErrGatewayDegraded is returned by Next once the failure streak trips.
// AcknowledgeFailures re-arms auto-advance.
var ErrGatewayDegraded = errors.New("gateway degraded: too many consecutive failures, explicit retry required")

// navigator implements api.Navigator on top of the Roamer's components. It
// owns the "Next replays forward history before pulling fresh content"
// policy and the reset taxonomy.
type navigator struct {
	r *Roamer

	mu         sync.Mutex
	channel    domain.Channel
	failStreak int
}

// InitChannel starts a new exploration session for the channel and returns
// the resolved window. The seen set is kept unless the caller resets it.
func (n *navigator) InitChannel(ctx context.Context, ch domain.Channel, opts queue.InitOptions) domain.BlockRange {
	if opts.InitialTx == nil && opts.InitialTxID != "" {
		tx, err := n.r.gateway.TransactionByID(ctx, opts.InitialTxID)
		if err != nil {
			n.r.log.Warn("deep link transaction lookup failed", "id", opts.InitialTxID, "error", err)
		} else {
			opts.InitialTx = tx
		}
	}

	n.mu.Lock()
	n.channel = ch
	n.failStreak = 0
	n.mu.Unlock()
	return n.r.queue.Init(ctx, ch, opts)
}

// Next returns the next item: forward history when present, else a fresh
// pull from the discovery queue. Fresh items are marked seen and appended to
// history. (nil, nil) means no content found.
func (n *navigator) Next(ctx context.Context) (*domain.TransactionMeta, error) {
	if n.r.history.PeekForward() != nil {
		return n.r.history.Forward(ctx), nil
	}

	n.mu.Lock()
	halted := n.failStreak >= maxFailStreak
	media := n.channel.Media
	n.mu.Unlock()
	if halted {
		return nil, ErrGatewayDegraded
	}

	tx, err := n.r.queue.Next(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrBusy) {
			return nil, err
		}
		n.mu.Lock()
		n.failStreak++
		streak := n.failStreak
		n.mu.Unlock()
		if streak >= maxFailStreak {
			n.r.log.Warn("auto-advance halted", "failures", streak, "error", err)
		}
		return nil, err
	}

	n.mu.Lock()
	n.failStreak = 0
	n.mu.Unlock()

	if tx == nil {
		return nil, nil
	}

	if tx.IsFileEntry() {
		if fm, err := n.r.gateway.ResolveFileMeta(ctx, tx); err == nil {
			tx.File = fm
		} else {
			n.r.log.Debug("file entry metadata unavailable", "id", tx.ID, "error", err)
		}
	}

	n.r.queue.MarkSeen(tx.ID)
	n.r.history.Add(ctx, *tx)
	metrics.TxsServed.WithLabelValues(string(media)).Inc()
	return tx, nil
}

// Back replays the previous item from history; nil at the start.
func (n *navigator) Back(ctx context.Context) *domain.TransactionMeta {
	return n.r.history.Back(ctx)
}

// Forward replays the next item from history; nil at the end.
func (n *navigator) Forward(ctx context.Context) *domain.TransactionMeta {
	return n.r.history.Forward(ctx)
}

// PeekForward looks ahead without moving.
func (n *navigator) PeekForward() *domain.TransactionMeta {
	return n.r.history.PeekForward()
}

// AcknowledgeFailures re-arms auto-advance after ErrGatewayDegraded.
func (n *navigator) AcknowledgeFailures() {
	n.mu.Lock()
	n.failStreak = 0
	n.mu.Unlock()
}

// ResolveDateRange maps a calendar day to a block range.
func (n *navigator) ResolveDateRange(ctx context.Context, date time.Time, exact bool) domain.BlockRange {
	return n.r.resolver.ResolveDateRange(ctx, date, exact)
}

// ResolveDateRangeSpan maps a calendar span to a block range.
func (n *navigator) ResolveDateRangeSpan(ctx context.Context, start, end time.Time, exact bool) domain.BlockRange {
	return n.r.resolver.ResolveDateRangeSpan(ctx, start, end, exact)
}

// BlockRangeToDates maps block heights back to wall-clock dates.
func (n *navigator) BlockRangeToDates(ctx context.Context, minBlock, maxBlock int64) (*resolve.DateSpan, error) {
	return n.r.resolver.BlockRangeToDates(ctx, minBlock, maxBlock)
}

// Reset applies one scope of the reset taxonomy: "seen" clears only the
// seen-id set (fresh shuffle), "history" empties the back/forward stack,
// "caches" invalidates the resolver tiers, "all" does everything.
func (n *navigator) Reset(ctx context.Context, scope string) error {
	switch scope {
	case "seen":
		n.r.seen.Clear()
	case "history":
		n.r.history.Reset(ctx)
	case "caches":
		n.r.resolver.InvalidateCaches()
	case "all":
		n.r.queue.Reset()
		n.r.history.Reset(ctx)
		n.r.resolver.InvalidateCaches()
		n.AcknowledgeFailures()
	default:
		return errors.New("unknown reset scope: " + scope)
	}
	n.r.log.Info("reset applied", "scope", scope)
	return nil
}

// Status reports the session state for the status endpoint.
func (n *navigator) Status() api.Status {
	n.mu.Lock()
	ch := n.channel
	streak := n.failStreak
	n.mu.Unlock()

	successes, failures, avgLatency := n.r.gateway.Stats()
	return api.Status{
		SessionID:      n.r.sessionID,
		Channel:        ch,
		Window:         n.r.queue.Window(),
		HistoryLen:     n.r.history.Len(),
		SeenCount:      n.r.seen.Size(),
		FailStreak:     streak,
		GatewayOK:      successes,
		GatewayErrors:  failures,
		GatewayLatency: avgLatency.String(),
	}
}
