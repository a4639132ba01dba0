package resolve

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/metrics"
)

// BlockSource is the network collaborator resolution runs against.
type BlockSource interface {
	CurrentHeight(ctx context.Context) (int64, error)
	BlockByHeight(ctx context.Context, height int64) (*domain.BlockInfo, error)
}

// Direction selects which side of the target a timestamp search narrows
// toward.
type Direction int

const (
	// FirstAfter finds the first block mined at or after the target time.
	FirstAfter Direction = iota
	// LastBefore finds the last block mined at or before the target time.
	LastBefore
)

const (
	// averageBlockInterval is the constant extrapolation rate.
	averageBlockInterval = 2 * time.Minute

	// anchorTTL bounds how stale the chain-tip anchor may get before the
	// hardcoded fallback takes over.
	anchorTTL = time.Hour

	// blockTimeTTL expires raw block-timestamp entries. Chain timestamps are
	// immutable; expiry bounds memory and lets a fresher gateway serve later
	// lookups.
	blockTimeTTL = 6 * time.Hour

	maxProbes        = 8
	bracketTolerance = 500 // blocks, roughly 17h of chain time
	closeEnough      = 6 * time.Hour
	maxDrift         = 24 * time.Hour

	// Future dates resolve to a recent window held back from the tip, so the
	// queue never queries blocks that do not exist yet.
	futureSafetyLag  = 15
	futureWindowSpan = 720
)

// Shipped historical anchor, used until the tip has been observed at least
// once. Height and timestamp must describe the same block.
const (
	fallbackAnchorHeight    int64 = 1664000
	fallbackAnchorTimestamp int64 = 1755604800 // 2025-08-19T12:00:00Z
)

// Resolver answers "what block corresponds to this time" and the reverse,
// approximately without I/O or exactly against the gateway. It never returns
// an error from range resolution; network failure degrades to estimation.
type Resolver struct {
	source BlockSource
	log    *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	anchor     anchorState
	dateCache  map[string]domain.BlockRange
	blockCache map[int64]blockEntry
}

type anchorState struct {
	height    int64
	timestamp int64
	fetchedAt time.Time
}

type blockEntry struct {
	timestamp int64
	fetchedAt time.Time
}

// DateSpan is the wall-clock image of a block range.
type DateSpan struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New creates a resolver over the given block source.
func New(source BlockSource, log *slog.Logger) *Resolver {
	return &Resolver{
		source:     source,
		log:        log,
		now:        time.Now,
		dateCache:  make(map[string]domain.BlockRange),
		blockCache: make(map[int64]blockEntry),
	}
}

// RefreshAnchor opportunistically refreshes the chain-tip anchor and returns
// the current tip height. On network failure it returns the best anchor
// available instead of an error.
func (r *Resolver) RefreshAnchor(ctx context.Context) int64 {
	r.mu.Lock()
	a := r.anchor
	r.mu.Unlock()

	if a.height > 0 && r.now().Sub(a.fetchedAt) < anchorTTL {
		return a.height
	}

	tip, err := r.source.CurrentHeight(ctx)
	if err != nil {
		r.log.Warn("chain tip refresh failed, using anchor fallback", "error", err)
		h, _ := r.anchorValues()
		return h
	}

	r.mu.Lock()
	r.anchor = anchorState{height: tip, timestamp: r.now().Unix(), fetchedAt: r.now()}
	r.mu.Unlock()
	return tip
}

// WarmAnchor fetches the tip and seeds the anchor unconditionally, bypassing
// the TTL. Startup wraps it in its retry policy; RefreshAnchor then serves
// from the warmed anchor.
func (r *Resolver) WarmAnchor(ctx context.Context) error {
	tip, err := r.source.CurrentHeight(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.anchor = anchorState{height: tip, timestamp: r.now().Unix(), fetchedAt: r.now()}
	r.mu.Unlock()
	return nil
}

// anchorValues returns the extrapolation anchor: the cached tip when fresh,
// else the shipped historical pair.
func (r *Resolver) anchorValues() (height, timestamp int64) {
	r.mu.Lock()
	a := r.anchor
	r.mu.Unlock()

	if a.height > 0 && r.now().Sub(a.fetchedAt) < anchorTTL {
		return a.height, a.timestamp
	}
	return fallbackAnchorHeight, fallbackAnchorTimestamp
}

// EstimateBlock linearly extrapolates a block height for the given time from
// the anchor. No I/O, never fails, monotonic in t, floored at block 1.
func (r *Resolver) EstimateBlock(t time.Time) int64 {
	height, ts := r.anchorValues()
	deltaBlocks := (ts - t.Unix()) / int64(averageBlockInterval.Seconds())
	// Round half away from the anchor.
	rem := (ts - t.Unix()) % int64(averageBlockInterval.Seconds())
	if rem*2 >= int64(averageBlockInterval.Seconds()) {
		deltaBlocks++
	} else if rem*2 <= -int64(averageBlockInterval.Seconds()) {
		deltaBlocks--
	}
	est := height - deltaBlocks
	if est < 1 {
		est = 1
	}
	return est
}

// blockTimestamp returns the timestamp of a block height, through the TTL
// cache.
func (r *Resolver) blockTimestamp(ctx context.Context, height int64) (int64, error) {
	r.mu.Lock()
	e, ok := r.blockCache[height]
	r.mu.Unlock()
	if ok && r.now().Sub(e.fetchedAt) < blockTimeTTL {
		metrics.CacheHits.WithLabelValues("block_time").Inc()
		return e.timestamp, nil
	}
	metrics.CacheMisses.WithLabelValues("block_time").Inc()

	blk, err := r.source.BlockByHeight(ctx, height)
	if err != nil {
		return 0, err
	}
	metrics.ResolverProbes.Inc()

	r.mu.Lock()
	r.blockCache[height] = blockEntry{timestamp: blk.Timestamp, fetchedAt: r.now()}
	r.mu.Unlock()
	return blk.Timestamp, nil
}

// ResolveBlockForTimestamp binary-searches [1, tip] for the block matching
// the target time. The search stops early once the bracket is narrow or a
// probe lands close enough, and is hard-capped at a few probes to bound
// network cost. Any mid-search failure degrades to estimation. Never < 1.
func (r *Resolver) ResolveBlockForTimestamp(ctx context.Context, target time.Time, dir Direction) int64 {
	h, _ := r.searchBlockForTimestamp(ctx, target, dir)
	return h
}

// searchBlockForTimestamp additionally reports whether the result came from
// probing the chain. false means the search degraded to pure estimation.
func (r *Resolver) searchBlockForTimestamp(ctx context.Context, target time.Time, dir Direction) (int64, bool) {
	tip := r.RefreshAnchor(ctx)
	if tip < 1 {
		return r.EstimateBlock(target), false
	}

	targetSec := target.Unix()
	lo, hi := int64(1), tip
	probes := 0

	var bestHeight int64
	bestDrift := int64(-1)

	for hi-lo > bracketTolerance && probes < maxProbes {
		mid := lo + (hi-lo)/2
		ts, err := r.blockTimestamp(ctx, mid)
		if err != nil {
			r.log.Warn("timestamp search degraded to estimation", "height", mid, "error", err)
			return r.EstimateBlock(target), false
		}
		probes++

		drift := ts - targetSec
		if drift < 0 {
			drift = -drift
		}
		if bestDrift < 0 || drift < bestDrift {
			bestDrift = drift
			bestHeight = mid
		}
		if drift <= int64(closeEnough.Seconds()) {
			return mid, true
		}

		if ts < targetSec {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	// No probe landed near the target; trust the closest candidate seen over
	// an unverified bracket edge.
	if bestDrift > int64(maxDrift.Seconds()) {
		if bestHeight < 1 {
			bestHeight = 1
		}
		return bestHeight, true
	}

	candidate := hi
	if dir == LastBefore {
		candidate = lo
	}
	if candidate < 1 {
		candidate = 1
	}
	return candidate, true
}

// ResolveDateRange maps a UTC calendar day onto a block range. Exact mode
// runs two timestamp searches (day start, day end); otherwise the range is
// estimated. The result is always usable: future days short-circuit to a
// recent safe window, invalid search results fall back to estimation, and
// successful resolutions are cached by date key for the session.
func (r *Resolver) ResolveDateRange(ctx context.Context, date time.Time, exact bool) domain.BlockRange {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24*time.Hour - time.Second)
	key := dayStart.Format("2006-01-02")

	r.mu.Lock()
	cached, ok := r.dateCache[key]
	r.mu.Unlock()
	if ok {
		metrics.CacheHits.WithLabelValues("date_range").Inc()
		return cached
	}
	metrics.CacheMisses.WithLabelValues("date_range").Inc()

	if dayStart.After(r.now()) {
		tip := r.RefreshAnchor(ctx)
		rng := domain.BlockRange{Min: tip - futureSafetyLag - futureWindowSpan, Max: tip - futureSafetyLag}
		if rng.Min < 1 {
			rng.Min = 1
		}
		if rng.Max < rng.Min {
			rng.Max = rng.Min
		}
		// Not cached: the tip keeps moving.
		return rng
	}

	var rng domain.BlockRange
	degraded := false
	if exact {
		minBlock, minProbed := r.searchBlockForTimestamp(ctx, dayStart, FirstAfter)
		maxBlock, maxProbed := r.searchBlockForTimestamp(ctx, dayEnd, LastBefore)
		rng = domain.BlockRange{Min: minBlock, Max: maxBlock}
		degraded = !minProbed || !maxProbed
		if !rng.Valid() {
			r.log.Warn("exact date resolution produced invalid range, estimating",
				"date", key, "min", rng.Min, "max", rng.Max)
			rng = r.estimateRange(dayStart, dayEnd)
			degraded = true
		}
	} else {
		rng = r.estimateRange(dayStart, dayEnd)
	}

	// Estimates produced because the search could not probe are not cached:
	// once the gateway recovers, the next exact request re-resolves.
	if !degraded {
		r.mu.Lock()
		r.dateCache[key] = rng
		r.mu.Unlock()
	}
	return rng
}

// ResolveDateRangeSpan resolves each endpoint day independently through the
// date cache, so moving only one side of a range picker re-resolves only
// that side. Endpoints arriving in reverse order are swapped first.
func (r *Resolver) ResolveDateRangeSpan(ctx context.Context, start, end time.Time, exact bool) domain.BlockRange {
	if start.After(end) {
		start, end = end, start
	}
	startRng := r.ResolveDateRange(ctx, start, exact)
	endRng := r.ResolveDateRange(ctx, end, exact)

	rng := domain.BlockRange{Min: startRng.Min, Max: endRng.Max}
	if !rng.Valid() {
		dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)
		rng = r.estimateRange(dayStart, dayEnd)
	}
	return rng
}

// BlockRangeToDates maps block heights back to wall-clock time using exact
// lookups only. An error means "unknown": callers must not treat it as epoch.
func (r *Resolver) BlockRangeToDates(ctx context.Context, minBlock, maxBlock int64) (*DateSpan, error) {
	tsMin, err := r.blockTimestamp(ctx, minBlock)
	if err != nil {
		return nil, err
	}
	tsMax, err := r.blockTimestamp(ctx, maxBlock)
	if err != nil {
		return nil, err
	}
	return &DateSpan{
		Start: time.Unix(tsMin, 0).UTC(),
		End:   time.Unix(tsMax, 0).UTC(),
	}, nil
}

// InvalidateCaches drops both cache tiers and the anchor.
func (r *Resolver) InvalidateCaches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchor = anchorState{}
	r.dateCache = make(map[string]domain.BlockRange)
	r.blockCache = make(map[int64]blockEntry)
}

// estimateRange is the pure-extrapolation fallback. Monotonicity and the
// floor make the result always valid.
func (r *Resolver) estimateRange(start, end time.Time) domain.BlockRange {
	return domain.BlockRange{Min: r.EstimateBlock(start), Max: r.EstimateBlock(end)}
}
