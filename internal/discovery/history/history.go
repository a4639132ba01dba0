package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/metrics"
	"github.com/permaroam/roamer/internal/infra/storage"
)

// state is the persisted shape: the served items in order and the index of
// the current one. index == -1 means empty.
type state struct {
	Items []domain.TransactionMeta `json:"items"`
	Index int                      `json:"index"`
}

// History is a linear back/forward stack over served transactions. Back
// never re-fetches: items are replayed from here. State is persisted through
// the KV store after every mutation so a restart restores position; a
// persistence failure is logged and never fails navigation.
type History struct {
	store storage.KVStore
	key   string
	log   *slog.Logger

	mu    sync.Mutex
	items []domain.TransactionMeta
	index int
}

// New creates an empty history persisted under key.
func New(store storage.KVStore, key string, log *slog.Logger) *History {
	return &History{
		store: store,
		key:   key,
		log:   log,
		index: -1,
	}
}

// Load restores persisted state. Missing or corrupt state leaves the history
// empty.
func (h *History) Load(ctx context.Context) {
	data, err := h.store.Get(ctx, h.key)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			h.log.Warn("history restore failed", "error", err)
		}
		return
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		h.log.Warn("history state corrupt, starting empty", "error", err)
		return
	}
	if st.Index < -1 || st.Index >= len(st.Items) {
		h.log.Warn("history state out of bounds, starting empty", "index", st.Index, "items", len(st.Items))
		return
	}

	h.mu.Lock()
	h.items = st.Items
	h.index = st.Index
	h.mu.Unlock()
	metrics.HistoryDepth.Set(float64(len(st.Items)))
}

// Add truncates any forward entries beyond the current index, appends tx and
// advances. A Back followed by Add always discards the old forward branch.
func (h *History) Add(ctx context.Context, tx domain.TransactionMeta) {
	h.mu.Lock()
	h.items = append(h.items[:h.index+1], tx)
	h.index = len(h.items) - 1
	h.mu.Unlock()
	metrics.HistoryDepth.Set(float64(h.Len()))
	h.persist(ctx)
}

// Back moves to the previous item and returns it, or nil at the start.
func (h *History) Back(ctx context.Context) *domain.TransactionMeta {
	h.mu.Lock()
	if h.index <= 0 {
		h.mu.Unlock()
		return nil
	}
	h.index--
	tx := h.items[h.index]
	h.mu.Unlock()
	h.persist(ctx)
	return &tx
}

// Forward moves to the next item and returns it, or nil at the end.
func (h *History) Forward(ctx context.Context) *domain.TransactionMeta {
	h.mu.Lock()
	if h.index >= len(h.items)-1 {
		h.mu.Unlock()
		return nil
	}
	h.index++
	tx := h.items[h.index]
	h.mu.Unlock()
	h.persist(ctx)
	return &tx
}

// PeekForward returns the item Forward would return, without moving. Used to
// decide whether "Next" replays history or pulls fresh content.
func (h *History) PeekForward() *domain.TransactionMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index >= len(h.items)-1 {
		return nil
	}
	tx := h.items[h.index+1]
	return &tx
}

// Current returns the item at the current position, or nil when empty.
func (h *History) Current() *domain.TransactionMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index < 0 {
		return nil
	}
	tx := h.items[h.index]
	return &tx
}

// Len returns the number of stored items.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Reset empties the stack.
func (h *History) Reset(ctx context.Context) {
	h.mu.Lock()
	h.items = nil
	h.index = -1
	h.mu.Unlock()
	metrics.HistoryDepth.Set(0)
	h.persist(ctx)
}

func (h *History) persist(ctx context.Context) {
	h.mu.Lock()
	st := state{Items: h.items, Index: h.index}
	h.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		h.log.Warn("history marshal failed", "error", err)
		return
	}
	if err := h.store.Set(ctx, h.key, data); err != nil {
		h.log.Warn("history persist failed", "error", err)
	}
}
