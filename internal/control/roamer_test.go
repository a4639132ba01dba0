package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/permaroam/roamer/internal/core/config"
	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/queue"
	"github.com/permaroam/roamer/internal/infra/gateway"
)

// fakeArweave serves just enough of the gateway surface for the navigator:
// /info, /block/height/{h} and /graphql pages of generated transactions.
type fakeArweave struct {
	mu        sync.Mutex
	tip       int64
	nextID    int
	failing   bool
	infoCalls int
}

func (f *fakeArweave) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.infoCalls++
		f.mu.Unlock()
		if f.isFailing() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"network":"arweave.N.1","height":%d,"blocks":%d}`, f.tip, f.tip)
	})
	mux.HandleFunc("/block/height/", func(w http.ResponseWriter, r *http.Request) {
		if f.isFailing() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var h int64
		fmt.Sscanf(r.URL.Path, "/block/height/%d", &h)
		// Two minute spacing anchored at the epoch keeps timestamps plausible.
		fmt.Fprintf(w, `{"height":%d,"timestamp":%d}`, h, 1600000000+h*120)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if f.isFailing() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		io.WriteString(w, `{"data":{"transactions":{"pageInfo":{"hasNextPage":true},"edges":[`)
		for i := 0; i < 3; i++ {
			f.nextID++
			if i > 0 {
				io.WriteString(w, ",")
			}
			fmt.Fprintf(w, `{"cursor":"c%d","node":{"id":"tx-%d","owner":{"address":"addr"},"data":{"size":"10","type":"image/png"},"tags":[{"name":"Content-Type","value":"image/png"}],"block":{"height":%d,"timestamp":1600001000},"bundledIn":null}}`,
				f.nextID, f.nextID, f.tip-int64(f.nextID))
		}
		io.WriteString(w, `]}}}`)
	})
	return mux
}

func (f *fakeArweave) isFailing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing
}

func (f *fakeArweave) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func newTestRoamer(t *testing.T) (*Roamer, *fakeArweave) {
	t.Helper()
	fake := &fakeArweave{tip: 1680000}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRoamer(Config{
		Port:    0,
		Gateway: gateway.Config{URL: srv.URL, Timeout: 5 * time.Second},
		Queue:   queue.DefaultConfig,
		Storage: config.StorageConfig{Backend: "memory"},
	}, log)
	if err != nil {
		t.Fatalf("NewRoamer: %v", err)
	}
	return r, fake
}

func TestNavigator_NextAndBackReplay(t *testing.T) {
	r, _ := newTestRoamer(t)
	ctx := context.Background()

	ch := domain.Channel{Media: domain.MediaImages, Recency: domain.RecencyNew}
	window := r.nav.InitChannel(ctx, ch, queue.InitOptions{MinBlock: 1675000, MaxBlock: 1680000})
	if window.Min != 1675000 || window.Max != 1680000 {
		t.Fatalf("explicit bounds not honored: %+v", window)
	}

	first, err := r.nav.Next(ctx)
	if err != nil || first == nil {
		t.Fatalf("first Next: %v, %+v", err, first)
	}
	second, err := r.nav.Next(ctx)
	if err != nil || second == nil {
		t.Fatalf("second Next: %v, %+v", err, second)
	}
	if first.ID == second.ID {
		t.Fatalf("duplicate delivery: %s", first.ID)
	}

	// Back replays from history without touching the gateway.
	back := r.nav.Back(ctx)
	if back == nil || back.ID != first.ID {
		t.Errorf("expected back to %s, got %+v", first.ID, back)
	}

	// Next after Back replays the forward branch before pulling fresh items.
	replay, err := r.nav.Next(ctx)
	if err != nil || replay == nil || replay.ID != second.ID {
		t.Errorf("expected forward replay of %s, got %+v, %v", second.ID, replay, err)
	}
}

func TestNavigator_FailureEscalation(t *testing.T) {
	r, fake := newTestRoamer(t)
	ctx := context.Background()

	ch := domain.Channel{Media: domain.MediaEverything, Recency: domain.RecencyNew}
	r.nav.InitChannel(ctx, ch, queue.InitOptions{MinBlock: 1675000, MaxBlock: 1680000})

	fake.setFailing(true)

	for i := 0; i < maxFailStreak; i++ {
		_, err := r.nav.Next(ctx)
		if err == nil {
			t.Fatalf("attempt %d: expected transport error", i+1)
		}
		if errors.Is(err, ErrGatewayDegraded) {
			t.Fatalf("attempt %d: halted too early", i+1)
		}
	}

	// The streak has tripped: no more gateway calls until acknowledged.
	_, err := r.nav.Next(ctx)
	if !errors.Is(err, ErrGatewayDegraded) {
		t.Fatalf("expected ErrGatewayDegraded, got %v", err)
	}

	fake.setFailing(false)
	r.nav.AcknowledgeFailures()

	tx, err := r.nav.Next(ctx)
	if err != nil || tx == nil {
		t.Errorf("expected recovery after acknowledge, got %+v, %v", tx, err)
	}
}

func TestNavigator_ResetScopes(t *testing.T) {
	r, _ := newTestRoamer(t)
	ctx := context.Background()

	ch := domain.Channel{Media: domain.MediaImages, Recency: domain.RecencyNew}
	r.nav.InitChannel(ctx, ch, queue.InitOptions{MinBlock: 1675000, MaxBlock: 1680000})

	if _, err := r.nav.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if r.seen.Size() == 0 || r.history.Len() == 0 {
		t.Fatal("expected seen and history to be populated")
	}

	if err := r.nav.Reset(ctx, "seen"); err != nil {
		t.Fatalf("Reset seen: %v", err)
	}
	if r.seen.Size() != 0 {
		t.Error("seen set not cleared")
	}
	if r.history.Len() == 0 {
		t.Error("history must survive a seen-only reset")
	}

	if err := r.nav.Reset(ctx, "history"); err != nil {
		t.Fatalf("Reset history: %v", err)
	}
	if r.history.Len() != 0 {
		t.Error("history not cleared")
	}

	if err := r.nav.Reset(ctx, "nonsense"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestStart_WarmupSeedsAnchor(t *testing.T) {
	r, fake := newTestRoamer(t)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	fake.mu.Lock()
	calls := fake.infoCalls
	fake.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single warmup tip fetch, got %d", calls)
	}

	// A tip-anchored channel init is served from the warmed anchor, not a
	// fresh /info round trip.
	ch := domain.Channel{Media: domain.MediaImages, Recency: domain.RecencyNew}
	window := r.nav.InitChannel(ctx, ch, queue.InitOptions{})
	if window.Max != fake.tip {
		t.Errorf("expected window anchored at tip %d, got %+v", fake.tip, window)
	}

	fake.mu.Lock()
	calls = fake.infoCalls
	fake.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected no extra tip fetch after warmup, got %d", calls)
	}
}

func TestNavigator_Status(t *testing.T) {
	r, _ := newTestRoamer(t)
	ctx := context.Background()

	ch := domain.Channel{Media: domain.MediaMusic, Recency: domain.RecencyOld}
	r.nav.InitChannel(ctx, ch, queue.InitOptions{MinBlock: 100, MaxBlock: 200})

	st := r.nav.Status()
	if st.SessionID == "" {
		t.Error("expected a session id")
	}
	if st.Channel.Media != domain.MediaMusic {
		t.Errorf("expected music channel, got %+v", st.Channel)
	}
	if st.Window.Min != 100 || st.Window.Max != 200 {
		t.Errorf("unexpected window %+v", st.Window)
	}
}
