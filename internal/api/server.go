package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/permaroam/roamer/internal/core/domain"
	"github.com/permaroam/roamer/internal/discovery/queue"
	"github.com/permaroam/roamer/internal/discovery/resolve"
)

// Navigator is the discovery engine surface the HTTP layer drives.
type Navigator interface {
	InitChannel(ctx context.Context, ch domain.Channel, opts queue.InitOptions) domain.BlockRange
	Next(ctx context.Context) (*domain.TransactionMeta, error)
	Back(ctx context.Context) *domain.TransactionMeta
	Forward(ctx context.Context) *domain.TransactionMeta
	PeekForward() *domain.TransactionMeta
	AcknowledgeFailures()
	ResolveDateRange(ctx context.Context, date time.Time, exact bool) domain.BlockRange
	ResolveDateRangeSpan(ctx context.Context, start, end time.Time, exact bool) domain.BlockRange
	BlockRangeToDates(ctx context.Context, minBlock, maxBlock int64) (*resolve.DateSpan, error)
	Reset(ctx context.Context, scope string) error
	Status() Status
}

// Status is the session snapshot served by /api/status.
type Status struct {
	SessionID      string            `json:"session_id"`
	Channel        domain.Channel    `json:"channel"`
	Window         domain.BlockRange `json:"window"`
	HistoryLen     int               `json:"history_len"`
	SeenCount      int               `json:"seen_count"`
	FailStreak     int               `json:"fail_streak"`
	GatewayOK      int               `json:"gateway_ok"`
	GatewayErrors  int               `json:"gateway_errors"`
	GatewayLatency string            `json:"gateway_latency"`
}

// Server exposes the navigation API over HTTP JSON, plus health and metrics.
type Server struct {
	nav    Navigator
	server *http.Server
}

// NewServer creates the API server on the given port.
func NewServer(nav Navigator, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		nav: nav,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("POST /api/channel", s.handleChannel)
	mux.HandleFunc("GET /api/next", s.handleNext)
	mux.HandleFunc("GET /api/back", s.handleBack)
	mux.HandleFunc("GET /api/forward", s.handleForward)
	mux.HandleFunc("GET /api/peek", s.handlePeek)
	mux.HandleFunc("GET /api/range", s.handleRange)
	mux.HandleFunc("GET /api/range/span", s.handleRangeSpan)
	mux.HandleFunc("GET /api/dates", s.handleDates)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/retry", s.handleRetry)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type channelRequest struct {
	Media        domain.MediaKind `json:"media"`
	Recency      domain.Recency   `json:"recency"`
	OwnerAddress string           `json:"owner_address"`
	AppName      string           `json:"app_name"`
	TxID         string           `json:"tx_id"`
	MinBlock     int64            `json:"min_block"`
	MaxBlock     int64            `json:"max_block"`
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Media.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown media kind %q", req.Media))
		return
	}
	if req.Recency == "" {
		req.Recency = domain.RecencyNew
	}

	ch := domain.Channel{Media: req.Media, Recency: req.Recency}
	window := s.nav.InitChannel(r.Context(), ch, queue.InitOptions{
		InitialTxID:  req.TxID,
		MinBlock:     req.MinBlock,
		MaxBlock:     req.MaxBlock,
		OwnerAddress: req.OwnerAddress,
		AppName:      req.AppName,
	})
	writeJSON(w, http.StatusOK, window)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	tx, err := s.nav.Next(r.Context())
	if err != nil {
		if errors.Is(err, queue.ErrBusy) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "no content found"})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	writeMaybeTx(w, s.nav.Back(r.Context()))
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	writeMaybeTx(w, s.nav.Forward(r.Context()))
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	writeMaybeTx(w, s.nav.PeekForward())
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("date: %w", err))
		return
	}
	exact := r.URL.Query().Get("exact") == "true"
	writeJSON(w, http.StatusOK, s.nav.ResolveDateRange(r.Context(), date, exact))
}

func (s *Server) handleRangeSpan(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("start: %w", err))
		return
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("end: %w", err))
		return
	}
	exact := r.URL.Query().Get("exact") == "true"
	writeJSON(w, http.StatusOK, s.nav.ResolveDateRangeSpan(r.Context(), start, end, exact))
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	minBlock, err := strconv.ParseInt(r.URL.Query().Get("min"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("min: %w", err))
		return
	}
	maxBlock, err := strconv.ParseInt(r.URL.Query().Get("max"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("max: %w", err))
		return
	}
	span, err := s.nav.BlockRangeToDates(r.Context(), minBlock, maxBlock)
	if err != nil {
		// Unknown, not epoch: the caller must not fabricate dates.
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, span)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.nav.Reset(r.Context(), req.Scope); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.nav.AcknowledgeFailures()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.nav.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.nav.Status()
	status := "healthy"
	code := http.StatusOK
	if st.FailStreak > 0 {
		status = "degraded"
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func writeMaybeTx(w http.ResponseWriter, tx *domain.TransactionMeta) {
	if tx == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "end of history"})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
