// Package server exposes the operational HTTP API: health, feed status,
// current positions, and recent execution records.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/kolstream/kolbot/internal/dedup"
	"github.com/kolstream/kolbot/internal/domain"
	"github.com/kolstream/kolbot/internal/feed"
	"github.com/kolstream/kolbot/internal/ledger"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
}

// FeedStatus is implemented by the post feed; nil when the process runs
// without one (replay mode).
type FeedStatus interface {
	Status() feed.Status
}

// Server is the operational HTTP API.
type Server struct {
	httpServer *http.Server
	feed       FeedStatus
	ledger     *ledger.Ledger
	dedup      *dedup.Store
	started    time.Time
	logger     *slog.Logger
}

// New creates a Server with all routes registered. fs may be nil.
func New(cfg Config, fs FeedStatus, led *ledger.Ledger, ded *dedup.Store, logger *slog.Logger) *Server {
	s := &Server{
		feed:    fs,
		ledger:  led,
		dedup:   ded,
		started: time.Now(),
		logger:  logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /executions", s.handleExecutions)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.logging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving requests until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.feed != nil {
		resp["feed"] = s.feed.Status()
	}
	if s.ledger != nil {
		resp["open_positions"] = len(s.ledger.Open())
	}
	writeJSON(w, http.StatusOK, resp)
}

type positionJSON struct {
	Asset         string    `json:"asset"`
	VenueKind     string    `json:"venue_kind"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.ledger.Open()
	out := make([]positionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionJSON{
			Asset:         p.Asset,
			VenueKind:     string(p.VenueKind),
			Side:          string(p.Side),
			Size:          p.Size,
			AvgEntryPrice: p.AvgEntryPrice,
			Version:       p.Version,
			UpdatedAt:     p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

type executionJSON struct {
	PostID       string    `json:"post_id"`
	Asset        string    `json:"asset"`
	VenueKind    string    `json:"venue_kind"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	VenueOrderID string    `json:"venue_order_id,omitempty"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	recs := s.dedup.Snapshot()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]executionJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toExecutionJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func toExecutionJSON(rec domain.ExecutionRecord) executionJSON {
	return executionJSON{
		PostID:       rec.PostID,
		Asset:        rec.Asset,
		VenueKind:    string(rec.VenueKind),
		Action:       string(rec.Action),
		Status:       string(rec.Status),
		VenueOrderID: rec.VenueOrderID,
		Attempts:     rec.Attempts,
		LastError:    rec.LastError,
		RequestedAt:  rec.RequestedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// logging wraps the mux with structured request logging.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
