package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kolstream/kolbot/internal/dedup"
	"github.com/kolstream/kolbot/internal/domain"
	"github.com/kolstream/kolbot/internal/feed"
	"github.com/kolstream/kolbot/internal/ledger"
)

type staticFeed struct {
	status feed.Status
}

func (f staticFeed) Status() feed.Status { return f.status }

func testServer(t *testing.T, fs FeedStatus) (*Server, *ledger.Ledger, *dedup.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(nil, log)
	ded := dedup.New(nil, nil, time.Hour, log)
	return New(Config{Port: 0}, fs, led, ded, log), led, ded
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatal(err)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := testServer(t, nil)

	var body map[string]string
	decode(t, get(t, s, "/healthz"), &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusIncludesFeedAndPositions(t *testing.T) {
	fs := staticFeed{status: feed.Status{Connected: true, PostsEmitted: 3}}
	s, led, _ := testServer(t, fs)

	if _, err := led.ApplyDelta(context.Background(), "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 100, AvgEntryPrice: 0.5}); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Uptime        string      `json:"uptime"`
		Feed          feed.Status `json:"feed"`
		OpenPositions int         `json:"open_positions"`
	}
	decode(t, get(t, s, "/status"), &body)

	if !body.Feed.Connected || body.Feed.PostsEmitted != 3 {
		t.Fatalf("feed = %+v", body.Feed)
	}
	if body.OpenPositions != 1 {
		t.Fatalf("open_positions = %d, want 1", body.OpenPositions)
	}
}

func TestPositionsListsOpenExposure(t *testing.T) {
	s, led, _ := testServer(t, nil)
	ctx := context.Background()

	if _, err := led.ApplyDelta(ctx, "HYPE", domain.VenuePerp, 0,
		domain.PositionDelta{Side: domain.SideShort, Size: 2, AvgEntryPrice: 40}); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Positions []positionJSON `json:"positions"`
	}
	decode(t, get(t, s, "/positions"), &body)

	if len(body.Positions) != 1 {
		t.Fatalf("positions = %+v", body.Positions)
	}
	p := body.Positions[0]
	if p.Asset != "HYPE" || p.VenueKind != "perp" || p.Side != "short" || p.Size != 2 || p.Version != 1 {
		t.Fatalf("position = %+v", p)
	}
}

func TestExecutionsSortedAndLimited(t *testing.T) {
	s, _, ded := testServer(t, nil)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		rec, _, err := ded.CreateIfAbsent(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		rec.Status = domain.ExecConfirmed
		if err := ded.Update(ctx, rec); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond) // distinct UpdatedAt ordering
	}

	var body struct {
		Executions []executionJSON `json:"executions"`
	}
	decode(t, get(t, s, "/executions?limit=2"), &body)

	if len(body.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(body.Executions))
	}
	// Newest first.
	if body.Executions[0].PostID != "p3" || body.Executions[1].PostID != "p2" {
		t.Fatalf("order = %s, %s, want p3, p2", body.Executions[0].PostID, body.Executions[1].PostID)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/positions", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
