package spot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kolstream/kolbot/internal/crypto"
	"github.com/kolstream/kolbot/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	signer, err := crypto.NewWalletSigner(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(srv.URL, "USDC", signer), srv
}

func TestSubmitSwapBuildsSignedRequest(t *testing.T) {
	var got swapRequestJSON
	var headers http.Header
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/swaps" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(swapResponseJSON{SwapID: "swap-42"})
	}))

	sub, err := c.SubmitSwap(context.Background(), domain.SwapRequest{
		Asset:            "POPCAT",
		Direction:        domain.SwapQuoteToBase,
		Size:             50,
		IdempotencyToken: "tok-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if sub.VenueOrderID != "swap-42" {
		t.Fatalf("order id = %q", sub.VenueOrderID)
	}

	if got.FromAsset != "USDC" || got.ToAsset != "POPCAT" || got.Amount != 50 {
		t.Fatalf("request = %+v, want USDC -> POPCAT 50", got)
	}
	if got.IdempotencyKey != "tok-1" {
		t.Fatalf("idempotency key = %q", got.IdempotencyKey)
	}
	for _, h := range []string{"X-Wallet-Address", "X-Timestamp", "X-Signature"} {
		if headers.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestSubmitSwapSellReversesAssets(t *testing.T) {
	var got swapRequestJSON
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(swapResponseJSON{SwapID: "swap-43"})
	}))

	if _, err := c.SubmitSwap(context.Background(), domain.SwapRequest{
		Asset:     "POPCAT",
		Direction: domain.SwapBaseToQuote,
		Size:      100,
	}); err != nil {
		t.Fatal(err)
	}
	if got.FromAsset != "POPCAT" || got.ToAsset != "USDC" {
		t.Fatalf("request = %+v, want POPCAT -> USDC", got)
	}
}

func TestPollStatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   domain.SwapState
	}{
		{"pending", domain.SwapPending},
		{"routing", domain.SwapPending},
		{"executing", domain.SwapPending},
		{"filled", domain.SwapFilled},
		{"rejected", domain.SwapRejected},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/swaps/swap-42" {
					t.Errorf("path = %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(swapStatusJSON{Status: tt.status, FilledAmount: 100, AvgPrice: 0.5})
			}))

			st, err := c.PollStatus(context.Background(), "swap-42")
			if err != nil {
				t.Fatal(err)
			}
			if st.State != tt.want {
				t.Fatalf("state = %s, want %s", st.State, tt.want)
			}
		})
	}
}

func TestPollStatusRejectsUnknownState(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(swapStatusJSON{Status: "weird"})
	}))

	if _, err := c.PollStatus(context.Background(), "swap-42"); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
		sentinel  error
	}{
		{"rate limited", http.StatusTooManyRequests, true, domain.ErrRateLimited},
		{"server error", http.StatusBadGateway, true, nil},
		{"not found", http.StatusNotFound, true, domain.ErrNotFound},
		{"business rejection", http.StatusBadRequest, false, domain.ErrVenueRejected},
		{"forbidden", http.StatusForbidden, false, domain.ErrVenueRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				json.NewEncoder(w).Encode(apiErrorJSON{Code: "E1", Message: "nope"})
			}))

			_, err := c.SubmitSwap(context.Background(), domain.SwapRequest{Asset: "POPCAT", Direction: domain.SwapQuoteToBase, Size: 50})
			if err == nil {
				t.Fatal("no error")
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Fatalf("err = %v, want %v", err, tt.sentinel)
			}
			// Transient errors must not read as terminal rejections.
			if tt.transient && errors.Is(err, domain.ErrVenueRejected) {
				t.Fatalf("transient error classified as rejection: %v", err)
			}
		})
	}
}
