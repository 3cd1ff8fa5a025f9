package perp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kolstream/kolbot/internal/crypto"
	"github.com/kolstream/kolbot/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	auth := &crypto.HMACAuth{
		Key:        "key",
		Secret:     base64.StdEncoding.EncodeToString([]byte("secret")),
		Passphrase: "pass",
	}
	return NewClient(srv.URL, auth)
}

func TestSubmitPositionChange(t *testing.T) {
	var got positionChangeJSON
	var headers http.Header
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/positions/change" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(positionChangeRespJSON{OrderID: "ord-7"})
	}))

	sub, err := c.SubmitPositionChange(context.Background(), domain.PerpRequest{
		Asset:            "HYPE",
		Action:           domain.PerpOpenLong,
		Size:             100,
		Leverage:         5,
		IdempotencyToken: "tok-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if sub.VenueOrderID != "ord-7" {
		t.Fatalf("order id = %q", sub.VenueOrderID)
	}

	if got.Symbol != "HYPE" || got.Action != "open_long" || got.Size != 100 || got.Leverage != 5 {
		t.Fatalf("request = %+v", got)
	}
	if got.ClientOrderID != "tok-1" {
		t.Fatalf("client order id = %q, want the idempotency token", got.ClientOrderID)
	}
	for _, h := range []string{"KB-ACCESS-KEY", "KB-ACCESS-TIMESTAMP", "KB-ACCESS-PASSPHRASE", "KB-ACCESS-SIGN"} {
		if headers.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestPollStatusMapping(t *testing.T) {
	tests := []struct {
		status   string
		side     string
		want     domain.PerpState
		wantSide domain.PositionSide
	}{
		{"pending", "", domain.PerpPending, domain.SideFlat},
		{"new", "", domain.PerpPending, domain.SideFlat},
		{"partially_filled", "long", domain.PerpPending, domain.SideLong},
		{"confirmed", "long", domain.PerpConfirmed, domain.SideLong},
		{"filled", "short", domain.PerpConfirmed, domain.SideShort},
		{"rejected", "", domain.PerpRejected, domain.SideFlat},
		{"cancelled", "", domain.PerpRejected, domain.SideFlat},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/orders/ord-7" {
					t.Errorf("path = %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(orderStatusJSON{Status: tt.status, ResultingSide: tt.side, ResultingSize: 1})
			}))

			st, err := c.PollStatus(context.Background(), "ord-7")
			if err != nil {
				t.Fatal(err)
			}
			if st.State != tt.want || st.ResultingSide != tt.wantSide {
				t.Fatalf("status = %+v, want %s/%s", st, tt.want, tt.wantSide)
			}
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		sentinel error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"business rejection", http.StatusUnprocessableEntity, domain.ErrVenueRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				json.NewEncoder(w).Encode(apiErrorJSON{Code: "E1", Message: "nope"})
			}))

			_, err := c.SubmitPositionChange(context.Background(), domain.PerpRequest{Asset: "HYPE", Action: domain.PerpOpenLong, Size: 100})
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("err = %v, want %v", err, tt.sentinel)
			}
		})
	}

	t.Run("server error is transient", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		_, err := c.SubmitPositionChange(context.Background(), domain.PerpRequest{Asset: "HYPE", Action: domain.PerpOpenLong, Size: 100})
		if err == nil || errors.Is(err, domain.ErrVenueRejected) {
			t.Fatalf("err = %v, want transient non-rejection", err)
		}
	})
}
