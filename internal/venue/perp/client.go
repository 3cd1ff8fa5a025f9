// Package perp is the REST adapter for the perpetual-futures exchange.
// Authentication is HMAC-signed; every position change carries a client order
// ID (the record's idempotency token), so a resubmitted request maps to the
// same exchange order.
package perp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kolstream/kolbot/internal/crypto"
	"github.com/kolstream/kolbot/internal/domain"
)

// Client is the REST client for the perp exchange API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a perp exchange client.
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var _ domain.PerpVenue = (*Client)(nil)

type positionChangeJSON struct {
	Symbol        string  `json:"symbol"`
	Action        string  `json:"action"` // open_long | open_short | close
	Size          float64 `json:"size"`
	Leverage      int     `json:"leverage,omitempty"`
	ClientOrderID string  `json:"clientOrderId"`
}

type positionChangeRespJSON struct {
	OrderID string `json:"orderId"`
}

type orderStatusJSON struct {
	Status        string  `json:"status"` // pending | confirmed | rejected
	ResultingSide string  `json:"resultingSide"`
	ResultingSize float64 `json:"resultingSize"`
	AvgPrice      float64 `json:"avgPrice"`
	Reason        string  `json:"reason"`
}

// SubmitPositionChange submits an open or close and returns the exchange's
// order ID.
func (c *Client) SubmitPositionChange(ctx context.Context, req domain.PerpRequest) (domain.PerpSubmission, error) {
	body := positionChangeJSON{
		Symbol:        req.Asset,
		Action:        string(req.Action),
		Size:          req.Size,
		Leverage:      req.Leverage,
		ClientOrderID: req.IdempotencyToken,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/positions/change", body)
	if err != nil {
		return domain.PerpSubmission{}, fmt.Errorf("perp: submit %s %s: %w", req.Action, req.Asset, err)
	}

	var resp positionChangeRespJSON
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.PerpSubmission{}, fmt.Errorf("perp: decode submission response: %w", err)
	}
	if resp.OrderID == "" {
		return domain.PerpSubmission{}, fmt.Errorf("perp: empty order id in response")
	}
	return domain.PerpSubmission{VenueOrderID: resp.OrderID}, nil
}

// PollStatus returns the exchange's current state for a submitted position
// change. On confirmation the exchange reports the resulting exposure.
func (c *Client) PollStatus(ctx context.Context, venueOrderID string) (domain.PerpStatus, error) {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(venueOrderID))

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.PerpStatus{}, fmt.Errorf("perp: poll order %s: %w", venueOrderID, err)
	}

	var resp orderStatusJSON
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.PerpStatus{}, fmt.Errorf("perp: decode order status: %w", err)
	}

	st := domain.PerpStatus{
		ResultingSize: resp.ResultingSize,
		AvgPrice:      resp.AvgPrice,
		Reason:        resp.Reason,
	}
	switch resp.Status {
	case "confirmed", "filled":
		st.State = domain.PerpConfirmed
	case "rejected", "cancelled":
		st.State = domain.PerpRejected
	case "pending", "new", "partially_filled":
		st.State = domain.PerpPending
	default:
		return domain.PerpStatus{}, fmt.Errorf("perp: unknown order status %q", resp.Status)
	}

	switch resp.ResultingSide {
	case "long":
		st.ResultingSide = domain.SideLong
	case "short":
		st.ResultingSide = domain.SideShort
	default:
		st.ResultingSide = domain.SideFlat
	}
	return st, nil
}

// doRequest builds, authenticates, sends and reads a request against the
// exchange API.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyBytes []byte
	var bodyReader io.Reader
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(method, path, string(bodyBytes)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

type apiErrorJSON struct {
	Code    string `json:"code"`
	Message string `json:"msg"`
}

// checkStatus maps HTTP status codes to domain errors. 4xx business failures
// are terminal rejections; 429 and 5xx are transient and retried by the
// caller.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiErrorJSON
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)
	case statusCode >= 500:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, apiErr.Message)
	default:
		return fmt.Errorf("%w: HTTP %d: %s (%s)", domain.ErrVenueRejected, statusCode, apiErr.Message, apiErr.Code)
	}
}
