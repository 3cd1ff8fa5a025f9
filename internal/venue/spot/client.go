// Package spot is the REST adapter for the swap aggregator. Requests are
// wallet-signed; retries reuse the idempotency token carried in the request
// body so the aggregator recognizes a resubmission of the same swap.
package spot

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

// Client is the REST client for the swap aggregator API.
type Client struct {
	baseURL    string
	quoteAsset string
	signer     *crypto.WalletSigner
	httpClient *http.Client
}

// NewClient creates a swap aggregator client. baseURL is the API root, e.g.
// "https://aggregator.example.com/v1". quoteAsset names the asset spent on
// buys and received on sells.
func NewClient(baseURL, quoteAsset string, signer *crypto.WalletSigner) *Client {
	return &Client{
		baseURL:    baseURL,
		quoteAsset: quoteAsset,
		signer:     signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var _ domain.SpotVenue = (*Client)(nil)

type swapRequestJSON struct {
	FromAsset      string  `json:"fromAsset"`
	ToAsset        string  `json:"toAsset"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotencyKey"`
	WalletAddress  string  `json:"walletAddress"`
}

type swapResponseJSON struct {
	SwapID string `json:"swapId"`
}

type swapStatusJSON struct {
	Status       string  `json:"status"` // pending | filled | rejected
	FilledAmount float64 `json:"filledAmount"`
	AvgPrice     float64 `json:"avgPrice"`
	Reason       string  `json:"reason"`
}

// SubmitSwap submits a market swap and returns the aggregator's swap ID.
func (c *Client) SubmitSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapSubmission, error) {
	from, to := c.quoteAsset, req.Asset
	if req.Direction == domain.SwapBaseToQuote {
		from, to = req.Asset, c.quoteAsset
	}

	body := swapRequestJSON{
		FromAsset:      from,
		ToAsset:        to,
		Amount:         req.Size,
		IdempotencyKey: req.IdempotencyToken,
		WalletAddress:  c.signer.Address().Hex(),
	}

	respBody, err := c.doSignedRequest(ctx, http.MethodPost, "/swaps", body)
	if err != nil {
		return domain.SwapSubmission{}, fmt.Errorf("spot: submit swap %s: %w", req.Asset, err)
	}

	var resp swapResponseJSON
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.SwapSubmission{}, fmt.Errorf("spot: decode swap response: %w", err)
	}
	if resp.SwapID == "" {
		return domain.SwapSubmission{}, fmt.Errorf("spot: empty swap id in response")
	}
	return domain.SwapSubmission{VenueOrderID: resp.SwapID}, nil
}

// PollStatus returns the aggregator's current state for a submitted swap.
func (c *Client) PollStatus(ctx context.Context, venueOrderID string) (domain.SwapStatus, error) {
	path := fmt.Sprintf("/swaps/%s", url.PathEscape(venueOrderID))

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.SwapStatus{}, fmt.Errorf("spot: poll swap %s: %w", venueOrderID, err)
	}

	var resp swapStatusJSON
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.SwapStatus{}, fmt.Errorf("spot: decode swap status: %w", err)
	}

	st := domain.SwapStatus{
		FilledSize: resp.FilledAmount,
		AvgPrice:   resp.AvgPrice,
		Reason:     resp.Reason,
	}
	switch resp.Status {
	case "filled":
		st.State = domain.SwapFilled
	case "rejected":
		st.State = domain.SwapRejected
	case "pending", "routing", "executing":
		st.State = domain.SwapPending
	default:
		return domain.SwapStatus{}, fmt.Errorf("spot: unknown swap status %q", resp.Status)
	}
	return st, nil
}

// doSignedRequest builds, signs, sends and reads a request against the
// aggregator API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
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

	headers, err := c.signer.SignRequest(method, path, string(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	for k, v := range headers {
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
	Message string `json:"message"`
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
