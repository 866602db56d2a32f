// Package settlement contains executors that record matched trades on an
// external ledger and hand back a settlement reference.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrRejected = errors.New("settlement rejected")

// Request describes one trade to settle
type Request struct {
	TradeKey     string          `json:"trade_key"`
	BuyerRef     string          `json:"buyer_ref"`
	SellerRef    string          `json:"seller_ref"`
	AssetRef     string          `json:"asset_ref"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Chain        string          `json:"chain"`
	VaultAddress string          `json:"vault_address,omitempty"`
}

type executeResponse struct {
	Reference string `json:"reference"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPExecutor settles trades through the ledger gateway's REST API.
// It never retries: a failed call is retried by the next scheduled pass.
type HTTPExecutor struct {
	client *resty.Client
}

// NewHTTPExecutor creates an executor for the gateway at baseURL
func NewHTTPExecutor(baseURL, apiKey string, timeout time.Duration) *HTTPExecutor {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPExecutor{client: client}
}

// Execute submits the trade and returns the gateway's settlement reference
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (string, error) {
	var out executeResponse
	var apiErr errorResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.TradeKey).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/settlements")
	if err != nil {
		return "", fmt.Errorf("settlement request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("%w: empty reference", ErrRejected)
	}
	return out.Reference, nil
}

// Simulator settles instantly (or after Delay) without an external ledger.
// Used for local runs and tests.
type Simulator struct {
	Delay time.Duration
	// Fail, when set, decides per request whether the settlement fails
	Fail func(Request) error
}

// Execute returns a synthetic reference
func (s *Simulator) Execute(ctx context.Context, req Request) (string, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if s.Fail != nil {
		if err := s.Fail(req); err != nil {
			return "", err
		}
	}
	return "sim-" + uuid.NewString(), nil
}
