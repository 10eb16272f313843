package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/slot-market/internal/config"
)

// HTTPGateway is a Gateway backed by the provider's REST API:
//
//	POST {base}/v1/authorizations/{id}/capture  {"amount": 450}
//	POST {base}/v1/authorizations/{id}/cancel
//
// Each request carries an Idempotency-Key derived from the operation and the
// authorization id.  The provider answers 409 with code already_captured or
// already_cancelled for repeats; both count as success.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPGateway builds a gateway from payment configuration.  A nil client
// uses a default http.Client; the per-call timeout is applied either way.
func NewHTTPGateway(cfg config.PaymentConfig, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  client,
	}
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *HTTPGateway) Capture(ctx context.Context, authID string, amount int64) error {
	body, err := json.Marshal(map[string]int64{"amount": amount})
	if err != nil {
		return err
	}
	return g.post(ctx, authID, "capture", body, "already_captured")
}

func (g *HTTPGateway) Release(ctx context.Context, authID string) error {
	return g.post(ctx, authID, "cancel", nil, "already_cancelled")
}

func (g *HTTPGateway) post(ctx context.Context, authID, op string, body []byte, repeatCode string) error {
	if strings.TrimSpace(authID) == "" {
		return fmt.Errorf("%w: empty authorization id", ErrRejected)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/authorizations/%s/%s", g.baseURL, url.PathEscape(authID), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op+":"+authID)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s timed out", ErrTransient, op, authID)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, op, authID, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		var pe providerError
		if json.Unmarshal(raw, &pe) == nil && pe.Code == repeatCode {
			return nil
		}
		return fmt.Errorf("%w: %s %s: conflict %q", ErrRejected, op, authID, pe.Code)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ErrTransient, op, authID, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRejected, op, authID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}
