// Package escrow is the thin adapter over the external payment processor.
// It creates holds, verifies them, transfers held funds to a payee and
// refunds holds. No business logic lives here; it never touches contract or
// milestone records.
package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"workbridge/internal/apperr"
	"workbridge/pkg/circuitbreaker"
	"workbridge/pkg/metrics"
)

// Hold statuses reported by the gateway.
const (
	HoldStatusSucceeded = "succeeded"
	HoldStatusPending   = "pending"
	HoldStatusFailed    = "failed"
)

// Hold is the gateway's view of an escrow hold. ClientSecret is handed to
// the paying client to complete the charge.
type Hold struct {
	HoldID       string `json:"hold_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	maxRetries int
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second // 超时兜底，避免 handler 卡死
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// CreateHold reserves funds with the processor. idempotencyKey must be stable
// per payment so caller-side retries cannot create duplicate holds.
func (c *Client) CreateHold(ctx context.Context, amount float64, currency string, idempotencyKey string, metadata map[string]string) (*Hold, error) {
	body := map[string]any{
		"amount":   amount,
		"currency": currency,
		"metadata": metadata,
	}
	var hold Hold
	if err := c.call(ctx, http.MethodPost, "/v1/holds", idempotencyKey, body, &hold); err != nil {
		return nil, err
	}
	return &hold, nil
}

// VerifyHold returns the processor-side status of a hold.
func (c *Client) VerifyHold(ctx context.Context, holdID string) (string, error) {
	var hold Hold
	if err := c.call(ctx, http.MethodGet, "/v1/holds/"+holdID, "", nil, &hold); err != nil {
		return "", err
	}
	return hold.Status, nil
}

// Transfer releases held funds to the payee account. Returns the transfer id.
func (c *Client) Transfer(ctx context.Context, holdID, payeeAccount string, amount float64, idempotencyKey string) (string, error) {
	body := map[string]any{
		"hold_id":       holdID,
		"payee_account": payeeAccount,
		"amount":        amount,
	}
	var out struct {
		TransferID string `json:"transfer_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/transfers", idempotencyKey, body, &out); err != nil {
		return "", err
	}
	return out.TransferID, nil
}

// Refund returns held funds to the payer. Returns the refund id.
func (c *Client) Refund(ctx context.Context, holdID string, idempotencyKey string) (string, error) {
	body := map[string]any{
		"hold_id": holdID,
	}
	var out struct {
		RefundID string `json:"refund_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/refunds", idempotencyKey, body, &out); err != nil {
		return "", err
	}
	return out.RefundID, nil
}

// call runs one gateway operation with bounded retries behind the circuit
// breaker. Transient failures (network, 5xx) are retried with backoff and
// surface as GATEWAY_UNAVAILABLE when exhausted; 4xx responses are business
// rejections and never retried.
func (c *Client) call(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				metrics.RecordGatewayCallLatency(path, "timeout", time.Since(start))
				return apperr.GatewayUnavailable(ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := c.breaker.Execute(func() error {
			return c.doRequest(ctx, method, path, idempotencyKey, body, out)
		})
		if err == nil {
			metrics.RecordGatewayCallLatency(path, "ok", time.Since(start))
			return nil
		}

		var rej *rejectionError
		if errors.As(err, &rej) {
			// 业务拒绝：不重试
			metrics.RecordGatewayCallLatency(path, "rejected", time.Since(start))
			return apperr.InvalidState(apperr.ReasonGatewayRejected, rej.Error())
		}

		lastErr = err
		c.logger.Warn("Escrow gateway call failed, will retry",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	metrics.RecordGatewayCallLatency(path, "unavailable", time.Since(start))
	return apperr.GatewayUnavailable(lastErr)
}

// rejectionError marks a 4xx processor response: the request reached the
// gateway and was refused on business grounds.
type rejectionError struct {
	status int
	body   string
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("escrow gateway rejected request: %d %s", e.status, e.body)
}

func (c *Client) doRequest(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("escrow gateway unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// 可重试错误
		return fmt.Errorf("escrow gateway 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return &rejectionError{status: resp.StatusCode, body: buf.String()}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}
