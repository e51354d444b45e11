// Package ledgerclient wraps the external audit ledger RPC. All mutating
// and query calls (health check excepted) go through retry with
// exponential backoff + jitter, a circuit breaker, and an outbound rate
// limiter; payloads are signed before submission.
package ledgerclient

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

// Config tunes the client's resilience behavior.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns production defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		MaxRetries:        3,
		BaseBackoff:       100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BreakerThreshold:  5,
		BreakerCooldown:   10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// LogResult is the ledger's response to a successful event submission.
type LogResult struct {
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     int64  `json:"block_number"`
	Status          string `json:"status"`
}

// TrailFilter narrows GetAuditTrail queries.
type TrailFilter struct {
	EventType contracts.EventType
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Client talks to the external ledger endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *CircuitBreaker
	limiter *rate.Limiter
	signer  Signer
	log     *slog.Logger
}

// New creates a ledger client. The signer must not be nil.
func New(cfg Config, signer Signer, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker("ledger", cfg.BreakerThreshold, cfg.BreakerCooldown),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		signer:  signer,
		log:     log,
	}
}

// LogEvent signs and submits one audit event, returning the ledger's
// transaction hash and block number.
func (c *Client) LogEvent(ctx context.Context, event *contracts.BlockchainEvent) (*LogResult, error) {
	payload := map[string]any{
		"transaction_id": event.TransactionID,
		"event_type":     string(event.EventType),
		"payload":        event.Payload,
		"timestamp":      event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	sig, err := c.signer.Sign(payload)
	if err != nil {
		return nil, contracts.NewFault(contracts.FaultPermanent, "ledger.log_event", err)
	}
	body := map[string]any{
		"payload":   payload,
		"signature": sig,
		"signer":    c.signer.PublicKey(),
	}

	var result LogResult
	if err := c.do(ctx, http.MethodPost, "/events", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAuditTrail queries the ledger for a transaction's events.
func (c *Client) GetAuditTrail(ctx context.Context, transactionID string, filter TrailFilter) ([]contracts.BlockchainEvent, error) {
	q := url.Values{}
	q.Set("transaction_id", transactionID)
	if filter.EventType != "" {
		q.Set("event_type", string(filter.EventType))
	}
	if filter.From != nil {
		q.Set("from", filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		q.Set("to", filter.To.UTC().Format(time.RFC3339Nano))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var resp struct {
		Entries []contracts.BlockchainEvent `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/audit_trail", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// VerifyEvent asks the ledger whether a transaction hash is authentic.
func (c *Client) VerifyEvent(ctx context.Context, transactionHash string) (bool, error) {
	q := url.Values{}
	q.Set("transaction_hash", transactionHash)

	var resp struct {
		Verified bool `json:"verified"`
	}
	if err := c.do(ctx, http.MethodGet, "/verify_event", q, nil, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

// GetBlockNumber returns the ledger's current block height.
func (c *Client) GetBlockNumber(ctx context.Context) (int64, error) {
	var resp struct {
		BlockNumber int64 `json:"block_number"`
	}
	if err := c.do(ctx, http.MethodGet, "/block_number", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.BlockNumber, nil
}

// HealthCheck probes the ledger once, without retry or circuit breaking.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return contracts.NewFault(contracts.FaultPermanent, "ledger.health", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return contracts.NewFault(contracts.FaultTransient, "ledger.health", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return contracts.Faultf(contracts.FaultTransient, "ledger.health", "status %d", resp.StatusCode)
	}
	return nil
}

// do runs one RPC through the rate limiter, circuit breaker, and retry
// loop, decoding a successful JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	op := "ledger." + path

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return contracts.NewFault(contracts.FaultPermanent, op, err)
		}
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return contracts.NewFault(contracts.FaultTransient, op, err)
		}
		if !c.breaker.Allow() {
			return contracts.Faultf(contracts.FaultTransient, op, "circuit breaker open")
		}

		lastErr = c.attempt(ctx, method, endpoint, encoded, out)
		if lastErr == nil {
			c.breaker.Success()
			return nil
		}
		c.breaker.Failure()

		if !contracts.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.backoff(attempt)
		c.log.Warn("ledger call failed, retrying",
			"op", op, "attempt", attempt+1, "delay", delay, "err", lastErr)
		select {
		case <-ctx.Done():
			return contracts.NewFault(contracts.FaultTransient, op, ctx.Err())
		case <-time.After(delay):
		}
	}

	// Retries exhausted: the transient failure is now permanent for the
	// caller.
	return contracts.Faultf(contracts.FaultPermanent, op, "retries exhausted: %v", lastErr)
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return contracts.NewFault(contracts.FaultPermanent, "ledger.request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors are retryable.
		return contracts.NewFault(contracts.FaultTransient, "ledger.request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return contracts.NewFault(contracts.FaultPermanent, "ledger.decode", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusPaymentRequired:
		// Auth/funding rejections never get retried.
		return contracts.Faultf(contracts.FaultPermanent, "ledger.request", "rejected with status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return contracts.Faultf(contracts.FaultTransient, "ledger.request", "server error %d", resp.StatusCode)
	default:
		return contracts.Faultf(contracts.FaultPermanent, "ledger.request", "unexpected status %d", resp.StatusCode)
	}
}

// backoff computes base * 2^attempt plus jitter, capped at MaxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.BaseBackoff
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	if n, err := crand.Int(crand.Reader, big.NewInt(50)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

// Breaker exposes the circuit breaker state for observability.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }
