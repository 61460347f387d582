package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/taskhub/internal/backoff"
)

// HTTPClient talks to a ledger gateway (a signing sidecar fronting the token
// network) over JSON/HTTP. Signer keys are opaque references resolved by the
// gateway; raw key material never transits this service.
type HTTPClient struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	logger         *slog.Logger
	confirmTimeout time.Duration
	pollPolicy     string
	pollBase       int
	pollMax        int

	// mu guards rng and decimals: settlements for distinct sender accounts
	// poll confirmations concurrently through one client.
	mu       sync.Mutex
	rng      *rand.Rand
	decimals int // cached after first fetch; token precision never changes
}

type HTTPClientConfig struct {
	BaseURL               string
	BearerToken           string
	RequestTimeoutSeconds int
	ConfirmTimeoutSeconds int
	PollPolicy            string
	PollBaseSeconds       int
	PollMaxSeconds        int
}

func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 15
	}
	if cfg.ConfirmTimeoutSeconds <= 0 {
		cfg.ConfirmTimeoutSeconds = 120
	}
	if cfg.PollBaseSeconds <= 0 {
		cfg.PollBaseSeconds = 2
	}
	if cfg.PollMaxSeconds <= 0 {
		cfg.PollMaxSeconds = 15
	}
	if cfg.PollPolicy == "" {
		cfg.PollPolicy = backoff.PolicyExpEqualJitter
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.BearerToken,
		httpClient:     &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
		logger:         logger,
		confirmTimeout: time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
		pollPolicy:     cfg.PollPolicy,
		pollBase:       cfg.PollBaseSeconds,
		pollMax:        cfg.PollMaxSeconds,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		decimals:       -1,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) GetDecimals(ctx context.Context) (int, error) {
	c.mu.Lock()
	cached := c.decimals
	c.mu.Unlock()
	if cached >= 0 {
		return cached, nil
	}
	var out struct {
		Decimals int `json:"decimals"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/token", nil, &out); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.decimals = out.Decimals
	c.mu.Unlock()
	return out.Decimals, nil
}

func (c *HTTPClient) GetBalance(ctx context.Context, address string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/balance", address)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *HTTPClient) Approve(ctx context.Context, signerKey, spender string, amountMinor int64) (*Receipt, error) {
	body := map[string]any{"signer": signerKey, "spender": spender, "amount": amountMinor}
	var rcpt Receipt
	if err := c.do(ctx, http.MethodPost, "/v1/approvals", body, &rcpt); err != nil {
		return nil, err
	}
	return &rcpt, nil
}

// Transfer submits a transfer and returns once the gateway acknowledged the
// broadcast. The gateway queries the account's authoritative next sequence
// right before signing, so the returned Receipt.Sequence is the on-ledger
// ordering position.
func (c *HTTPClient) Transfer(ctx context.Context, signerKey, to string, amountMinor int64) (*Receipt, error) {
	body := map[string]any{"signer": signerKey, "to": to, "amount": amountMinor}
	var rcpt Receipt
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &rcpt); err != nil {
		return nil, err
	}
	c.logger.Info("transfer broadcast", "txRef", rcpt.TxRef, "sequence", rcpt.Sequence, "to", to, "amount", amountMinor)
	return &rcpt, nil
}

// AwaitConfirmation polls the transfer until it confirms, fails, or the
// confirmation window closes. A closed window returns ErrConfirmationPending:
// the transfer is still outstanding on the ledger and must be polled again,
// never resubmitted.
func (c *HTTPClient) AwaitConfirmation(ctx context.Context, txRef string) error {
	deadline := time.Now().Add(c.confirmTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	path := fmt.Sprintf("/v1/transfers/%s", txRef)
	for attempt := 0; ; attempt++ {
		var out struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}
		err := c.do(ctx, http.MethodGet, path, nil, &out)
		switch {
		case err == nil && out.Status == "confirmed":
			return nil
		case err == nil && out.Status == "failed":
			return fmt.Errorf("%w: %s", ErrTransferRejected, out.Error)
		case err != nil && ctx.Err() != nil:
			return fmt.Errorf("%w: %s", ErrConfirmationPending, txRef)
		}

		c.mu.Lock()
		delay := backoff.Compute(c.pollPolicy, c.pollBase, c.pollMax, attempt, c.rng)
		c.mu.Unlock()
		// Jitter can land on 0; never poll in a tight loop.
		if delay < 1 {
			delay = 1
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationPending, txRef)
		case <-time.After(time.Duration(delay) * time.Second):
		}
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classify(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
