// Package rpc talks to a ledger gateway over HTTP/JSON.
package rpc

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"vaxledger/internal/ledger"
)

const (
	pathEvents  = "/v1/events"
	pathRewards = "/v1/rewards"
	pathStats   = "/v1/stats"
	pathRecords = "/v1/records/"

	errAlreadyRewarded = "already_rewarded"
	errAlreadyAnchored = "already_anchored"
	maxResponseBytes   = 1 << 20
)

type Config struct {
	BaseURL string
	APIKey  string
	// Timeout caps a whole HTTP exchange; callers usually pass a shorter context deadline.
	Timeout time.Duration
}

// Client implements ledger.Client against the gateway API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ledger rpc base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type rewardRequest struct {
	ParentAddress string `json:"parent_address"`
	ChildID       string `json:"child_id"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Receipt accompanies already_anchored conflicts.
	Receipt *ledger.Receipt `json:"receipt,omitempty"`
}

var errNotFound = errors.New("not found")

func (c *Client) RecordEvent(ctx context.Context, req ledger.RecordRequest) (ledger.Receipt, error) {
	var receipt ledger.Receipt
	err := c.do(ctx, "record_event", http.MethodPost, pathEvents, req, &receipt)
	return receipt, err
}

func (c *Client) FindRecord(ctx context.Context, contentHash string) (ledger.Receipt, bool, error) {
	var receipt ledger.Receipt
	err := c.do(ctx, "find_record", http.MethodGet, pathRecords+url.PathEscape(contentHash), nil, &receipt)
	if errors.Is(err, errNotFound) {
		return ledger.Receipt{}, false, nil
	}
	if err != nil {
		return ledger.Receipt{}, false, err
	}
	return receipt, true, nil
}

func (c *Client) RewardParent(ctx context.Context, parentAddress, childID string) (ledger.Receipt, error) {
	var receipt ledger.Receipt
	err := c.do(ctx, "reward_parent", http.MethodPost, pathRewards,
		rewardRequest{ParentAddress: parentAddress, ChildID: childID}, &receipt)
	return receipt, err
}

func (c *Client) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats
	err := c.do(ctx, "stats", http.MethodGet, pathStats, nil, &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return ledger.Rejected(op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return ledger.Unavailable(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ledger.Unavailable(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ledger.Unavailable(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return ledger.Unavailable(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(eb.Message))
	switch {
	case resp.StatusCode == http.StatusConflict && eb.Error == errAlreadyRewarded:
		return ledger.AlreadyRewarded(op)
	case resp.StatusCode == http.StatusConflict && eb.Error == errAlreadyAnchored && eb.Receipt != nil:
		// Identical resubmission: the gateway hands back the original receipt.
		if receipt, ok := out.(*ledger.Receipt); ok {
			*receipt = *eb.Receipt
			return nil
		}
		return ledger.Rejected(op, cause)
	case resp.StatusCode == http.StatusNotFound:
		return ledger.Rejected(op, fmt.Errorf("%w: %w", errNotFound, cause))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return ledger.Unavailable(op, cause)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ledger.Rejected(op, cause)
	default:
		return ledger.Unavailable(op, cause)
	}
}
