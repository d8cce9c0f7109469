package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

const maxResponseBytes = 1 << 20

// ClientConfig configures the HTTP risk client
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client calls an external risk-scoring service over HTTP.
// Any transport failure, non-2xx status or malformed body is an error;
// the caller decides how to fail closed.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *zap.Logger
}

type assessRequest struct {
	TransactionID string            `json:"transaction_id"`
	Type          string            `json:"type"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	RequesterID   string            `json:"requester_id"`
	Location      string            `json:"location,omitempty"`
	OccurredAt    *time.Time        `json:"occurred_at,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type assessResponse struct {
	Score      *float64 `json:"score"`
	FraudBlock bool     `json:"fraud_block"`
	Factors    []struct {
		Name   string  `json:"name"`
		Weight float64 `json:"weight"`
		Detail string  `json:"detail"`
	} `json:"factors"`
}

// NewClient creates a risk client
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("risk endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Assess implements port.RiskService
func (c *Client) Assess(ctx context.Context, tx entity.Transaction) (*port.RiskResult, error) {
	body := assessRequest{
		TransactionID: tx.ID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		RequesterID:   tx.RequesterID,
		Location:      tx.Location,
		Metadata:      tx.Metadata,
	}
	if !tx.OccurredAt.IsZero() {
		at := tx.OccurredAt.UTC()
		body.OccurredAt = &at
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode risk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build risk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read risk response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("risk service returned status %d", resp.StatusCode)
	}

	var out assessResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode risk response: %w", err)
	}
	if out.Score == nil {
		return nil, fmt.Errorf("risk response has no score")
	}

	result := &port.RiskResult{
		Score:      *out.Score,
		FraudBlock: out.FraudBlock,
		Source:     "http",
	}
	for _, f := range out.Factors {
		result.Factors = append(result.Factors, entity.RiskFactor{Name: f.Name, Weight: f.Weight, Detail: f.Detail})
	}

	c.logger.Debug("Risk assessed",
		zap.String("transaction_id", tx.ID),
		zap.Float64("score", result.Score),
		zap.Bool("fraud_block", result.FraudBlock))
	return result, nil
}

var _ port.RiskService = (*Client)(nil)
