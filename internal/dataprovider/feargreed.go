// Package dataprovider assembles the cycle inputs the engine consumes:
// indicator snapshots produced by the external analysis layer plus the
// crowd sentiment index.
package dataprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"deriv-bot/config"
)

// fearGreedDataPoint models a single data point from alternative.me
type fearGreedDataPoint struct {
	Value               string `json:"value"`
	ValueClassification string `json:"value_classification"`
	Timestamp           string `json:"timestamp"`
}

// fearGreedResponse is the full API payload
type fearGreedResponse struct {
	Name     string               `json:"name"`
	Data     []fearGreedDataPoint `json:"data"`
	Metadata struct {
		Error *string `json:"error,omitempty"`
	} `json:"metadata"`
}

// FearGreedIndex is the current crowd sentiment reading.
type FearGreedIndex struct {
	Value     int    `json:"value"` // 0..100
	Level     string `json:"level"` // "Extreme Fear".."Extreme Greed"
	Timestamp int64  `json:"timestamp"`
}

// FearGreedClient fetches the Fear & Greed Index from alternative.me.
type FearGreedClient struct {
	httpClient *http.Client
	logger     zerolog.Logger
	apiURL     string
}

// NewFearGreedClient creates a sentiment client from config.
func NewFearGreedClient(cfg config.SentimentConfig, logger zerolog.Logger) *FearGreedClient {
	return &FearGreedClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "feargreed").Logger(),
		apiURL:     cfg.BaseURL + "/fng/?limit=1&format=json",
	}
}

// GetIndex fetches the current Fear & Greed Index.
func (c *FearGreedClient) GetIndex(ctx context.Context) (FearGreedIndex, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed: create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FearGreedIndex{}, fmt.Errorf("fear greed: unexpected status %d", resp.StatusCode)
	}

	var raw fearGreedResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed: decoding failed: %w", err)
	}

	if raw.Metadata.Error != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed API error: %s", *raw.Metadata.Error)
	}
	if len(raw.Data) == 0 {
		return FearGreedIndex{}, errors.New("fear greed: no data returned")
	}

	dp := raw.Data[0]
	value, err := strconv.Atoi(dp.Value)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed: invalid value %q: %w", dp.Value, err)
	}
	ts, err := strconv.ParseInt(dp.Timestamp, 10, 64)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed: invalid timestamp %q: %w", dp.Timestamp, err)
	}

	return FearGreedIndex{
		Value:     value,
		Level:     dp.ValueClassification,
		Timestamp: ts,
	}, nil
}
