package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"deriv-bot/config"
)

// RESTClient talks to the brokerage venue's REST API. Every request carries a
// short-lived JWT signed with the API secret.
type RESTClient struct {
	baseURL    string
	keyID      string
	secret     []byte
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRESTClient creates a venue REST client from config.
func NewRESTClient(cfg config.VenueConfig, logger zerolog.Logger) *RESTClient {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RESTClient{
		baseURL:    cfg.BaseURL,
		keyID:      cfg.APIKeyID,
		secret:     []byte(cfg.APISecret),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "venue").Logger(),
	}
}

// SetCredentials replaces the API credentials, e.g. after a Vault fetch.
func (c *RESTClient) SetCredentials(keyID, secret string) {
	c.keyID = keyID
	c.secret = []byte(secret)
}

// buildToken signs a request-scoped JWT. The venue rejects tokens older than
// two minutes, so one is minted per request.
func (c *RESTClient) buildToken(method, path string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.keyID,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"uri": fmt.Sprintf("%s %s", method, path),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = c.keyID
	return token.SignedString(c.secret)
}

func (c *RESTClient) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	token, err := c.buildToken(method, path)
	if err != nil {
		return fmt.Errorf("sign request token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("venue request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read venue response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", truncate(string(data), 200)).
			Msg("Venue API error")
		return fmt.Errorf("venue API %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode venue response: %w", err)
		}
	}
	return nil
}

// portfolioResponse is the wire shape of the merged account snapshot.
type portfolioResponse struct {
	BuyingPower   float64    `json:"buying_power"`
	MarginUsed    float64    `json:"margin_used"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	Positions     []Position `json:"positions"`
}

// GetPortfolioState fetches and merges the account snapshot.
func (c *RESTClient) GetPortfolioState(ctx context.Context) (*PortfolioState, error) {
	var resp portfolioResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/portfolio", nil, &resp); err != nil {
		return nil, err
	}

	state := &PortfolioState{
		AvailableBuyingPower: resp.BuyingPower,
		TotalMarginUsed:      resp.MarginUsed,
		TotalUnrealizedPnL:   resp.UnrealizedPnL,
		OpenPositionCount:    len(resp.Positions),
		Positions:            resp.Positions,
		FetchedAt:            time.Now(),
	}
	return state, nil
}

// OpenOrAddPosition places a market order to open or add to a position.
func (c *RESTClient) OpenOrAddPosition(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	var result OrderResult
	if err := c.doRequest(ctx, http.MethodPost, "/v1/orders", req, &result); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("size_usd", req.SizeUSD).
		Int("contracts", req.Contracts).
		Int("leverage", req.Leverage).
		Str("order_id", result.OrderID).
		Bool("success", result.Success).
		Msg("Open/add order placed")
	return &result, nil
}

// ClosePosition places a reduce-only market order against the open position.
func (c *RESTClient) ClosePosition(ctx context.Context, symbol string, sizeUSD float64) (*OrderResult, error) {
	body := map[string]interface{}{
		"symbol":   symbol,
		"size_usd": sizeUSD,
	}
	var result OrderResult
	if err := c.doRequest(ctx, http.MethodPost, "/v1/positions/close", body, &result); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("symbol", symbol).
		Float64("size_usd", sizeUSD).
		Str("order_id", result.OrderID).
		Bool("success", result.Success).
		Msg("Close order placed")
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Client = (*RESTClient)(nil)
