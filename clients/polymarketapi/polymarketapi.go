// Package polymarketapi is a thin client over Polymarket's public Gamma API
// (market/event metadata, no auth), used by the Depeg Executor (spec.md
// §4.C.1) for candidate market discovery and by the runner's market-feed
// seeding step. Orders and positions are placed and read through
// internal/venue/polymarket's CLOB client instead — this client never signs
// a request or touches the orderbook, it only answers "what markets exist."
package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"hedgecore/config"
)

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
	}
}

// GammaEvent groups one or more related binary markets under a shared slug,
// e.g. several depeg-threshold markets for the same stablecoin.
type GammaEvent struct {
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []GammaMarket `json:"markets"`
}

// GammaMarket is a single binary-outcome market as the Gamma API reports
// it. ClobTokenIDs/Outcomes/OutcomePrices arrive in several inconsistent
// shapes across Gamma API responses (a direct array, a JSON-encoded string,
// or an array containing one such string); the Get* accessors below absorb
// that inconsistency so callers only ever see a plain []string/[]float64.
type GammaMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`

	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`

	Volume24hr float64 `json:"volume24hr"`

	Active bool `json:"active"`
	Closed bool `json:"closed"`
}

// GetOutcomePrices parses the OutcomePrices field, which the YES-price
// ranking in the Depeg Executor's findQualifyingMarket reads as prices[0].
func (m *GammaMarket) GetOutcomePrices() []float64 {
	if len(m.OutcomePrices) == 0 {
		return nil
	}

	parseStrings := func(strs []string) []float64 {
		prices := make([]float64, len(strs))
		for i, s := range strs {
			fmt.Sscanf(s, "%f", &prices[i])
		}
		return prices
	}

	var prices []float64
	if err := json.Unmarshal(m.OutcomePrices, &prices); err == nil {
		return prices
	}

	var priceStrs []string
	if err := json.Unmarshal(m.OutcomePrices, &priceStrs); err == nil {
		return parseStrings(priceStrs)
	}

	var jsonStr string
	if err := json.Unmarshal(m.OutcomePrices, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &prices); err == nil {
			return prices
		}
		if err := json.Unmarshal([]byte(jsonStr), &priceStrs); err == nil {
			return parseStrings(priceStrs)
		}
	}

	return nil
}

// GetTokenIDs parses the ClobTokenIDs field and returns the outcome token
// ids in outcome order (index 0 is YES for every binary depeg-style
// market), which is what the Depeg Executor places its order against.
// Handles multiple Gamma API formats:
// - Direct array: ["token1", "token2"]
// - Array containing JSON string: ["[\"token1\", \"token2\"]"]
// - JSON string: "[\"token1\", \"token2\"]"
func (m *GammaMarket) GetTokenIDs() []string {
	if len(m.ClobTokenIDs) == 0 {
		return nil
	}

	var tokenIDs []string
	if err := json.Unmarshal(m.ClobTokenIDs, &tokenIDs); err == nil && len(tokenIDs) > 0 {
		if len(tokenIDs) == 1 && len(tokenIDs[0]) > 0 && tokenIDs[0][0] == '[' {
			var nested []string
			if err := json.Unmarshal([]byte(tokenIDs[0]), &nested); err == nil && len(nested) > 0 {
				return nested
			}
		}
		var flattened []string
		allNested := true
		for _, t := range tokenIDs {
			if len(t) > 0 && t[0] == '[' {
				var nested []string
				if err := json.Unmarshal([]byte(t), &nested); err == nil {
					flattened = append(flattened, nested...)
					continue
				}
			}
			allNested = false
			break
		}
		if allNested && len(flattened) > 0 {
			return flattened
		}
		return tokenIDs
	}

	var jsonStr string
	if err := json.Unmarshal(m.ClobTokenIDs, &jsonStr); err == nil && jsonStr != "" {
		var innerTokenIDs []string
		if err := json.Unmarshal([]byte(jsonStr), &innerTokenIDs); err == nil && len(innerTokenIDs) > 0 {
			return innerTokenIDs
		}
	}

	return nil
}

// GetTopMarketsByVolume fetches the most liquid currently-active markets,
// used by the runner to seed internal/marketfeed's websocket subscription
// list at startup (spec.md's domain-stack commitment to a live feed).
func (c *PolymarketApiClient) GetTopMarketsByVolume(ctx context.Context, limit int) ([]GammaMarket, error) {
	if limit <= 0 {
		limit = 20
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("active", "true")
	u.RawQuery = q.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get top markets: %w", err)
	}
	return markets, nil
}

// SearchActiveMarkets is the Depeg Executor's candidate-discovery step
// (spec.md §4.C.1 step 1): it text-matches query (typically "<asset>
// depeg") against both standalone markets and markets nested inside events,
// merging and deduping by condition id, then returns the top limit by
// 24h volume — the executor's own ranking pass then filters by term
// coverage, profitable YES price, and liquidity.
func (c *PolymarketApiClient) SearchActiveMarkets(ctx context.Context, query string, limit int) ([]GammaMarket, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	searchLower := strings.ToLower(query)
	marketMap := make(map[string]GammaMarket)

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	pageSize := 200
	maxPages := 5
	for page := 0; page < maxPages && len(marketMap) < limit; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		q := u.Query()
		q.Set("limit", fmt.Sprintf("%d", pageSize))
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("order", "volume24hr")
		q.Set("ascending", "false")
		q.Set("offset", fmt.Sprintf("%d", page*pageSize))
		u.RawQuery = q.Encode()

		var markets []GammaMarket
		if err := c.doGet(ctx, u.String(), &markets); err != nil {
			c.logger.Warn("failed to fetch active markets page", zap.Int("page", page), zap.Error(err))
			break
		}
		if len(markets) == 0 {
			break
		}

		for _, m := range markets {
			if m.ConditionID == "" {
				continue
			}
			if strings.Contains(strings.ToLower(m.Question), searchLower) ||
				strings.Contains(strings.ToLower(m.Slug), searchLower) {
				marketMap[m.ConditionID] = m
			}
		}

		if len(markets) < pageSize {
			break
		}
	}

	u.Path = "/events"
	for page := 0; page < 3 && len(marketMap) < limit; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		q := u.Query()
		q.Set("limit", "100")
		q.Set("active", "true")
		q.Set("order", "volume24hr")
		q.Set("ascending", "false")
		q.Set("offset", fmt.Sprintf("%d", page*100))
		u.RawQuery = q.Encode()

		var events []GammaEvent
		if err := c.doGet(ctx, u.String(), &events); err != nil {
			break
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			eventMatches := strings.Contains(strings.ToLower(event.Title), searchLower) ||
				strings.Contains(strings.ToLower(event.Slug), searchLower)

			for _, m := range event.Markets {
				if m.ConditionID == "" || m.Closed || !m.Active {
					continue
				}
				if eventMatches ||
					strings.Contains(strings.ToLower(m.Question), searchLower) ||
					strings.Contains(strings.ToLower(m.Slug), searchLower) {
					marketMap[m.ConditionID] = m
				}
			}
		}
	}

	markets := make([]GammaMarket, 0, len(marketMap))
	for _, m := range marketMap {
		markets = append(markets, m)
	}

	for i := 0; i < len(markets)-1; i++ {
		for j := i + 1; j < len(markets); j++ {
			if markets[j].Volume24hr > markets[i].Volume24hr {
				markets[i], markets[j] = markets[j], markets[i]
			}
		}
	}

	if len(markets) > limit {
		markets = markets[:limit]
	}

	return markets, nil
}

func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
