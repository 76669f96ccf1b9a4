// Package polymarket adapts the Polymarket Gamma API (read through its own
// httpcore client, not clients/polymarketapi) plus the Polymarket CLOB REST
// API into a venue.Adapter for prediction-market YES-share hedges.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"hedgecore/internal/domain"
	"hedgecore/internal/httpcore"
	"hedgecore/internal/venue"
)

// Client is the Polymarket venue adapter. gamma serves market discovery
// (condition id, outcome prices); clob serves order placement and position
// queries. Both are Resilient HTTP Core clients, matching spec.md §4.B's
// "wraps a Resilient HTTP Core client" requirement per venue.
type Client struct {
	logger *zap.Logger
	gamma  *httpcore.Client
	clob   *httpcore.Client
}

func NewClient(logger *zap.Logger, gamma, clob *httpcore.Client) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger.Named("venue.polymarket"), gamma: gamma, clob: clob}
}

func (c *Client) Name() domain.Venue { return domain.VenuePolymarket }

type gammaMarket struct {
	ConditionID   string          `json:"conditionId"`
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	Volume24hr    float64         `json:"volume24hr"`
	Liquidity     float64         `json:"liquidityNum"`
	Active        bool            `json:"active"`
}

// DiscoverMarket resolves sel.Instrument (a condition id) or sel.Asset (a
// market question slug) to a VenueMarketSnapshot. Polymarket has no
// leverage and no funding; FundingRateHourly is always zero.
func (c *Client) DiscoverMarket(ctx context.Context, sel venue.MarketSelector) (domain.VenueMarketSnapshot, error) {
	path := "/markets"
	if sel.Instrument != "" {
		path = "/markets?condition_id=" + url.QueryEscape(sel.Instrument)
	} else if sel.Asset != "" {
		path = "/markets?slug=" + url.QueryEscape(sel.Asset)
	}

	resp, err := c.gamma.Get(ctx, path, nil)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("polymarket: discover market: %w", err)
	}
	markets, err := httpcore.Decode[[]gammaMarket](resp, "gamma")
	if err != nil {
		return domain.VenueMarketSnapshot{}, err
	}
	if len(markets) == 0 || !markets[0].Active {
		return domain.VenueMarketSnapshot{}, venue.ErrMarketNotFound
	}

	m := markets[0]
	yesPrice, err := firstOutcomePrice(m.OutcomePrices)
	if err != nil {
		return domain.VenueMarketSnapshot{}, &httpcore.ParseError{Endpoint: "gamma", Cause: err}
	}

	return domain.VenueMarketSnapshot{
		Venue:             domain.VenuePolymarket,
		Instrument:        m.ConditionID,
		MarkPrice:         yesPrice,
		SpotPrice:         yesPrice,
		FundingRateHourly: 0,
		OpenInterestUSD:   m.Liquidity,
		MaxLeverage:       1,
		ObservedAt:        time.Now(),
		Source:            domain.SourceREST,
	}, nil
}

func firstOutcomePrice(raw json.RawMessage) (float64, error) {
	var prices []string
	if err := json.Unmarshal(raw, &prices); err != nil {
		// Gamma often sends the array JSON-encoded inside a string.
		var encoded string
		if serr := json.Unmarshal(raw, &encoded); serr != nil {
			return 0, err
		}
		if err := json.Unmarshal([]byte(encoded), &prices); err != nil {
			return 0, err
		}
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("polymarket: empty outcome prices")
	}
	var yes float64
	if _, err := fmt.Sscanf(prices[0], "%f", &yes); err != nil {
		return 0, err
	}
	return yes, nil
}

type clobOrderRequest struct {
	TokenID        string  `json:"token_id"`
	Side           string  `json:"side"`
	Size           float64 `json:"size"`
	Price          float64 `json:"price"`
	OrderType      string  `json:"order_type"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

type clobOrderResponse struct {
	OrderID       string  `json:"orderID"`
	FilledSize    float64 `json:"filledSize"`
	AveragePrice  float64 `json:"averagePrice"`
	FeeUSD        float64 `json:"feeUsd"`
}

// PlaceOrder buys YES shares (OrderBuy) or sells them (OrderSell) on the
// CLOB. Leverage is ignored; Polymarket positions are fully collateralized.
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	orderType := "FOK"
	if req.Kind == venue.OrderKindLimit {
		orderType = "GTC"
	}

	body := clobOrderRequest{
		TokenID:        req.Instrument,
		Side:           string(req.Side),
		Size:           req.SizeUSD,
		Price:          req.LimitPrice,
		OrderType:      orderType,
		IdempotencyKey: req.IdempotencyKey,
	}

	resp, err := c.clob.Post(ctx, "/order", body, nil)
	if err != nil {
		return venue.OrderResult{}, fmt.Errorf("polymarket: place order: %w", err)
	}
	out, err := httpcore.Decode[clobOrderResponse](resp, "clob")
	if err != nil {
		return venue.OrderResult{}, err
	}

	return venue.OrderResult{
		ExternalOrderID: out.OrderID,
		FilledQuantity:  out.FilledSize,
		FilledPrice:     out.AveragePrice,
		FeeUSD:          out.FeeUSD,
		FilledAt:        time.Now(),
	}, nil
}

type clobPosition struct {
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"avgPrice"`
	MarkPrice  float64 `json:"curPrice"`
}

// ClosePosition sells the full YES-share position QueryPosition reports.
// Idempotent: an already-closed position reports zero size, and the call
// returns a no-op close without submitting an order.
func (c *Client) ClosePosition(ctx context.Context, externalPositionID string) (venue.CloseResult, error) {
	status, err := c.QueryPosition(ctx, externalPositionID)
	if err != nil {
		return venue.CloseResult{}, err
	}
	if status.Quantity == 0 {
		return venue.CloseResult{ClosedAt: time.Now()}, nil
	}

	resp, err := c.clob.Post(ctx, "/order", clobOrderRequest{
		TokenID:   externalPositionID,
		Side:      string(venue.OrderSell),
		Size:      status.Quantity,
		OrderType: "FOK",
	}, nil)
	if err != nil {
		return venue.CloseResult{}, fmt.Errorf("polymarket: close position: %w", err)
	}
	out, err := httpcore.Decode[clobOrderResponse](resp, "clob")
	if err != nil {
		return venue.CloseResult{}, err
	}
	return venue.CloseResult{
		RealizedPnLUSD: out.FilledSize * (out.AveragePrice - status.EntryPrice),
		FeeUSD:         out.FeeUSD,
		ClosedAt:       time.Now(),
	}, nil
}

func (c *Client) QueryPosition(ctx context.Context, externalPositionID string) (venue.PositionStatus, error) {
	resp, err := c.clob.Get(ctx, "/positions?token_id="+url.QueryEscape(externalPositionID), nil)
	if err != nil {
		return venue.PositionStatus{}, fmt.Errorf("polymarket: query position: %w", err)
	}
	p, err := httpcore.Decode[clobPosition](resp, "clob")
	if err != nil {
		return venue.PositionStatus{}, err
	}
	return venue.PositionStatus{
		Quantity:   p.Size,
		EntryPrice: p.EntryPrice,
		MarkPrice:  p.MarkPrice,
		// Polymarket YES shares carry no funding and no liquidation price.
	}, nil
}

// QueryFundingRate always returns ErrUnsupportedOperation: prediction
// markets don't accrue funding.
func (c *Client) QueryFundingRate(ctx context.Context, instrument string) (float64, error) {
	return 0, venue.ErrUnsupportedOperation
}

var _ venue.Adapter = (*Client)(nil)
