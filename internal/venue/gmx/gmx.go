// Package gmx adapts GMX's subgraph (GraphQL-over-HTTP, queried like any
// other REST endpoint through a Resilient HTTP Core client) into a
// venue.Adapter. No pack example targets GMX directly; this follows the
// nearest structural analog in the retrieved corpus — polymarket.go's
// "httpcore.Client.Post + Decode[T]" read pattern — generalized from a JSON
// REST body to a GraphQL query string. GMX coverage here is deliberately
// narrow: majors only (BTC/ETH-class markets), consulted as the fallback
// venue after Hyperliquid in the Protocol Short executor (spec.md §4.C.2).
// Reads go through the subgraph only; no on-chain RPC client is wired, since
// GMX's own subgraph already mirrors the on-chain GLP/GMX market state at
// the resolution the strategy executors need.
package gmx

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedgecore/internal/domain"
	"hedgecore/internal/httpcore"
	"hedgecore/internal/venue"
)

const fundingIntervalHours = 1 // GMX publishes an hourly borrow/funding rate

// majors is the closed set of markets GMX coverage extends to in this
// adapter. GMX supports far more markets on-chain; majors-only keeps the
// fallback venue's market-not-found path exercised for everything else,
// matching spec.md §4.C.2's "fall through on failure" executor contract.
var majors = map[string]string{
	"BTC": "0x47c031236e19d024b42f8AE6780E44A573170703",
	"ETH": "0x70d95587d40A2caf56bd97485aB3Eec10Bee6336",
}

// Client is the GMX venue adapter. subgraph serves market discovery reads;
// router submits orders through GMX's off-chain order-relay service (the
// same keeper-relay path GMX's own frontend uses), keeping this adapter
// free of on-chain transaction signing.
type Client struct {
	logger   *zap.Logger
	subgraph *httpcore.Client
	router   *httpcore.Client
	account  string
}

func NewClient(logger *zap.Logger, subgraph, router *httpcore.Client, account string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger.Named("venue.gmx"), subgraph: subgraph, router: router, account: account}
}

func (c *Client) Name() domain.Venue { return domain.VenueGmx }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type marketInfoResponse struct {
	Data struct {
		MarketInfo struct {
			IndexTokenPrice      string `json:"indexTokenPrice"`
			FundingFactorPerHour string `json:"fundingFactorPerHour"`
			ReservedUsd          string `json:"reservedUsd"`
			MaxLeverage          string `json:"maxLeverage"`
		} `json:"marketInfo"`
	} `json:"data"`
}

const marketInfoQuery = `query MarketInfo($market: String!) {
  marketInfo(id: $market) {
    indexTokenPrice
    fundingFactorPerHour
    reservedUsd
    maxLeverage
  }
}`

// DiscoverMarket resolves sel.Asset (e.g. "BTC", "ETH") to GMX's current
// index price, hourly funding, and reserved (tradable) liquidity. Anything
// outside the majors set reports venue.ErrMarketNotFound so the Protocol
// Short executor falls through to Binance Futures.
func (c *Client) DiscoverMarket(ctx context.Context, sel venue.MarketSelector) (domain.VenueMarketSnapshot, error) {
	asset := sel.Asset
	if asset == "" {
		asset = sel.Instrument
	}
	marketAddr, ok := majors[asset]
	if !ok {
		return domain.VenueMarketSnapshot{}, venue.ErrMarketNotFound
	}

	resp, err := c.subgraph.Post(ctx, "/subgraphs/name/gmx-io/synthetics-arbitrum-stats", graphqlRequest{
		Query:     marketInfoQuery,
		Variables: map[string]any{"market": marketAddr},
	}, nil)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("gmx: discover market: %w", err)
	}
	out, err := httpcore.Decode[marketInfoResponse](resp, "subgraph")
	if err != nil {
		return domain.VenueMarketSnapshot{}, err
	}
	info := out.Data.MarketInfo
	if info.IndexTokenPrice == "" {
		return domain.VenueMarketSnapshot{}, venue.ErrMarketNotFound
	}

	price, err := parseDecimalString(info.IndexTokenPrice)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("gmx: parse index price: %w", err)
	}
	fundingHourly, err := parseDecimalString(info.FundingFactorPerHour)
	if err != nil {
		fundingHourly = 0
	}
	reserved, _ := parseDecimalString(info.ReservedUsd)
	maxLev, err := parseDecimalString(info.MaxLeverage)
	if err != nil || maxLev <= 0 {
		maxLev = 50
	}

	return domain.VenueMarketSnapshot{
		Venue:             domain.VenueGmx,
		Instrument:        asset,
		MarkPrice:         price,
		SpotPrice:         price,
		FundingRateHourly: venue.NormalizeFundingToHourly(fundingHourly, fundingIntervalHours),
		OpenInterestUSD:   reserved,
		MaxLeverage:       maxLev,
		ObservedAt:        time.Now(),
		Source:            domain.SourceREST,
	}, nil
}

// parseDecimalString parses GMX's fixed-point-as-string numeric fields. The
// subgraph returns 1e30-scaled integers for USD amounts in its raw form, but
// the synthetics-stats subgraph's convenience fields (used above) already
// report human-readable decimal strings, so a plain float parse suffices.
func parseDecimalString(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	return v, err
}

type routerOrderRequest struct {
	Account     string `json:"account"`
	Market      string `json:"market"`
	IsLong      bool   `json:"isLong"`
	SizeUsd     string `json:"sizeDeltaUsd"`
	AcceptPrice string `json:"acceptablePrice"`
}

type routerOrderResponse struct {
	OrderKey   string  `json:"orderKey"`
	ExecutedSz float64 `json:"executedSizeUsd"`
	ExecutedPx float64 `json:"executedPrice"`
}

// PlaceOrder submits an increase/decrease order through GMX's order relay.
// isLong is the inverse of req.Side for a short-perp hedge (venue.OrderSell
// opens a short, i.e. isLong=false).
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	marketAddr, ok := majors[req.Instrument]
	if !ok {
		return venue.OrderResult{}, venue.ErrMarketNotFound
	}

	resp, err := c.router.Post(ctx, "/orders", routerOrderRequest{
		Account:     c.account,
		Market:      marketAddr,
		IsLong:      req.Side == venue.OrderBuy,
		SizeUsd:     fmt.Sprintf("%f", req.SizeUSD),
		AcceptPrice: fmt.Sprintf("%f", req.LimitPrice),
	}, nil)
	if err != nil {
		return venue.OrderResult{}, fmt.Errorf("gmx: place order: %w", err)
	}
	out, err := httpcore.Decode[routerOrderResponse](resp, "router")
	if err != nil {
		return venue.OrderResult{}, err
	}

	return venue.OrderResult{
		ExternalOrderID: out.OrderKey,
		FilledQuantity:  out.ExecutedSz / out.ExecutedPx,
		FilledPrice:     out.ExecutedPx,
		FilledAt:        time.Now(),
	}, nil
}

// ClosePosition submits a full-size decrease order for externalPositionID
// (a market asset symbol, since the router keys positions by account+market
// rather than by order id).
func (c *Client) ClosePosition(ctx context.Context, externalPositionID string) (venue.CloseResult, error) {
	status, err := c.QueryPosition(ctx, externalPositionID)
	if err != nil {
		return venue.CloseResult{}, err
	}
	if status.Quantity == 0 {
		return venue.CloseResult{ClosedAt: time.Now()}, nil
	}

	side := venue.OrderSell
	qty := status.Quantity
	if qty < 0 {
		side = venue.OrderBuy
		qty = -qty
	}

	result, err := c.PlaceOrder(ctx, venue.OrderRequest{
		Instrument: externalPositionID,
		Side:       side,
		SizeUSD:    qty * status.MarkPrice,
		Kind:       venue.OrderKindMarket,
	})
	if err != nil {
		return venue.CloseResult{}, fmt.Errorf("gmx: close position: %w", err)
	}

	pnl := (result.FilledPrice - status.EntryPrice) * qty
	if side == venue.OrderBuy {
		pnl = -pnl
	}
	return venue.CloseResult{RealizedPnLUSD: pnl, ClosedAt: time.Now()}, nil
}

type routerPosition struct {
	SizeInTokens   float64 `json:"sizeInTokens"`
	IsLong         bool    `json:"isLong"`
	EntryPrice     string  `json:"entryPrice"`
	LiquidationPrice string `json:"liquidationPrice"`
}

func (c *Client) QueryPosition(ctx context.Context, externalPositionID string) (venue.PositionStatus, error) {
	marketAddr, ok := majors[externalPositionID]
	if !ok {
		return venue.PositionStatus{}, venue.ErrMarketNotFound
	}

	resp, err := c.router.Get(ctx, fmt.Sprintf("/positions?account=%s&market=%s", c.account, marketAddr), nil)
	if err != nil {
		return venue.PositionStatus{}, fmt.Errorf("gmx: query position: %w", err)
	}
	pos, err := httpcore.Decode[routerPosition](resp, "router")
	if err != nil {
		return venue.PositionStatus{}, err
	}

	snapshot, err := c.DiscoverMarket(ctx, venue.MarketSelector{Asset: externalPositionID})
	if err != nil {
		return venue.PositionStatus{}, err
	}

	entry, _ := parseDecimalString(pos.EntryPrice)
	liq, _ := parseDecimalString(pos.LiquidationPrice)
	qty := pos.SizeInTokens
	if !pos.IsLong {
		qty = -qty
	}

	return venue.PositionStatus{
		Quantity:         qty,
		EntryPrice:       entry,
		MarkPrice:        snapshot.MarkPrice,
		LiquidationPrice: liq,
	}, nil
}

func (c *Client) QueryFundingRate(ctx context.Context, instrument string) (float64, error) {
	snapshot, err := c.DiscoverMarket(ctx, venue.MarketSelector{Asset: instrument})
	if err != nil {
		return 0, err
	}
	return snapshot.FundingRateHourly, nil
}

var _ venue.Adapter = (*Client)(nil)
