// Package binance adapts github.com/adshao/go-binance/v2/futures into a
// venue.Adapter, grounded on
// other_examples/d18f3410_RomanBarashcov-cryptoMegaBot's binanceclient
// adapter: one *futures.Client field, an op-named error wrapper, and
// string<->float64 conversions at the library boundary since the SDK
// represents prices and quantities as strings.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"hedgecore/internal/domain"
	"hedgecore/internal/venue"
)

const fundingIntervalHours = 8 // Binance USDT-M perps fund every 8 hours

// Client is the Binance USDT-M Futures venue adapter.
type Client struct {
	logger  *zap.Logger
	futures *futures.Client
}

// NewClient builds a Client from API credentials. An empty apiKey/secretKey
// pair still constructs successfully, matching the teacher grounding's
// choice to allow public-endpoint-only use and fail loudly only when a
// private call is actually attempted.
func NewClient(logger *zap.Logger, apiKey, secretKey string, testnet bool) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	fc := futures.NewClient(apiKey, secretKey)
	if testnet {
		fc.BaseURL = "https://testnet.binancefuture.com"
	}
	return &Client{logger: logger.Named("venue.binance"), futures: fc}
}

func (c *Client) Name() domain.Venue { return domain.VenueBinanceFutures }

func (c *Client) handleError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("binance: %s: %w", op, err)
}

// DiscoverMarket reports mark price, hourly-normalized funding, and open
// interest for sel.Instrument (a Binance symbol, e.g. "ETHUSDT").
func (c *Client) DiscoverMarket(ctx context.Context, sel venue.MarketSelector) (domain.VenueMarketSnapshot, error) {
	symbol := sel.Instrument
	if symbol == "" {
		symbol = sel.Asset + "USDT"
	}

	premiums, err := c.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.VenueMarketSnapshot{}, c.handleError("DiscoverMarket", err)
	}
	if len(premiums) == 0 {
		return domain.VenueMarketSnapshot{}, venue.ErrMarketNotFound
	}
	p := premiums[0]

	markPrice, err := strconv.ParseFloat(p.MarkPrice, 64)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("binance: parse mark price %q: %w", p.MarkPrice, err)
	}
	rate8h, err := strconv.ParseFloat(p.LastFundingRate, 64)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("binance: parse funding rate %q: %w", p.LastFundingRate, err)
	}

	oi, err := c.futures.NewOpenInterestService().Symbol(symbol).Do(ctx)
	var oiUSD float64
	if err == nil && oi != nil {
		oiQty, _ := strconv.ParseFloat(oi.OpenInterest, 64)
		oiUSD = oiQty * markPrice
	} else {
		c.logger.Warn("open interest lookup failed, liquidity cap unavailable", zap.String("symbol", symbol), zap.Error(err))
	}

	return domain.VenueMarketSnapshot{
		Venue:             domain.VenueBinanceFutures,
		Instrument:        symbol,
		MarkPrice:         markPrice,
		SpotPrice:         markPrice,
		FundingRateHourly: venue.NormalizeFundingToHourly(rate8h, fundingIntervalHours),
		OpenInterestUSD:   oiUSD,
		MaxLeverage:       20,
		ObservedAt:        time.Now(),
		Source:            domain.SourceREST,
	}, nil
}

// PlaceOrder converts req.SizeUSD at the current mark price into a contract
// quantity and submits a market or limit order. Leverage is set before
// order submission when req.Leverage > 0.
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	if req.Leverage > 0 {
		if _, err := c.futures.NewChangeLeverageService().
			Symbol(req.Instrument).
			Leverage(int(req.Leverage)).
			Do(ctx); err != nil {
			return venue.OrderResult{}, c.handleError("SetLeverage", err)
		}
	}

	markPrice, err := c.currentMarkPrice(ctx, req.Instrument)
	if err != nil {
		return venue.OrderResult{}, err
	}
	quantity := req.SizeUSD / markPrice

	side := futures.SideTypeBuy
	if req.Side == venue.OrderSell {
		side = futures.SideTypeSell
	}

	builder := c.futures.NewCreateOrderService().
		Symbol(req.Instrument).
		Side(side).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64))

	if req.Kind == venue.OrderKindLimit {
		builder = builder.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(req.LimitPrice, 'f', -1, 64))
	} else {
		builder = builder.Type(futures.OrderTypeMarket)
	}

	order, err := builder.Do(ctx)
	if err != nil {
		return venue.OrderResult{}, c.handleError("PlaceOrder", err)
	}

	filledPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	filledQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return venue.OrderResult{
		ExternalOrderID: strconv.FormatInt(order.OrderID, 10),
		FilledQuantity:  filledQty,
		FilledPrice:     filledPrice,
		FilledAt:        time.Now(),
	}, nil
}

// ClosePosition submits a reduce-only market order for the full open size.
// Idempotent: a position already fully closed has zero PositionAmt, so
// GetPositionRisk returns no rows and ClosePosition reports a no-op close.
func (c *Client) ClosePosition(ctx context.Context, externalPositionID string) (venue.CloseResult, error) {
	symbol := externalPositionID
	positions, err := c.futures.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return venue.CloseResult{}, c.handleError("ClosePosition", err)
	}
	if len(positions) == 0 {
		return venue.CloseResult{ClosedAt: time.Now()}, nil
	}

	pos := positions[0]
	qty, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	if qty == 0 {
		return venue.CloseResult{ClosedAt: time.Now()}, nil
	}

	side := futures.SideTypeSell
	if qty < 0 {
		side = futures.SideTypeBuy
		qty = -qty
	}

	order, err := c.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return venue.CloseResult{}, c.handleError("ClosePosition", err)
	}

	entry, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	filledQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	pnl := (fillPrice - entry) * filledQty
	if side == futures.SideTypeBuy {
		pnl = -pnl
	}

	return venue.CloseResult{RealizedPnLUSD: pnl, ClosedAt: time.Now()}, nil
}

func (c *Client) QueryPosition(ctx context.Context, externalPositionID string) (venue.PositionStatus, error) {
	positions, err := c.futures.NewGetPositionRiskService().Symbol(externalPositionID).Do(ctx)
	if err != nil {
		return venue.PositionStatus{}, c.handleError("QueryPosition", err)
	}
	if len(positions) == 0 {
		return venue.PositionStatus{}, nil
	}
	p := positions[0]

	qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
	entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
	mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
	liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)

	return venue.PositionStatus{
		Quantity:         qty,
		EntryPrice:       entry,
		MarkPrice:        mark,
		LiquidationPrice: liq,
	}, nil
}

func (c *Client) QueryFundingRate(ctx context.Context, instrument string) (float64, error) {
	premiums, err := c.futures.NewPremiumIndexService().Symbol(instrument).Do(ctx)
	if err != nil {
		return 0, c.handleError("QueryFundingRate", err)
	}
	if len(premiums) == 0 {
		return 0, venue.ErrMarketNotFound
	}
	rate8h, err := strconv.ParseFloat(premiums[0].LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse funding rate: %w", err)
	}
	return venue.NormalizeFundingToHourly(rate8h, fundingIntervalHours), nil
}

func (c *Client) currentMarkPrice(ctx context.Context, symbol string) (float64, error) {
	premiums, err := c.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError("GetMarkPrice", err)
	}
	if len(premiums) == 0 {
		return 0, venue.ErrMarketNotFound
	}
	return strconv.ParseFloat(premiums[0].MarkPrice, 64)
}

var _ venue.Adapter = (*Client)(nil)
