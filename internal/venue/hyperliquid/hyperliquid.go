// Package hyperliquid adapts the Hyperliquid perps API into a venue.Adapter,
// grounded on other_examples' metaAndAssetCtxs response shape
// (e5f2bfa3_VictorVVedtion-perp-dex and e711ee9f_biteblock-labs-HyperBasis):
// POST {"type":"metaAndAssetCtxs"} to /info returns a two-element array,
// [{universe:[{name,szDecimals,maxLeverage}]}, [{markPx,oraclePx,funding,openInterest}]],
// indexed by position so universe[i] describes assetCtxs[i].
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"hedgecore/internal/domain"
	"hedgecore/internal/httpcore"
	"hedgecore/internal/venue"
)

const fundingIntervalHours = 1 // Hyperliquid publishes an already-hourly funding rate

// Client is the Hyperliquid venue adapter. Broad coverage across DeFi
// protocol tokens makes it the first venue tried by the Protocol Short
// executor (spec.md §4.C.2).
type Client struct {
	logger        *zap.Logger
	info          *httpcore.Client
	exchange      *httpcore.Client
	walletAddress string
}

func NewClient(logger *zap.Logger, info, exchange *httpcore.Client, walletAddress string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger:        logger.Named("venue.hyperliquid"),
		info:          info,
		exchange:      exchange,
		walletAddress: walletAddress,
	}
}

func (c *Client) Name() domain.Venue { return domain.VenueHyperliquid }

type universeEntry struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage float64 `json:"maxLeverage"`
}

type assetCtx struct {
	MarkPx       string `json:"markPx"`
	OraclePx     string `json:"oraclePx"`
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
}

type metaAndAssetCtxsResponse struct {
	meta      struct{ Universe []universeEntry }
	assetCtxs []assetCtx
}

// decodeMetaAndAssetCtxs unmarshals Hyperliquid's heterogeneous two-element
// array response into parallel slices.
func decodeMetaAndAssetCtxs(resp *httpResponse) (metaAndAssetCtxsResponse, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(resp.body, &raw); err != nil {
		return metaAndAssetCtxsResponse{}, fmt.Errorf("hyperliquid: decode metaAndAssetCtxs: %w", err)
	}
	if len(raw) < 2 {
		return metaAndAssetCtxsResponse{}, fmt.Errorf("hyperliquid: metaAndAssetCtxs response has %d elements, want 2", len(raw))
	}

	var out metaAndAssetCtxsResponse
	var meta struct {
		Universe []universeEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return metaAndAssetCtxsResponse{}, fmt.Errorf("hyperliquid: decode universe: %w", err)
	}
	out.meta.Universe = meta.Universe

	if err := json.Unmarshal(raw[1], &out.assetCtxs); err != nil {
		return metaAndAssetCtxsResponse{}, fmt.Errorf("hyperliquid: decode assetCtxs: %w", err)
	}
	return out, nil
}

// httpResponse is a minimal body holder so decodeMetaAndAssetCtxs doesn't
// need to know about http.Response's lifecycle; fetchMetaAndAssetCtxs reads
// and closes the real response once.
type httpResponse struct {
	body []byte
}

func (c *Client) fetchMetaAndAssetCtxs(ctx context.Context) (metaAndAssetCtxsResponse, error) {
	resp, err := c.info.Post(ctx, "/info", map[string]string{"type": "metaAndAssetCtxs"}, nil)
	if err != nil {
		return metaAndAssetCtxsResponse{}, fmt.Errorf("hyperliquid: fetch metaAndAssetCtxs: %w", err)
	}
	raw, err := httpcore.Decode[json.RawMessage](resp, "info")
	if err != nil {
		return metaAndAssetCtxsResponse{}, err
	}
	return decodeMetaAndAssetCtxs(&httpResponse{body: raw})
}

func (c *Client) findAsset(m metaAndAssetCtxsResponse, coin string) (universeEntry, assetCtx, bool) {
	for i, u := range m.meta.Universe {
		if u.Name == coin && i < len(m.assetCtxs) {
			return u, m.assetCtxs[i], true
		}
	}
	return universeEntry{}, assetCtx{}, false
}

// DiscoverMarket reports mark price, hourly funding, and open interest for
// sel.Instrument (a Hyperliquid coin symbol, e.g. "AAVE").
func (c *Client) DiscoverMarket(ctx context.Context, sel venue.MarketSelector) (domain.VenueMarketSnapshot, error) {
	coin := sel.Instrument
	if coin == "" {
		coin = sel.Asset
	}

	m, err := c.fetchMetaAndAssetCtxs(ctx)
	if err != nil {
		return domain.VenueMarketSnapshot{}, err
	}

	u, ctx2, ok := c.findAsset(m, coin)
	if !ok {
		return domain.VenueMarketSnapshot{}, venue.ErrMarketNotFound
	}

	mark, err := strconv.ParseFloat(ctx2.MarkPx, 64)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("hyperliquid: parse markPx %q: %w", ctx2.MarkPx, err)
	}
	oracle, _ := strconv.ParseFloat(ctx2.OraclePx, 64)
	if oracle == 0 {
		oracle = mark
	}
	fundingHourly, err := strconv.ParseFloat(ctx2.Funding, 64)
	if err != nil {
		return domain.VenueMarketSnapshot{}, fmt.Errorf("hyperliquid: parse funding %q: %w", ctx2.Funding, err)
	}
	oi, _ := strconv.ParseFloat(ctx2.OpenInterest, 64)

	maxLev := u.MaxLeverage
	if maxLev <= 0 {
		maxLev = 10
	}

	return domain.VenueMarketSnapshot{
		Venue:             domain.VenueHyperliquid,
		Instrument:        coin,
		MarkPrice:         mark,
		SpotPrice:         oracle,
		FundingRateHourly: venue.NormalizeFundingToHourly(fundingHourly, fundingIntervalHours),
		OpenInterestUSD:   oi * mark,
		MaxLeverage:       maxLev,
		ObservedAt:        time.Now(),
		Source:            domain.SourceREST,
	}, nil
}

type exchangeOrderRequest struct {
	Action    json.RawMessage `json:"action"`
	Nonce     int64           `json:"nonce"`
	Signature json.RawMessage `json:"signature"`
}

// PlaceOrder submits an order to Hyperliquid's /exchange endpoint. The
// request shape mirrors Hyperliquid's wallet-signed action envelope;
// c.walletAddress identifies the account the order is placed for. Wallet
// signing of the action payload is out of scope for this adapter (spec.md
// §1 Non-goals: no wallet custody in this module) — exchange is expected to
// be a Resilient HTTP Core client whose transport layer attaches the
// signature, keeping this adapter itself credential-agnostic.
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	snapshot, err := c.DiscoverMarket(ctx, venue.MarketSelector{Instrument: req.Instrument})
	if err != nil {
		return venue.OrderResult{}, err
	}

	isBuy := req.Side == venue.OrderBuy
	size := req.SizeUSD / snapshot.MarkPrice

	action := map[string]any{
		"type": "order",
		"orders": []map[string]any{{
			"a":   req.Instrument,
			"b":   isBuy,
			"p":   strconv.FormatFloat(req.LimitPrice, 'f', -1, 64),
			"s":   strconv.FormatFloat(size, 'f', -1, 64),
			"r":   false,
			"t":   map[string]any{"limit": map[string]string{"tif": "Ioc"}},
		}},
		"grouping": "na",
	}
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: marshal order action: %w", err)
	}

	body := exchangeOrderRequest{
		Action: actionJSON,
		Nonce:  time.Now().UnixMilli(),
	}

	resp, err := c.exchange.Post(ctx, "/exchange", body, nil)
	if err != nil {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: place order: %w", err)
	}

	type fillResponse struct {
		Status string `json:"status"`
		Response struct {
			Data struct {
				Statuses []struct {
					Filled struct {
						TotalSz string `json:"totalSz"`
						AvgPx   string `json:"avgPx"`
						Oid     int64  `json:"oid"`
					} `json:"filled"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	out, err := httpcore.Decode[fillResponse](resp, "exchange")
	if err != nil {
		return venue.OrderResult{}, err
	}
	if len(out.Response.Data.Statuses) == 0 {
		return venue.OrderResult{}, fmt.Errorf("hyperliquid: order rejected, no fill status returned")
	}
	fill := out.Response.Data.Statuses[0].Filled

	filledQty, _ := strconv.ParseFloat(fill.TotalSz, 64)
	filledPrice, _ := strconv.ParseFloat(fill.AvgPx, 64)

	return venue.OrderResult{
		ExternalOrderID: strconv.FormatInt(fill.Oid, 10),
		FilledQuantity:  filledQty,
		FilledPrice:     filledPrice,
		FilledAt:        time.Now(),
	}, nil
}

// ClosePosition submits a reduce-only market order flattening the full
// position in externalPositionID (a coin symbol, since Hyperliquid carries
// one open position per coin per account rather than distinct order ids).
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
		return venue.CloseResult{}, fmt.Errorf("hyperliquid: close position: %w", err)
	}

	pnl := (result.FilledPrice - status.EntryPrice) * qty
	if side == venue.OrderBuy {
		pnl = -pnl
	}
	return venue.CloseResult{RealizedPnLUSD: pnl, ClosedAt: time.Now()}, nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin           string `json:"coin"`
			Szi            string `json:"szi"`
			EntryPx        string `json:"entryPx"`
			LiquidationPx  string `json:"liquidationPx"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (c *Client) QueryPosition(ctx context.Context, externalPositionID string) (venue.PositionStatus, error) {
	resp, err := c.info.Post(ctx, "/info", map[string]string{
		"type": "clearinghouseState",
		"user": c.walletAddress,
	}, nil)
	if err != nil {
		return venue.PositionStatus{}, fmt.Errorf("hyperliquid: query position: %w", err)
	}
	state, err := httpcore.Decode[clearinghouseState](resp, "info")
	if err != nil {
		return venue.PositionStatus{}, err
	}

	for _, ap := range state.AssetPositions {
		if ap.Position.Coin != externalPositionID {
			continue
		}
		qty, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		entry, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		liq, _ := strconv.ParseFloat(ap.Position.LiquidationPx, 64)

		snapshot, err := c.DiscoverMarket(ctx, venue.MarketSelector{Instrument: externalPositionID})
		if err != nil {
			return venue.PositionStatus{}, err
		}

		return venue.PositionStatus{
			Quantity:         qty,
			EntryPrice:       entry,
			MarkPrice:        snapshot.MarkPrice,
			LiquidationPrice: liq,
		}, nil
	}
	return venue.PositionStatus{}, nil
}

func (c *Client) QueryFundingRate(ctx context.Context, instrument string) (float64, error) {
	snapshot, err := c.DiscoverMarket(ctx, venue.MarketSelector{Instrument: instrument})
	if err != nil {
		return 0, err
	}
	return snapshot.FundingRateHourly, nil
}

var _ venue.Adapter = (*Client)(nil)
