// Package marketfeed adapts clients/polymarketevents' gorilla/websocket
// client into a latency optimization on top of Polymarket's REST API
// (SPEC_FULL.md's Domain Stack): a live cache of YES-share trade prices the
// Depeg Executor and the Position Lifecycle Manager can consult for a
// sub-poll-interval mark, while REST remains the source of truth. A feed
// disconnect or a token with no live ticks falls back to REST silently —
// this package never returns an error for "no live price yet", only ok=false.
package marketfeed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hedgecore/clients/polymarketevents"
)

// tick is the last observed trade for one asset (token) id.
type tick struct {
	price      float64
	observedAt time.Time
}

// Feed maintains the latest trade price per Polymarket asset id, fed by a
// single underlying websocket connection. Safe for concurrent use.
type Feed struct {
	logger *zap.Logger
	client *polymarketevents.PolymarketEventsClient

	mu    sync.RWMutex
	ticks map[string]tick

	cancel context.CancelFunc
	done   chan struct{}
}

// New wraps an already-constructed polymarketevents client. Passing a nil
// client yields a Feed whose LastPrice always reports ok=false, so callers
// don't need to branch on whether the feed is configured
// (config.PolymarketConfig.UseMarketFeed == false).
func New(logger *zap.Logger, client *polymarketevents.PolymarketEventsClient) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		logger: logger.Named("marketfeed"),
		client: client,
		ticks:  make(map[string]tick),
	}
}

// Start connects and subscribes to assetIDs, then consumes trade messages
// in the background until ctx is cancelled or Stop is called. A connection
// failure is logged and swallowed: the feed is an optimization, never a
// dependency the caller must handle.
func (f *Feed) Start(ctx context.Context, assetIDs []string) {
	if f.client == nil || len(assetIDs) == 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	if err := f.client.ConnectMarket(runCtx, assetIDs); err != nil {
		f.logger.Warn("market feed connect failed, falling back to REST-only", zap.Error(err))
		close(f.done)
		return
	}

	go f.consume(runCtx)
}

func (f *Feed) consume(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-f.client.Messages():
			if !ok {
				return
			}
			ev := polymarketevents.ParseTradeEvent(msg)
			if ev == nil {
				continue
			}
			price := ev.GetPriceFloat()
			if price <= 0 {
				continue
			}
			f.mu.Lock()
			f.ticks[ev.AssetID] = tick{price: price, observedAt: time.Now()}
			f.mu.Unlock()
		case err, ok := <-f.client.Errors():
			if !ok {
				return
			}
			f.logger.Warn("market feed read error, continuing on REST", zap.Error(err))
		}
	}
}

// LastPrice returns the most recent traded price for assetID and how long
// ago it was observed. ok is false when the feed has never seen a trade for
// this asset, or when maxAge has elapsed since the last one — either case
// means the caller should fall back to a REST snapshot.
func (f *Feed) LastPrice(assetID string, maxAge time.Duration) (price float64, observedAt time.Time, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, found := f.ticks[assetID]
	if !found {
		return 0, time.Time{}, false
	}
	if maxAge > 0 && time.Since(t.observedAt) > maxAge {
		return 0, time.Time{}, false
	}
	return t.price, t.observedAt, true
}

// Stop disconnects the underlying websocket, if one was started.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.client != nil {
		_ = f.client.Close()
	}
	if f.done != nil {
		<-f.done
	}
}
