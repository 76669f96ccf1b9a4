package clients

import (
	"hedgecore/clients/discord"
	"hedgecore/clients/gist"
	"hedgecore/clients/notifier"
	"hedgecore/clients/polymarketapi"
	"hedgecore/clients/polymarketevents"
	"hedgecore/clients/telegram"
	"hedgecore/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord          *discord.DiscordClient
	Telegram         *telegram.TelegramClient
	Notifier         notifier.Notifier // Combined notifier for all channels
	Polymarket       *polymarketapi.PolymarketApiClient
	PolymarketEvents *polymarketevents.PolymarketEventsClient
	Gist             *gist.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	c := &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Notifier:   multiNotifier,
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
		Gist:       gist.NewClient(logger, cfg),
	}

	// Only create the WebSocket market-feed client if configured to use it;
	// it is a latency optimization on top of REST, never load-bearing.
	if cfg.Polymarket.UseMarketFeed {
		c.PolymarketEvents = polymarketevents.NewPolymarketEventsClient(logger)
	}

	return c
}
