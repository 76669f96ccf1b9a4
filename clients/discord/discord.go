package discord

import (
	"fmt"
	"hedgecore/clients/notifier"
	"hedgecore/config"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// SendMessage sends a plain text message (kept for backwards compatibility).
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping message")
		return
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, message)
	if err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord message")
}

// SendHedgeAlert sends a rich embedded hedge-lifecycle alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendHedgeAlert(alert notifier.HedgeAlert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildHedgeEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord hedge alert",
		zap.String("kind", alert.Kind),
		zap.String("positionID", alert.PositionID),
	)
}

func (dc *DiscordClient) buildHedgeEmbed(alert notifier.HedgeAlert) *discordgo.MessageEmbed {
	color := 0x3498DB // Blue for info
	switch alert.Severity {
	case notifier.SeverityWarning:
		color = 0xF39C12
	case notifier.SeverityCritical:
		color = 0xE74C3C
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Venue", Value: alert.Venue, Inline: true},
		{Name: "Strategy", Value: alert.Strategy, Inline: true},
		{Name: "Instrument", Value: alert.Instrument, Inline: true},
		{Name: "Notional", Value: fmt.Sprintf("$%.2f", alert.NotionalUSD), Inline: true},
		{Name: "Policy", Value: alert.PolicyID, Inline: true},
		{Name: "Position", Value: alert.PositionID, Inline: true},
	}

	description := alert.Detail
	if description == "" {
		description = alert.Kind
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pst, _ := time.LoadLocation("America/Los_Angeles")
	footerText := fmt.Sprintf("hedgecore * %s", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)"))

	return &discordgo.MessageEmbed{
		Title:       dc.buildAlertTitle(alert.Kind),
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func (dc *DiscordClient) buildAlertTitle(kind string) string {
	switch kind {
	case "HedgeOpened":
		return "🟢 Hedge Opened"
	case "HedgeClosed":
		return "🔵 Hedge Closed"
	case "HedgeLiquidated":
		return "🔴 Hedge Liquidated"
	case "HedgeFailed":
		return "⚠️ Hedge Execution Failed"
	case "LiquidationRiskWarning":
		return "🚨 Liquidation Risk Warning"
	case "LiquidationRiskCritical":
		return "🔥 Liquidation Risk Critical"
	case "VenueCircuitOpen":
		return "⛔ Venue Circuit Open"
	case "VenueCircuitClosed":
		return "✅ Venue Circuit Closed"
	case "ReconciliationDrift":
		return "📊 Reconciliation Drift Detected"
	default:
		return "🔔 Hedge Alert"
	}
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
