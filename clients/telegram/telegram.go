package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"hedgecore/clients/notifier"
	"hedgecore/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendHedgeAlert sends a hedge-lifecycle alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendHedgeAlert(alert notifier.HedgeAlert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	message := tc.buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram hedge alert",
		zap.String("kind", alert.Kind),
		zap.String("positionID", alert.PositionID),
	)
}

func (tc *TelegramClient) buildAlertMessage(alert notifier.HedgeAlert) string {
	var sb strings.Builder

	title := tc.buildAlertTitle(alert.Kind)
	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(title)))

	if alert.Detail != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", escapeMarkdown(alert.Detail)))
	}

	sb.WriteString(fmt.Sprintf("*Policy:* %s\n", escapeMarkdown(alert.PolicyID)))
	sb.WriteString(fmt.Sprintf("*Position:* %s\n", escapeMarkdown(alert.PositionID)))
	sb.WriteString(fmt.Sprintf("*Venue:* %s\n", escapeMarkdown(alert.Venue)))
	sb.WriteString(fmt.Sprintf("*Strategy:* %s\n", escapeMarkdown(alert.Strategy)))
	sb.WriteString(fmt.Sprintf("*Instrument:* %s\n", escapeMarkdown(alert.Instrument)))
	sb.WriteString(fmt.Sprintf("*Notional:* $%.2f\n", alert.NotionalUSD))

	pst, _ := time.LoadLocation("America/Los_Angeles")
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_hedgecore • %s_", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func (tc *TelegramClient) buildAlertTitle(kind string) string {
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

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf(telegramAPIURL, tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
