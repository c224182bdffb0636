// Package telegram forwards operator-facing alerts to a Telegram chat.
// It has no command loop: the bot is a one-way notifier, not a control
// surface, so wiring it stays a single goroutine draining the store's
// alert channel.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"polymarket-updown/internal/config"
	"polymarket-updown/pkg/types"
)

// Notifier forwards alerts to a Telegram chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// New dials the Telegram bot API with the configured token. Returns
// (nil, nil) if telegram isn't configured, so callers can treat a nil
// Notifier as "disabled" rather than threading a bool through.
func New(cfg config.TelegramConfig, logger *slog.Logger) (*Notifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &Notifier{
		api:    api,
		chatID: cfg.ChatID,
		logger: logger.With("component", "telegram"),
	}, nil
}

// NotifyStartup announces the bot coming online.
func (n *Notifier) NotifyStartup(assets []string, dryRun bool) {
	mode := "LIVE"
	if dryRun {
		mode = "DRY-RUN"
	}
	n.send(fmt.Sprintf("🚀 divergence bot started\nmode: %s\nassets: %v", mode, assets))
}

// Run drains alerts until ctx is cancelled, forwarding each to the chat.
// Every alert gets an emoji prefix: ⚠️ for WARNING, 🛑 for ERROR and
// CRITICAL, and ℹ️ for any other severity.
func (n *Notifier) Run(ctx context.Context, alerts <-chan types.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-alerts:
			n.send(n.format(a))
		}
	}
}

func (n *Notifier) format(a types.Alert) string {
	emoji := "ℹ️"
	switch a.Severity {
	case "WARNING":
		emoji = "⚠️"
	case "ERROR", "CRITICAL":
		emoji = "🛑"
	}
	return fmt.Sprintf("%s %s", emoji, a.Message)
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("telegram send failed", "error", err)
	}
}
