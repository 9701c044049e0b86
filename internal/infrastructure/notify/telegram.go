package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier delivers messages to the chat configured for each account.
// Accounts without a chat are skipped.
type TelegramNotifier struct {
	api     sender
	chatIDs map[domain.Account]int64
	logger  *zap.Logger
}

func NewTelegramNotifier(token string, chatIDs map[domain.Account]int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info("Telegram notifier ready", zap.String("bot", api.Self.UserName), zap.Int("chats", len(chatIDs)))
	return newTelegramNotifier(api, chatIDs, logger), nil
}

func newTelegramNotifier(api sender, chatIDs map[domain.Account]int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		api:     api,
		chatIDs: chatIDs,
		logger:  logger.With(zap.String("component", "telegram")),
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, account domain.Account, message string) error {
	chatID, ok := n.chatIDs[account]
	if !ok {
		n.logger.Debug("No chat configured, message dropped", zap.String("account", account.String()))
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, message)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %s: %w", account, err)
	}
	return nil
}

// LogNotifier writes messages to the log. Used when Telegram is not set up.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(zap.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, account domain.Account, message string) error {
	n.logger.Info("Notification", zap.String("user", account.UserID), zap.String("exchange", account.Exchange), zap.String("message", message))
	return nil
}
