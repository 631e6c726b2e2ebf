package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dugoutlabs/clubkeeper/internal/config"
)

// TelegramSender is the slice of the bot API we use (allows mocking).
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier DMs sweep summaries to an operator chat.
type TelegramNotifier struct {
	bot    TelegramSender
	chatID int64
}

func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Printf("[telegram] notifier authorized as @%s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID}, nil
}

// NewTelegramNotifierWithSender wires a custom sender (for testing).
func NewTelegramNotifierWithSender(sender TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: sender, chatID: chatID}
}

func (t *TelegramNotifier) Notify(text string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
