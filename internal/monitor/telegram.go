package monitor

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramSender is the part of *tgbot.BotAPI used for alerts.
type telegramSender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// TelegramSink posts alerts to one Telegram chat.
type TelegramSink struct {
	bot    telegramSender
	chatID int64
	prefix string
}

// NewTelegramSink connects the bot identified by token. prefix is put in
// front of every message, typically the venue and mode.
func NewTelegramSink(token string, chatID int64, prefix string) (*TelegramSink, error) {
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID, prefix: prefix}, nil
}

func (s *TelegramSink) Send(message string) error {
	text := message
	if s.prefix != "" {
		text = "[" + s.prefix + "] " + message
	}
	if _, err := s.bot.Send(tgbot.NewMessage(s.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
