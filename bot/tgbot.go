package bot

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"

	"AstroBot/internal/lib/sl"
)

type messageSender interface {
	SendMessage(chatId int64, text string, opts *tgbotapi.SendMessageOpts) (*tgbotapi.Message, error)
}

// TgBot forwards operator alerts to the admin chat. It never polls.
type TgBot struct {
	log         *slog.Logger
	api         messageSender
	botUsername string
	adminId     int64
}

func NewTgBot(botName, apiKey string, adminId int64, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log:         log.With(sl.Module("tgbot")),
		adminId:     adminId,
		botUsername: botName,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

// SendMessage implements logger.AlertSender.
func (t *TgBot) SendMessage(msg string) {
	t.plainResponse(t.adminId, msg)
}

func (t *TgBot) plainResponse(chatId int64, text string) {
	sanitized := sanitize(text)
	if sanitized == "" {
		t.log.With(slog.Int64("id", chatId)).Debug("empty message")
		return
	}

	_, err := t.api.SendMessage(chatId, sanitized, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err == nil {
		return
	}
	t.log.With(slog.Int64("id", chatId)).Warn("sending message", sl.Err(err))
	// plain text fallback
	_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{})
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Error("sending safe message", sl.Err(err))
	}
}

// sanitize escapes MarkdownV2 reserved characters.
func sanitize(input string) string {
	const reserved = "\\`_*[]()~>#+-=|{}.!"
	var sb strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reserved, char) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(char)
	}
	return sb.String()
}
