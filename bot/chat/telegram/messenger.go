package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"

	"AstroBot/bot/chat"
	"AstroBot/entity"
)

const (
	Platform = "telegram"
	// OptionPrefix marks callback data produced by option buttons.
	OptionPrefix = "o:"
)

// TelegramAPI defines the Telegram bot methods needed by the messenger.
// This avoids importing the concrete bot type and prevents circular imports.
type TelegramAPI interface {
	SendMessageWithContext(ctx context.Context, chatId int64, text string, opts *tgbotapi.SendMessageOpts) (*tgbotapi.Message, error)
	SendChatActionWithContext(ctx context.Context, chatId int64, action string, opts *tgbotapi.SendChatActionOpts) (bool, error)
}

// Messenger implements chat.Messenger for Telegram using inline keyboards,
// one option per row.
type Messenger struct {
	api TelegramAPI
}

// NewMessenger creates a new Telegram Messenger.
func NewMessenger(api TelegramAPI) *Messenger {
	return &Messenger{api: api}
}

func (m *Messenger) SendText(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return err
	}
	_, err = m.api.SendMessageWithContext(ctx, id, text, nil)
	return err
}

func (m *Messenger) SendInlineOptions(ctx context.Context, chatID, text string, buttons []chat.InlineButton) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return err
	}

	keyboard := make([][]tgbotapi.InlineKeyboardButton, len(buttons))
	for i, btn := range buttons {
		keyboard[i] = []tgbotapi.InlineKeyboardButton{{
			Text:         btn.Text,
			CallbackData: OptionPrefix + btn.Data,
		}}
	}

	_, err = m.api.SendMessageWithContext(ctx, id, text, &tgbotapi.SendMessageOpts{
		ReplyMarkup: tgbotapi.InlineKeyboardMarkup{
			InlineKeyboard: keyboard,
		},
	})
	return err
}

func (m *Messenger) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return err
	}
	_, err = m.api.SendChatActionWithContext(ctx, id, "typing", nil)
	return err
}

// MessageEvent converts a text message. ok is false for updates without text.
func MessageEvent(msg *tgbotapi.Message) (entity.InboundEvent, bool) {
	if msg == nil || msg.Text == "" || msg.From == nil {
		return entity.InboundEvent{}, false
	}
	return entity.InboundEvent{
		UserKey:   entity.UserKey(Platform, strconv.FormatInt(msg.From.Id, 10)),
		MessageID: strconv.FormatInt(msg.MessageId, 10),
		Text:      msg.Text,
		Timestamp: time.Unix(msg.Date, 0),
		Platform:  Platform,
		ChatID:    strconv.FormatInt(msg.Chat.Id, 10),
	}, true
}

// CallbackEvent converts an option button press. Callback ids are unique
// per press, so redelivered queries dedup on them.
func CallbackEvent(cq *tgbotapi.CallbackQuery) (entity.InboundEvent, bool) {
	if cq == nil || !strings.HasPrefix(cq.Data, OptionPrefix) {
		return entity.InboundEvent{}, false
	}
	ev := entity.InboundEvent{
		UserKey:          entity.UserKey(Platform, strconv.FormatInt(cq.From.Id, 10)),
		MessageID:        "cb:" + cq.Id,
		SelectedOptionID: strings.TrimPrefix(cq.Data, OptionPrefix),
		Timestamp:        time.Now(),
		Platform:         Platform,
		ChatID:           strconv.FormatInt(cq.From.Id, 10),
	}
	if m := cq.Message; m != nil {
		ev.ChatID = strconv.FormatInt(m.GetChat().Id, 10)
	}
	return ev, true
}
