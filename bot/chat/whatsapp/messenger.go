package whatsapp

import (
	"context"

	"AstroBot/bot/chat"
	"AstroBot/entity"
)

// MessageSender can send a text message to a recipient.
type MessageSender interface {
	SendMessage(ctx context.Context, recipientPhone, text string) error
}

// Messenger implements chat.Messenger for WhatsApp. Options are rendered as
// a numbered list; the user answers with the number.
type Messenger struct {
	sender MessageSender
	footer string
}

func NewMessenger(sender MessageSender, footer string) *Messenger {
	return &Messenger{sender: sender, footer: footer}
}

func (m *Messenger) SendText(ctx context.Context, chatID, text string) error {
	return m.sender.SendMessage(ctx, chatID, text)
}

func (m *Messenger) SendInlineOptions(ctx context.Context, chatID, text string, buttons []chat.InlineButton) error {
	options := make([]entity.RenderedOption, len(buttons))
	for i, b := range buttons {
		options[i] = entity.RenderedOption{ID: b.Data, Label: b.Text}
	}
	return m.sender.SendMessage(ctx, chatID, chat.FormatNumberedMenu(text, options, m.footer))
}

func (m *Messenger) SendTyping(_ context.Context, chatID string) error {
	return nil
}
