package chat

import (
	"context"
	"errors"

	"AstroBot/entity"
)

// Messenger is the platform UI adapter. Each platform implements this to
// handle platform-specific message delivery.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendInlineOptions(ctx context.Context, chatID, text string, buttons []InlineButton) error
	SendTyping(ctx context.Context, chatID string) error
}

// InlineButton is a selectable option; Data carries the option id back.
type InlineButton struct {
	Text string
	Data string
}

// Submitter accepts normalized inbound events; the Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, ev entity.InboundEvent)
}

var ErrNoChatID = errors.New("outbound event has no chat id")

// MessengerSender delivers OutboundEvents through a Messenger.
type MessengerSender struct {
	Messenger Messenger
}

func (s MessengerSender) Send(ctx context.Context, ev entity.OutboundEvent) error {
	if ev.ChatID == "" {
		return ErrNoChatID
	}
	if len(ev.Options) == 0 {
		return s.Messenger.SendText(ctx, ev.ChatID, ev.Text)
	}
	buttons := make([]InlineButton, len(ev.Options))
	for i, o := range ev.Options {
		buttons[i] = InlineButton{Text: o.Label, Data: o.ID}
	}
	return s.Messenger.SendInlineOptions(ctx, ev.ChatID, ev.Text, buttons)
}
