package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"

	"AstroBot/bot/chat"
	"AstroBot/bot/chat/telegram"
	"AstroBot/internal/lib/sl"
)

// UserBot polls Telegram for user updates and feeds them to the dispatcher.
type UserBot struct {
	log         *slog.Logger
	api         *tgbotapi.Bot
	botUsername string
	submitter   chat.Submitter
}

// NewUserBot creates a new user bot instance.
func NewUserBot(botName, apiKey string, submitter chat.Submitter, log *slog.Logger) (*UserBot, error) {
	bot := &UserBot{
		log:         log.With(sl.Module("userbot")),
		botUsername: botName,
		submitter:   submitter,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	bot.api = api

	return bot, nil
}

// API exposes the client for the outbound messenger.
func (b *UserBot) API() telegram.TelegramAPI {
	return b.api
}

// Start polls until ctx is done.
func (b *UserBot) Start(ctx context.Context) error {
	dispatcher := b.newDispatcher()
	updater := ext.NewUpdater(dispatcher, nil)

	err := updater.StartPolling(b.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	b.log.Info("user bot started", slog.String("username", b.botUsername))

	<-ctx.Done()
	return updater.Stop()
}

// newDispatcher handles one update at a time so Submit sees a user's
// messages in arrival order. Submit does not block, so this costs nothing.
func (b *UserBot) newDispatcher() *ext.Dispatcher {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(bot *tgbotapi.Bot, c *ext.Context, err error) ext.DispatcherAction {
			b.log.Error("handling update", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: 1,
	})
	dispatcher.AddHandler(handlers.NewCallback(optionCallback, b.handleCallback))
	dispatcher.AddHandler(handlers.NewMessage(message.Text, b.handleMessage))
	return dispatcher
}

func optionCallback(cq *tgbotapi.CallbackQuery) bool {
	return strings.HasPrefix(cq.Data, telegram.OptionPrefix)
}

func (b *UserBot) handleCallback(bot *tgbotapi.Bot, c *ext.Context) error {
	cq := c.CallbackQuery
	if ev, ok := telegram.CallbackEvent(cq); ok {
		b.submitter.Submit(context.Background(), ev)
	}
	if _, err := cq.Answer(bot, nil); err != nil {
		b.log.Debug("answer callback", sl.Err(err))
	}
	return nil
}

func (b *UserBot) handleMessage(bot *tgbotapi.Bot, c *ext.Context) error {
	ev, ok := telegram.MessageEvent(c.EffectiveMessage)
	if !ok {
		return nil
	}
	b.submitter.Submit(context.Background(), ev)
	return nil
}
