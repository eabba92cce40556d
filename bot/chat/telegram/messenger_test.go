package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/stretchr/testify/require"

	"AstroBot/bot/chat"
)

type fakeAPI struct {
	ctx     context.Context
	chatID  int64
	text    string
	opts    *tgbotapi.SendMessageOpts
	actions []string
}

func (f *fakeAPI) SendMessageWithContext(ctx context.Context, chatId int64, text string, opts *tgbotapi.SendMessageOpts) (*tgbotapi.Message, error) {
	f.ctx, f.chatID, f.text, f.opts = ctx, chatId, text, opts
	return &tgbotapi.Message{}, nil
}

func (f *fakeAPI) SendChatActionWithContext(_ context.Context, chatId int64, action string, _ *tgbotapi.SendChatActionOpts) (bool, error) {
	f.actions = append(f.actions, action)
	return true, nil
}

func TestSendInlineOptionsOnePerRow(t *testing.T) {
	api := &fakeAPI{}
	m := NewMessenger(api)

	err := m.SendInlineOptions(context.Background(), "42", "Pick", []chat.InlineButton{
		{Text: "Horoscope", Data: "horoscope"},
		{Text: "Back", Data: "back"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), api.chatID)

	markup, ok := api.opts.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	require.Equal(t, "o:horoscope", markup.InlineKeyboard[0][0].CallbackData)
	require.Equal(t, "Back", markup.InlineKeyboard[1][0].Text)
}

func TestSendTextRejectsBadChatID(t *testing.T) {
	m := NewMessenger(&fakeAPI{})
	require.Error(t, m.SendText(context.Background(), "abc", "x"))
	require.NoError(t, m.SendText(context.Background(), "7", "x"))
}

type ctxKey struct{}

func TestSendTextPassesContext(t *testing.T) {
	api := &fakeAPI{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "delivery")
	require.NoError(t, NewMessenger(api).SendText(ctx, "7", "x"))
	require.Equal(t, "delivery", api.ctx.Value(ctxKey{}))
}

func TestSendTyping(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, NewMessenger(api).SendTyping(context.Background(), "7"))
	require.Equal(t, []string{"typing"}, api.actions)
}

func TestMessageEvent(t *testing.T) {
	ev, ok := MessageEvent(&tgbotapi.Message{
		MessageId: 10,
		Date:      1700000000,
		Text:      "menu",
		From:      &tgbotapi.User{Id: 99},
		Chat:      tgbotapi.Chat{Id: 99},
	})
	require.True(t, ok)
	require.Equal(t, "telegram:99", ev.UserKey)
	require.Equal(t, "10", ev.MessageID)
	require.Equal(t, "99", ev.ChatID)
	require.Equal(t, "menu", ev.Text)

	_, ok = MessageEvent(&tgbotapi.Message{From: &tgbotapi.User{Id: 1}})
	require.False(t, ok)
	_, ok = MessageEvent(nil)
	require.False(t, ok)
}

func TestCallbackEvent(t *testing.T) {
	ev, ok := CallbackEvent(&tgbotapi.CallbackQuery{
		Id:   "abc",
		From: tgbotapi.User{Id: 5},
		Data: "o:life_path",
	})
	require.True(t, ok)
	require.Equal(t, "telegram:5", ev.UserKey)
	require.Equal(t, "cb:abc", ev.MessageID)
	require.Equal(t, "life_path", ev.SelectedOptionID)
	require.Equal(t, "5", ev.ChatID)

	_, ok = CallbackEvent(&tgbotapi.CallbackQuery{Id: "x", Data: "other"})
	require.False(t, ok)
}
