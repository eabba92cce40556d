package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AstroBot/entity"
)

type capture struct {
	mu     sync.Mutex
	events []entity.InboundEvent
}

func (c *capture) Submit(_ context.Context, ev entity.InboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

const payload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "messages": [
      {"from": "4915", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hello"}},
      {"from": "4915", "id": "wamid.2", "timestamp": "1700000001", "type": "interactive",
       "interactive": {"type": "button_reply", "button_reply": {"id": "horoscope", "title": "Horoscope"}}},
      {"from": "4915", "id": "wamid.3", "timestamp": "1700000002", "type": "image"}
    ]}}]}]
}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newBot(t *testing.T, sub *capture, secret string) *WhatsAppBot {
	t.Helper()
	return NewWhatsAppBot(Options{
		VerifyToken: "verify",
		AppSecret:   func() string { return secret },
	}, sub, slog.Default())
}

func TestEventsNormalizesMessages(t *testing.T) {
	sub := &capture{}
	b := newBot(t, sub, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	b.HandleWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sub.events, 2)

	first := sub.events[0]
	require.Equal(t, "whatsapp:4915", first.UserKey)
	require.Equal(t, "wamid.1", first.MessageID)
	require.Equal(t, "hello", first.Text)
	require.Equal(t, "4915", first.ChatID)
	require.Equal(t, int64(1700000000), first.Timestamp.Unix())

	require.Equal(t, "horoscope", sub.events[1].SelectedOptionID)
}

func TestHandleWebhookChecksSignature(t *testing.T) {
	sub := &capture{}
	b := newBot(t, sub, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", sign("other", payload))
	rec := httptest.NewRecorder()
	b.HandleWebhook(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, sub.events)

	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", payload))
	rec = httptest.NewRecorder()
	b.HandleWebhook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sub.events, 2)
}

func TestHandleWebhookRejectsMalformedBody(t *testing.T) {
	b := newBot(t, &capture{}, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	b.HandleWebhook(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookVerification(t *testing.T) {
	b := newBot(t, &capture{}, "")

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	b.HandleWebhookVerification(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "42", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil)
	rec = httptest.NewRecorder()
	b.HandleWebhookVerification(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendMessage(t *testing.T) {
	var gotAuth, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	token := "first"
	b := NewWhatsAppBot(Options{
		AccessToken:   func() string { return token },
		PhoneNumberID: "555",
		BaseURL:       srv.URL,
	}, &capture{}, slog.Default())

	require.NoError(t, b.SendMessage(context.Background(), "4915", "hi"))
	require.Equal(t, "Bearer first", gotAuth)
	require.Equal(t, "/555/messages", gotPath)
	require.Contains(t, gotBody, `"to":"4915"`)
	require.Contains(t, gotBody, `"body":"hi"`)

	token = "rotated"
	require.NoError(t, b.SendMessage(context.Background(), "4915", "again"))
	require.Equal(t, "Bearer rotated", gotAuth)
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewWhatsAppBot(Options{BaseURL: srv.URL}, &capture{}, slog.Default())
	err := b.SendMessage(context.Background(), "4915", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestSendMessageHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b := NewWhatsAppBot(Options{BaseURL: srv.URL}, &capture{}, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.SendMessage(ctx, "4915", "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestVerifySignature(t *testing.T) {
	body := []byte("x")
	require.True(t, VerifySignature("k", body, sign("k", "x")))
	require.False(t, VerifySignature("k", body, "sha1=abc"))
	require.False(t, VerifySignature("k", body, ""))
}
