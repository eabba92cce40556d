package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"AstroBot/bot/chat"
	"AstroBot/entity"
	"AstroBot/internal/lib/jsoncodec"
	"AstroBot/internal/lib/sl"
)

const (
	Platform    = "whatsapp"
	graphAPIURL = "https://graph.facebook.com/v21.0"
)

// Secret returns the current value of a credential; it may change at runtime.
type Secret func() string

type Options struct {
	AccessToken   Secret
	AppSecret     Secret
	VerifyToken   string
	PhoneNumberID string
	BaseURL       string
	Client        *http.Client
}

// WhatsAppBot receives Cloud API webhooks and sends text through the Graph API.
type WhatsAppBot struct {
	log       *slog.Logger
	opts      Options
	submitter chat.Submitter
}

// WebhookPayload represents the incoming webhook payload from WhatsApp
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []WebhookMessage `json:"messages"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

// SendMessageRequest represents the request body for sending a text message
type SendMessageRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

func NewWhatsAppBot(opts Options, submitter chat.Submitter, log *slog.Logger) *WhatsAppBot {
	if opts.BaseURL == "" {
		opts.BaseURL = graphAPIURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.AccessToken == nil {
		opts.AccessToken = func() string { return "" }
	}
	if opts.AppSecret == nil {
		opts.AppSecret = func() string { return "" }
	}
	return &WhatsAppBot{
		log:       log.With(sl.Module("whatsappbot")),
		opts:      opts,
		submitter: submitter,
	}
}

// HandleWebhookVerification handles the GET request for webhook verification
func (b *WhatsAppBot) HandleWebhookVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && b.opts.VerifyToken != "" && token == b.opts.VerifyToken {
		b.log.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	b.log.Warn("webhook verification failed",
		slog.String("mode", mode),
		slog.Bool("token_match", token == b.opts.VerifyToken),
	)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleWebhook verifies and parses a delivery, then queues every message
// in payload order before acknowledging.
func (b *WhatsAppBot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		b.log.Error("failed to read request body", sl.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if secret := b.opts.AppSecret(); secret != "" {
		if !VerifySignature(secret, body, r.Header.Get("X-Hub-Signature-256")) {
			b.log.Warn("invalid webhook signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := jsoncodec.Unmarshal(body, &payload); err != nil {
		b.log.Error("failed to parse webhook payload", sl.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	for _, ev := range Events(payload) {
		b.log.Debug("received message", sl.UserKey(ev.UserKey), slog.String("message_id", ev.MessageID))
		b.submitter.Submit(r.Context(), ev)
	}

	w.WriteHeader(http.StatusOK)
}

// Events normalizes the user messages of a payload. Interactive replies and
// template buttons carry the option id in SelectedOptionID.
func Events(payload WebhookPayload) []entity.InboundEvent {
	if payload.Object != "whatsapp_business_account" {
		return nil
	}
	var events []entity.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, m := range change.Value.Messages {
				ev := entity.InboundEvent{
					UserKey:   entity.UserKey(Platform, m.From),
					MessageID: m.ID,
					Platform:  Platform,
					ChatID:    m.From,
					Timestamp: parseTimestamp(m.Timestamp),
				}
				switch {
				case m.Type == "text" && m.Text != nil && m.Text.Body != "":
					ev.Text = m.Text.Body
				case m.Type == "interactive" && m.Interactive != nil && m.Interactive.ButtonReply != nil:
					ev.SelectedOptionID = m.Interactive.ButtonReply.ID
					ev.Text = m.Interactive.ButtonReply.Title
				case m.Type == "interactive" && m.Interactive != nil && m.Interactive.ListReply != nil:
					ev.SelectedOptionID = m.Interactive.ListReply.ID
					ev.Text = m.Interactive.ListReply.Title
				case m.Type == "button" && m.Button != nil:
					ev.SelectedOptionID = m.Button.Payload
					ev.Text = m.Button.Text
				default:
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// SendMessage sends a text message to the specified recipient. The request
// is bound to ctx.
func (b *WhatsAppBot) SendMessage(ctx context.Context, recipientPhone, text string) error {
	reqBody := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipientPhone,
		Type:             "text",
	}
	reqBody.Text.Body = text

	jsonBody, err := jsoncodec.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", b.opts.BaseURL, b.opts.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.opts.AccessToken())

	resp, err := b.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	b.log.Debug("message sent", slog.String("recipient_phone", recipientPhone))
	return nil
}

// VerifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(secret string, body []byte, signature string) bool {
	if len(signature) < 8 || signature[:7] != "sha256=" {
		return false
	}

	expectedSig := signature[7:]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	actualSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(actualSig))
}
