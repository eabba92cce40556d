package whatsapp

import (
	"log/slog"
	"net/http"

	"AstroBot/internal/lib/sl"
)

// Webhook is implemented by the WhatsApp Cloud API transport.
type Webhook interface {
	HandleWebhookVerification(w http.ResponseWriter, r *http.Request)
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

// WebhookVerify handles GET requests for webhook verification
func WebhookVerify(log *slog.Logger, bot Webhook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.With(sl.Module("whatsapp.webhook")).Debug("webhook verification request")
		bot.HandleWebhookVerification(w, r)
	}
}

// WebhookHandler handles POST requests for incoming messages
func WebhookHandler(log *slog.Logger, bot Webhook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.With(sl.Module("whatsapp.webhook")).Debug("webhook message received")
		bot.HandleWebhook(w, r)
	}
}
