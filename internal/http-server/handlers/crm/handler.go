package crm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"AstroBot/entity"
	"AstroBot/impl/core"
	"AstroBot/internal/lib/api/response"
	"AstroBot/internal/lib/sl"
)

// Core defines the methods required by transcript handlers.
type Core interface {
	GetActiveChats(ctx context.Context) ([]entity.ChatSummary, error)
	GetChatMessages(ctx context.Context, platform, userKey string, limit, offset int) ([]entity.ChatMessage, error)
}

// GetChats returns the list of active chats with last message info.
func GetChats(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chats, err := handler.GetActiveChats(r.Context())
		if err != nil {
			failed(w, r, log, err, "Failed to get chats")
			return
		}

		if chats == nil {
			chats = []entity.ChatSummary{}
		}

		render.JSON(w, r, response.Ok(chats))
	}
}

// GetMessages returns paginated message history for a specific chat.
func GetMessages(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform := chi.URLParam(r, "platform")
		userID := chi.URLParam(r, "user_id")

		if platform == "" || userID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("platform and user_id are required"))
			return
		}
		userKey := entity.UserKey(platform, userID)

		limit := 50
		offset := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
				limit = v
			}
		}
		if o := r.URL.Query().Get("offset"); o != "" {
			if v, err := strconv.Atoi(o); err == nil && v >= 0 {
				offset = v
			}
		}

		messages, err := handler.GetChatMessages(r.Context(), platform, userKey, limit, offset)
		if err != nil {
			failed(w, r, log.With(sl.UserKey(userKey)), err, "Failed to get messages")
			return
		}

		if messages == nil {
			messages = []entity.ChatMessage{}
		}

		render.JSON(w, r, response.Ok(messages))
	}
}

func failed(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, message string) {
	if errors.Is(err, core.ErrNoTranscripts) {
		render.Status(r, http.StatusNotImplemented)
		render.JSON(w, r, response.Error("Transcripts are not enabled"))
		return
	}
	log.Error(message, sl.Err(err))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, response.Error(message))
}
