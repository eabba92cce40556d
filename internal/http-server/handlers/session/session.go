package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"AstroBot/impl/core"
	"AstroBot/internal/lib/api/response"
	"AstroBot/internal/lib/sl"
)

// Get returns the stored session of ?user=<platform>:<id>.
func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userKey := r.URL.Query().Get("user")
		if userKey == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Missing user parameter"))
			return
		}

		s, err := handler.GetSession(r.Context(), userKey)
		if errors.Is(err, core.ErrSessionNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("Session not found"))
			return
		}
		if err != nil {
			log.Error("get session", sl.UserKey(userKey), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to load session"))
			return
		}

		render.JSON(w, r, response.Ok(s))
	}
}

// Reset deletes the session of ?user=; the next message starts over.
func Reset(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userKey := r.URL.Query().Get("user")
		if userKey == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Missing user parameter"))
			return
		}

		if err := handler.ResetSession(r.Context(), userKey); err != nil {
			log.Error("reset session", sl.UserKey(userKey), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Reset failed: "+err.Error()))
			return
		}

		render.JSON(w, r, response.Ok("Session reset successfully"))
	}
}
