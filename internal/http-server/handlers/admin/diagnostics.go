package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"AstroBot/internal/lib/api/response"
)

func Diagnostics(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok(handler.Diagnostics()))
	}
}
