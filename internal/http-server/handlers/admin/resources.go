package admin

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"AstroBot/internal/lib/api/response"
	"AstroBot/internal/lib/sl"
)

// RefreshResources reloads the resource bundles. The previous snapshot stays
// active when the reload fails.
func RefreshResources(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.admin"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if err := handler.RefreshResources(r.Context()); err != nil {
			logger.Error("refresh resources", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(fmt.Sprintf("Refresh failed: %v", err)))
			return
		}
		logger.Info("resources refreshed")

		render.JSON(w, r, response.Ok(handler.Diagnostics()))
	}
}
