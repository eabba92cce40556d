package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"AstroBot/impl/core"
	"AstroBot/internal/lib/api/response"
	"AstroBot/internal/lib/sl"
)

type reloadResult struct {
	Flows       []string `json:"flows"`
	MissingKeys []string `json:"missingKeys,omitempty"`
}

// ReloadFlows re-reads the flow directory. A catalog that references keys
// missing from the default bundle is rejected with 409 and the previous
// flows stay active.
func ReloadFlows(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.admin"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		missing, err := handler.ReloadFlows(r.Context())
		if err != nil && !errors.Is(err, core.ErrMissingResources) {
			logger.Error("reload flows", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(fmt.Sprintf("Reload failed: %v", err)))
			return
		}
		if len(missing) > 0 {
			logger.Warn("flow reload rejected, missing resources", slog.Int("missing", len(missing)))
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Response{
				Message: "Reload rejected: default bundle misses keys",
				Data: reloadResult{
					Flows:       handler.Diagnostics().Flows,
					MissingKeys: missing,
				},
			})
			return
		}

		render.JSON(w, r, response.Ok(reloadResult{
			Flows: handler.Diagnostics().Flows,
		}))
	}
}
