package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"AstroBot/entity"
)

type Core interface {
	Health() entity.HealthStatus
}

// Status reports the last health check; unhealthy answers 503.
func Status(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := handler.Health()
		if status.Status == entity.StatusUnhealthy {
			render.Status(r, http.StatusServiceUnavailable)
		}
		if status.DegradedServiceIDs == nil {
			status.DegradedServiceIDs = []string{}
		}
		render.JSON(w, r, status)
	}
}
