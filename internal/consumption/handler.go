package consumption

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitepro/sitepro-erp/internal/platform/httpx"
)

// Handler serves the consumption report.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the report route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/consumption-report", h.report)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	materialID, err := httpx.QueryInt64(r, "material_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	report, err := h.service.Calculate(r.Context(), Filter{ProjectID: projectID, MaterialID: materialID})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
