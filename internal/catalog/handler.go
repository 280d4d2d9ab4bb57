package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/platform/httpx"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Handler serves catalog endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers catalog routes. Mutations are expected to be wrapped
// by the caller's authentication middleware.
func (h *Handler) MountRoutes(r chi.Router, requireActor func(http.Handler) http.Handler) {
	r.Get("/{kind}", h.list)
	r.Get("/{kind}/{id}", h.get)
	r.With(requireActor).Post("/{kind}", h.create)
}

type createRequest struct {
	Code         string           `json:"code" validate:"required,max=64"`
	Name         string           `json:"name" validate:"required,max=255"`
	Contact      string           `json:"contact"`
	UnitID       int64            `json:"unit_id" validate:"gte=0"`
	CategoryID   int64            `json:"category_id" validate:"gte=0"`
	BrandID      int64            `json:"brand_id" validate:"gte=0"`
	StandardCost *decimal.Decimal `json:"standard_cost"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := httpx.QueryPage(r)
	entries, total, err := h.service.List(r.Context(), ListFilter{
		Kind:   Kind(chi.URLParam(r, "kind")),
		Search: r.URL.Query().Get("search"),
		Limit:  page.Limit(),
		Offset: page.Offset(),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pagination := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Entry]{Data: entries, Pagination: &pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.Get(r.Context(), Kind(chi.URLParam(r, "kind")), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.Create(r.Context(), CreateInput{
		Kind:         Kind(chi.URLParam(r, "kind")),
		Code:         req.Code,
		Name:         req.Name,
		Contact:      req.Contact,
		UnitID:       req.UnitID,
		CategoryID:   req.CategoryID,
		BrandID:      req.BrandID,
		StandardCost: req.StandardCost,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}
