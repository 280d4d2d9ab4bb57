package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/platform/httpx"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Handler serves site stock, issue, return and consumption endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers inventory routes on an /api router.
func (h *Handler) MountRoutes(r chi.Router, requireActor func(http.Handler) http.Handler) {
	r.Get("/materials", h.listMaterials)
	r.Get("/materials/{id}", h.getMaterial)
	r.Get("/materials/{id}/movements", h.stockCard)
	r.Get("/issues", h.listIssues)
	r.Get("/issues/{id}", h.getIssue)
	r.Get("/returns", h.listReturns)
	r.Get("/consumptions", h.listConsumptions)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)
		r.Post("/materials", h.registerMaterial)
		r.Post("/transfers", h.transfer)
		r.Post("/issues", h.createIssue)
		r.Patch("/issues/{id}/confirm", h.confirmIssue)
		r.Patch("/issues/{id}/receive", h.receiveIssue)
		r.Patch("/issues/{id}/cancel", h.cancelIssue)
		r.Post("/returns", h.createReturn)
		r.Post("/consumptions", h.createConsumption)
	})
}

type registerMaterialRequest struct {
	ProjectID   int64 `json:"project_id" validate:"required,gt=0"`
	ItemID      int64 `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64 `json:"warehouse_id" validate:"required,gt=0"`
}

type transferRequest struct {
	FromMaterialID int64           `json:"from_material_id" validate:"required,gt=0"`
	ToProjectID    int64           `json:"to_project_id" validate:"required,gt=0"`
	ToWarehouseID  int64           `json:"to_warehouse_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note"`
}

type issueRequest struct {
	ProjectID  int64           `json:"project_id" validate:"required,gt=0"`
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReceivedBy int64           `json:"received_by" validate:"gte=0"`
	MRRID      int64           `json:"mrr_id" validate:"gte=0"`
	POID       int64           `json:"po_id" validate:"gte=0"`
	ReceiptID  int64           `json:"receipt_id" validate:"gte=0"`
	IssueDate  *time.Time      `json:"issue_date"`
	Note       string          `json:"note"`
	Pending    bool            `json:"pending"`
}

type returnRequest struct {
	IssueID       int64           `json:"issue_id" validate:"required,gt=0"`
	ProjectID     int64           `json:"project_id" validate:"gte=0"`
	MaterialID    int64           `json:"material_id" validate:"gte=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	QualityStatus string          `json:"quality_status" validate:"omitempty,oneof=GOOD DAMAGED DEFECTIVE"`
	ApprovedBy    int64           `json:"approved_by" validate:"gte=0"`
	Remarks       string          `json:"remarks"`
}

type consumptionRequest struct {
	IssueID         int64           `json:"issue_id" validate:"gte=0"`
	ProjectID       int64           `json:"project_id" validate:"gte=0"`
	MaterialID      int64           `json:"material_id" validate:"gte=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	ConsumptionType string          `json:"consumption_type" validate:"omitempty,oneof=ACTUAL WASTAGE THEFT DAMAGE"`
	ConsumptionDate *time.Time      `json:"consumption_date"`
	Remarks         string          `json:"remarks"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return false
	}
	if err := httpx.ValidateStruct(h.validator, target); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return false
	}
	return true
}

func (h *Handler) registerMaterial(w http.ResponseWriter, r *http.Request) {
	var req registerMaterialRequest
	if !h.decode(w, r, &req) {
		return
	}
	material, err := h.service.RegisterMaterial(r.Context(), RegisterMaterialInput{
		ProjectID:   req.ProjectID,
		ItemID:      req.ItemID,
		WarehouseID: req.WarehouseID,
		ActorID:     httpx.ActorID(r),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, material)
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	itemID, err := httpx.QueryInt64(r, "item_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	warehouseID, err := httpx.QueryInt64(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page := httpx.QueryPage(r)
	materials, total, err := h.service.ListMaterials(r.Context(), MaterialFilter{
		ProjectID:   projectID,
		ItemID:      itemID,
		WarehouseID: warehouseID,
		Limit:       page.Limit(),
		Offset:      page.Offset(),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pagination := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Material]{Data: materials, Pagination: &pagination})
}

func (h *Handler) getMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	material, err := h.service.GetMaterial(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, material)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.StockCard(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Movement]{Data: movements})
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.service.Transfer(r.Context(), TransferInput{
		FromMaterialID: req.FromMaterialID,
		ToProjectID:    req.ToProjectID,
		ToWarehouseID:  req.ToWarehouseID,
		Quantity:       req.Quantity,
		Note:           req.Note,
		ActorID:        httpx.ActorID(r),
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) createIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := IssueInput{
		ProjectID:      req.ProjectID,
		MaterialID:     req.MaterialID,
		Quantity:       req.Quantity,
		IssuedBy:       httpx.ActorID(r),
		ReceivedBy:     req.ReceivedBy,
		MRRID:          req.MRRID,
		POID:           req.POID,
		ReceiptID:      req.ReceiptID,
		Note:           req.Note,
		Pending:        req.Pending,
		IdempotencyKey: httpx.IdempotencyKey(r),
	}
	if req.IssueDate != nil {
		input.IssueDate = *req.IssueDate
	}
	issue, err := h.service.Issue(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, issue)
}

func (h *Handler) getIssue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	issue, err := h.service.GetIssue(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issue)
}

func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request) {
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
	page := httpx.QueryPage(r)
	issues, total, err := h.service.ListIssues(r.Context(), IssueFilter{
		ProjectID:  projectID,
		MaterialID: materialID,
		Status:     IssueStatus(r.URL.Query().Get("status")),
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pagination := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Issue]{Data: issues, Pagination: &pagination})
}

func (h *Handler) confirmIssue(w http.ResponseWriter, r *http.Request) {
	h.issueAction(w, r, h.service.ConfirmIssue)
}

func (h *Handler) receiveIssue(w http.ResponseWriter, r *http.Request) {
	h.issueAction(w, r, h.service.MarkReceived)
}

func (h *Handler) cancelIssue(w http.ResponseWriter, r *http.Request) {
	h.issueAction(w, r, h.service.CancelIssue)
}

func (h *Handler) issueAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id, actorID int64) (Issue, error)) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	issue, err := action(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issue)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	ret, err := h.service.ReturnMaterial(r.Context(), ReturnInput{
		IssueID:        req.IssueID,
		ProjectID:      req.ProjectID,
		MaterialID:     req.MaterialID,
		Quantity:       req.Quantity,
		QualityStatus:  QualityStatus(req.QualityStatus),
		ReturnedBy:     httpx.ActorID(r),
		ApprovedBy:     req.ApprovedBy,
		Remarks:        req.Remarks,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) createConsumption(w http.ResponseWriter, r *http.Request) {
	var req consumptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ConsumeInput{
		IssueID:        req.IssueID,
		ProjectID:      req.ProjectID,
		MaterialID:     req.MaterialID,
		Quantity:       req.Quantity,
		Type:           ConsumptionType(req.ConsumptionType),
		RecordedBy:     httpx.ActorID(r),
		Remarks:        req.Remarks,
		IdempotencyKey: httpx.IdempotencyKey(r),
	}
	if req.ConsumptionDate != nil {
		input.ConsumptionDate = *req.ConsumptionDate
	}
	c, err := h.service.Consume(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) ledgerFilter(w http.ResponseWriter, r *http.Request) (LedgerFilter, bool) {
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return LedgerFilter{}, false
	}
	issueID, err := httpx.QueryInt64(r, "issue_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return LedgerFilter{}, false
	}
	page := httpx.QueryPage(r)
	return LedgerFilter{ProjectID: projectID, IssueID: issueID, Limit: page.Limit(), Offset: page.Offset()}, true
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.ledgerFilter(w, r)
	if !ok {
		return
	}
	returns, err := h.service.ListReturns(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Return]{Data: returns})
}

func (h *Handler) listConsumptions(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.ledgerFilter(w, r)
	if !ok {
		return
	}
	consumptions, err := h.service.ListConsumptions(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Consumption]{Data: consumptions})
}
