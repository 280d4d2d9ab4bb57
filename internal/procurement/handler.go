package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/platform/httpx"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Handler exposes procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers procurement routes on an /api router.
func (h *Handler) MountRoutes(r chi.Router, requireActor func(http.Handler) http.Handler) {
	r.Route("/mrrs", func(r chi.Router) {
		r.Get("/", h.listMRRs)
		r.Get("/{id}", h.getMRR)
		r.Group(func(r chi.Router) {
			r.Use(requireActor)
			r.Post("/", h.createMRR)
			r.Patch("/{id}/decision", h.decideMRR)
		})
	})
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Get("/", h.listPOs)
		r.Get("/{id}", h.getPO)
		r.Group(func(r chi.Router) {
			r.Use(requireActor)
			r.Post("/", h.createPO)
			r.Patch("/{id}/approve", h.approvePO)
			r.Patch("/{id}/place", h.poAction(h.service.PlacePO))
			r.Patch("/{id}/acknowledge", h.poAction(h.service.AcknowledgePO))
			r.Patch("/{id}/cancel", h.poAction(h.service.CancelPO))
			r.Patch("/{id}/close", h.poAction(h.service.ClosePO))
		})
	})
	r.Route("/receipts", func(r chi.Router) {
		r.Get("/", h.listReceipts)
		r.Get("/{id}", h.getReceipt)
		r.With(requireActor).Post("/", h.createReceipt)
	})
}

type mrrLineRequest struct {
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	UnitID   int64           `json:"unit_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note"`
}

type createMRRRequest struct {
	ProjectID int64            `json:"project_id" validate:"required,gt=0"`
	Note      string           `json:"note"`
	Items     []mrrLineRequest `json:"items" validate:"required,min=1,dive"`
}

type decideMRRRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Note     string `json:"note"`
}

type poLineRequest struct {
	MRRLineNo int             `json:"mrr_line_no" validate:"gte=0"`
	ItemID    int64           `json:"item_id" validate:"gte=0"`
	UnitID    int64           `json:"unit_id" validate:"gte=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createPORequest struct {
	MRRID                int64            `json:"mrr_id" validate:"gte=0"`
	ProjectID            int64            `json:"project_id" validate:"gte=0"`
	SupplierID           int64            `json:"supplier_id" validate:"required,gt=0"`
	Tax                  *decimal.Decimal `json:"tax"`
	PODate               *time.Time       `json:"po_date"`
	ExpectedDeliveryDate *time.Time       `json:"expected_delivery_date"`
	Note                 string           `json:"note"`
	Items                []poLineRequest  `json:"items" validate:"required,min=1,dive"`
}

type approvePORequest struct {
	Note string `json:"note"`
}

type receiptLineRequest struct {
	POItemID         int64           `json:"po_item_id" validate:"required,gt=0"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	QualityStatus    string          `json:"quality_status" validate:"omitempty,oneof=GOOD DAMAGED DEFECTIVE"`
	Remarks          string          `json:"remarks"`
}

type createReceiptRequest struct {
	POID        int64                `json:"po_id" validate:"required,gt=0"`
	ProjectID   int64                `json:"project_id" validate:"gte=0"`
	WarehouseID int64                `json:"warehouse_id" validate:"required,gt=0"`
	ReceiptDate *time.Time           `json:"receipt_date"`
	Note        string               `json:"note"`
	Items       []receiptLineRequest `json:"items" validate:"required,min=1,dive"`
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

func (h *Handler) createMRR(w http.ResponseWriter, r *http.Request) {
	var req createMRRRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreateMRRInput{ProjectID: req.ProjectID, RequestedBy: httpx.ActorID(r), Note: req.Note}
	for _, line := range req.Items {
		input.Items = append(input.Items, MRRItemInput{ItemID: line.ItemID, UnitID: line.UnitID, Quantity: line.Quantity, Note: line.Note})
	}
	mrr, err := h.service.CreateMRR(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mrr)
}

func (h *Handler) decideMRR(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req decideMRRRequest
	if !h.decode(w, r, &req) {
		return
	}
	mrr, err := h.service.DecideMRR(r.Context(), DecideMRRInput{
		MRRID:      id,
		ApproverID: httpx.ActorID(r),
		Decision:   MRRStatus(req.Decision),
		Note:       req.Note,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mrr)
}

func (h *Handler) getMRR(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	mrr, err := h.service.GetMRR(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mrr)
}

func (h *Handler) listMRRs(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page := httpx.QueryPage(r)
	mrrs, total, err := h.service.ListMRRs(r.Context(), MRRFilter{
		ProjectID: projectID,
		Status:    MRRStatus(r.URL.Query().Get("status")),
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pagination := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[MRR]{Data: mrrs, Pagination: &pagination})
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreatePOInput{
		MRRID:                req.MRRID,
		ProjectID:            req.ProjectID,
		SupplierID:           req.SupplierID,
		CreatedBy:            httpx.ActorID(r),
		Tax:                  req.Tax,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Note:                 req.Note,
	}
	if req.PODate != nil {
		input.PODate = *req.PODate
	}
	for _, line := range req.Items {
		input.Items = append(input.Items, POLineInput{
			MRRLineNo: line.MRRLineNo,
			ItemID:    line.ItemID,
			UnitID:    line.UnitID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	var (
		po  PurchaseOrder
		err error
	)
	if input.MRRID != 0 {
		po, err = h.service.CreatePOFromMRR(r.Context(), input)
	} else {
		po, err = h.service.CreateStandalonePO(r.Context(), input)
	}
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) approvePO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req approvePORequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.ApprovePO(r.Context(), id, httpx.ActorID(r), req.Note)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) poAction(action func(ctx context.Context, poID, actorID int64) (PurchaseOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		po, err := action(r.Context(), id, httpx.ActorID(r))
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	po, err := h.service.GetPO(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	supplierID, err := httpx.QueryInt64(r, "supplier_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page := httpx.QueryPage(r)
	pos, total, err := h.service.ListPOs(r.Context(), POFilter{
		ProjectID:  projectID,
		SupplierID: supplierID,
		Status:     POStatus(r.URL.Query().Get("status")),
		Limit:      page.Limit(),
		Offset:     page.Offset(),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pagination := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[PurchaseOrder]{Data: pos, Pagination: &pagination})
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreateReceiptInput{
		POID:           req.POID,
		ProjectID:      req.ProjectID,
		WarehouseID:    req.WarehouseID,
		ReceivedBy:     httpx.ActorID(r),
		Note:           req.Note,
		IdempotencyKey: httpx.IdempotencyKey(r),
	}
	if req.ReceiptDate != nil {
		input.ReceiptDate = *req.ReceiptDate
	}
	for _, line := range req.Items {
		input.Items = append(input.Items, ReceiptLineInput{
			POItemID:      line.POItemID,
			Quantity:      line.QuantityReceived,
			QualityStatus: inventory.QualityStatus(line.QualityStatus),
			Remarks:       line.Remarks,
		})
	}
	receipt, err := h.service.CreateReceipt(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.QueryInt64(r, "po_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	projectID, err := httpx.QueryInt64(r, "project_id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page := httpx.QueryPage(r)
	receipts, total, err := h.service.ListReceipts(r.Context(), ReceiptFilter{
		POID:      poID,
		ProjectID: projectID,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	pagination := shared.NewPagination(page.Page, page.PerPage, total)
	httpx.JSON(w, http.StatusOK, httpx.ListResponse[Receipt]{Data: receipts, Pagination: &pagination})
}
