package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// POLineInput describes one order line. MRRLineNo selects the MRR line to copy
// when ordering from an MRR; Quantity then defaults to the requested quantity.
type POLineInput struct {
	MRRLineNo int
	ItemID    int64
	UnitID    int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreatePOInput carries purchase order header and lines.
type CreatePOInput struct {
	MRRID                int64
	ProjectID            int64
	SupplierID           int64
	CreatedBy            int64
	Tax                  *decimal.Decimal
	PODate               time.Time
	ExpectedDeliveryDate *time.Time
	Note                 string
	Items                []POLineInput
}

// CreatePOFromMRR raises a DRAFT order for an APPROVED MRR. Item, unit and
// project are taken from the MRR.
func (s *Service) CreatePOFromMRR(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if input.MRRID <= 0 {
		return PurchaseOrder{}, shared.NewValidationError("mrr_id", "is required")
	}
	mrr, err := s.repo.GetMRR(ctx, input.MRRID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if mrr.Status != MRRStatusApproved {
		return PurchaseOrder{}, shared.Conflictf("mrr %s is %s, purchase orders need an approved mrr", mrr.Number, mrr.Status)
	}
	if input.ProjectID != 0 && input.ProjectID != mrr.ProjectID {
		return PurchaseOrder{}, shared.NewValidationError("project_id", "does not match the mrr project")
	}

	lines := make(map[int]MRRItem, len(mrr.Items))
	for _, line := range mrr.Items {
		lines[line.LineNo] = line
	}
	verr := &shared.ValidationError{}
	if len(input.Items) == 0 {
		verr.Add("items", "a unit price is required for each ordered mrr line")
	}
	items := make([]POLineInput, 0, len(input.Items))
	seen := make(map[int]bool, len(input.Items))
	for i, in := range input.Items {
		line, ok := lines[in.MRRLineNo]
		if !ok {
			verr.Add(fmt.Sprintf("items[%d].mrr_line_no", i), "unknown mrr line")
			continue
		}
		if seen[in.MRRLineNo] {
			verr.Add(fmt.Sprintf("items[%d].mrr_line_no", i), "line ordered twice")
			continue
		}
		seen[in.MRRLineNo] = true
		qty := in.Quantity
		if qty.IsZero() {
			qty = line.Quantity
		}
		items = append(items, POLineInput{
			MRRLineNo: line.LineNo,
			ItemID:    line.ItemID,
			UnitID:    line.UnitID,
			Quantity:  qty,
			UnitPrice: in.UnitPrice,
		})
	}
	if err := verr.OrNil(); err != nil {
		return PurchaseOrder{}, err
	}
	input.ProjectID = mrr.ProjectID
	input.Items = items
	return s.createPO(ctx, input)
}

// CreateStandalonePO raises a DRAFT order without an MRR. The project is
// optional.
func (s *Service) CreateStandalonePO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	input.MRRID = 0
	return s.createPO(ctx, input)
}

func (s *Service) createPO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	verr := &shared.ValidationError{}
	if input.SupplierID <= 0 {
		verr.Add("supplier_id", "is required")
	}
	if len(input.Items) == 0 {
		verr.Add("items", "at least one line is required")
	}
	if input.Tax != nil {
		if input.Tax.IsNegative() {
			verr.Add("tax", "must not be negative")
		} else if !fitsScale(*input.Tax) {
			verr.Add("tax", "must have at most 4 decimal places")
		}
	}
	refs := []catalog.Ref{{Kind: catalog.KindSupplier, ID: input.SupplierID}}
	if input.ProjectID != 0 {
		refs = append(refs, catalog.Ref{Kind: catalog.KindProject, ID: input.ProjectID})
	}
	for i, line := range input.Items {
		if line.ItemID <= 0 {
			verr.Add(fmt.Sprintf("items[%d].item_id", i), "is required")
		}
		if line.UnitID <= 0 {
			verr.Add(fmt.Sprintf("items[%d].unit_id", i), "is required")
		}
		if !line.Quantity.IsPositive() {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		} else if !fitsScale(line.Quantity) {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must have at most 4 decimal places")
		}
		if line.UnitPrice.IsNegative() {
			verr.Add(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		} else if !fitsScale(line.UnitPrice) {
			verr.Add(fmt.Sprintf("items[%d].unit_price", i), "must have at most 4 decimal places")
		}
		refs = append(refs, catalog.Ref{Kind: catalog.KindItem, ID: line.ItemID}, catalog.Ref{Kind: catalog.KindUnit, ID: line.UnitID})
	}
	if err := verr.OrNil(); err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.require(ctx, refs...); err != nil {
		return PurchaseOrder{}, err
	}

	now := s.now()
	po := PurchaseOrder{
		Number:               shared.DocumentNumber("PO", now),
		MRRID:                input.MRRID,
		ProjectID:            input.ProjectID,
		SupplierID:           input.SupplierID,
		Status:               POStatusDraft,
		CreatedBy:            input.CreatedBy,
		PODate:               dateOr(input.PODate, now),
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Note:                 input.Note,
		CreatedAt:            now,
	}
	for i, line := range input.Items {
		po.Items = append(po.Items, POItem{
			LineNo:           i + 1,
			ItemID:           line.ItemID,
			UnitID:           line.UnitID,
			QuantityOrdered:  line.Quantity,
			UnitPrice:        line.UnitPrice,
			QuantityReceived: decimal.Zero,
		})
	}
	po.Subtotal, po.Tax, po.Total = computeTotals(po.Items, input.Tax, s.cfg.DefaultTaxRate)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertPO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	for i := range po.Items {
		po.Items[i].POID = po.ID
	}
	s.ensureSubmit(ctx, "PO", po.ID, input.CreatedBy, fmt.Sprintf("PO %s drafted", po.Number))
	s.recordAudit(ctx, input.CreatedBy, "PO_CREATE", "purchase_order", po.ID, map[string]any{
		"number": po.Number,
		"mrr_id": po.MRRID,
		"total":  po.Total.String(),
	})
	return po, nil
}

// computeTotals fills line totals and returns subtotal, tax and total. Line
// totals are exact products; with 4-dp inputs they fit the 8-dp columns.
// A nil tax applies rate percent, rounded to cents.
func computeTotals(items []POItem, tax *decimal.Decimal, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	subtotal := decimal.Zero
	for i := range items {
		items[i].LineTotal = items[i].QuantityOrdered.Mul(items[i].UnitPrice)
		subtotal = subtotal.Add(items[i].LineTotal)
	}
	var taxAmount decimal.Decimal
	if tax != nil {
		taxAmount = *tax
	} else {
		taxAmount = subtotal.Mul(rate).Div(hundred).Round(2)
	}
	return subtotal, taxAmount, subtotal.Add(taxAmount)
}

// fitsScale reports whether v is stored without rounding in a NUMERIC(18,4)
// column.
func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Round(4))
}

// ApprovePO moves a DRAFT order to APPROVED.
func (s *Service) ApprovePO(ctx context.Context, poID, approverID int64, note string) (PurchaseOrder, error) {
	po, err := s.transitionPO(ctx, poID, approverID, POStatusApproved)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, "PO", po.ID, approverID, shared.ApprovalApprove, note)
	return po, nil
}

// PlacePO sends an APPROVED order to the supplier. The notification runs after
// commit and its failure never fails the call.
func (s *Service) PlacePO(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	po, err := s.transitionPO(ctx, poID, actorID, POStatusPlaced)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.notifyPlaced(ctx, po, actorID)
	return po, nil
}

// AcknowledgePO records the supplier's confirmation of a PLACED order.
func (s *Service) AcknowledgePO(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transitionPO(ctx, poID, actorID, POStatusAcknowledged)
}

// CancelPO cancels an order that has not been placed yet.
func (s *Service) CancelPO(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transitionPO(ctx, poID, actorID, POStatusCancelled)
}

// ClosePO short-closes a received order.
func (s *Service) ClosePO(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	return s.transitionPO(ctx, poID, actorID, POStatusClosed)
}

func (s *Service) transitionPO(ctx context.Context, poID, actorID int64, next POStatus) (PurchaseOrder, error) {
	var po PurchaseOrder
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if !po.Status.CanTransitionTo(next) {
			return shared.Conflictf("purchase order %s cannot move from %s to %s", po.Number, po.Status, next)
		}
		if next == POStatusApproved {
			if err := tx.SetPOApproval(ctx, po.ID, actorID, now); err != nil {
				return err
			}
			po.ApprovedBy = actorID
			po.ApprovedAt = &now
		}
		if err := tx.UpdatePOStatus(ctx, po.ID, next); err != nil {
			return err
		}
		po.Status = next
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_"+string(next), "purchase_order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

func (s *Service) notifyPlaced(ctx context.Context, po PurchaseOrder, actorID int64) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	event := POPlacedEvent{
		POID:       po.ID,
		Number:     po.Number,
		SupplierID: po.SupplierID,
		ProjectID:  po.ProjectID,
		Total:      po.Total,
		PlacedBy:   actorID,
		PlacedAt:   s.now(),
	}
	if err := s.notifier.NotifyPOPlaced(notifyCtx, event); err != nil {
		s.logger.Warn("po placed notification", slog.Int64("po_id", po.ID), slog.Any("error", err))
	}
}

// GetPO returns a purchase order with its lines.
func (s *Service) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPOs lists purchase order headers.
func (s *Service) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, shared.NewValidationError("status", "unknown purchase order status")
	}
	return s.repo.ListPOs(ctx, filter)
}
