package procurement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// CreateReceiptInput describes goods delivered against a purchase order.
// ProjectID falls back to the order's project.
type CreateReceiptInput struct {
	POID           int64
	ProjectID      int64
	WarehouseID    int64
	ReceivedBy     int64
	ReceiptDate    time.Time
	Note           string
	IdempotencyKey string
	Items          []ReceiptLineInput
}

// ReceiptLineInput is one delivered line.
type ReceiptLineInput struct {
	POItemID      int64
	Quantity      decimal.Decimal
	QualityStatus inventory.QualityStatus
	Remarks       string
}

// CreateReceipt posts a receipt, restocks the site and recomputes the order's
// receiving status in one transaction. Over-receipt of any line rejects the
// whole receipt.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (Receipt, error) {
	verr := &shared.ValidationError{}
	if input.POID <= 0 {
		verr.Add("po_id", "is required")
	}
	if input.WarehouseID <= 0 {
		verr.Add("warehouse_id", "is required")
	}
	if len(input.Items) == 0 {
		verr.Add("items", "at least one line is required")
	}
	for i := range input.Items {
		line := &input.Items[i]
		if line.QualityStatus == "" {
			line.QualityStatus = inventory.QualityGood
		}
		if !line.QualityStatus.Valid() {
			verr.Add(fmt.Sprintf("items[%d].quality_status", i), "must be GOOD, DAMAGED or DEFECTIVE")
		}
		if !line.Quantity.IsPositive() {
			verr.Add(fmt.Sprintf("items[%d].quantity_received", i), "must be greater than 0")
		}
	}
	if err := verr.OrNil(); err != nil {
		return Receipt{}, err
	}
	refs := []catalog.Ref{{Kind: catalog.KindWarehouse, ID: input.WarehouseID}}
	if input.ProjectID != 0 {
		refs = append(refs, catalog.Ref{Kind: catalog.KindProject, ID: input.ProjectID})
	}
	if err := s.require(ctx, refs...); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	var status POStatus
	err := shared.Idempotent(ctx, s.idempotency, input.IdempotencyKey, "procurement.receipt", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			receipt, status, err = s.postReceipt(ctx, tx, input)
			return err
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, input.ReceivedBy, "RECEIPT_CREATE", "material_receipt", receipt.ID, map[string]any{
		"number":    receipt.Number,
		"po_id":     receipt.POID,
		"po_status": string(status),
	})
	return receipt, nil
}

func (s *Service) postReceipt(ctx context.Context, tx TxRepository, input CreateReceiptInput) (Receipt, POStatus, error) {
	po, err := tx.LockPO(ctx, input.POID)
	if err != nil {
		return Receipt{}, "", err
	}
	if !po.Status.CanReceive() {
		return Receipt{}, "", shared.Conflictf("purchase order %s is %s and cannot be received", po.Number, po.Status)
	}
	projectID := input.ProjectID
	if projectID == 0 {
		projectID = po.ProjectID
	}
	if projectID == 0 {
		return Receipt{}, "", shared.NewValidationError("project_id", "is required when the purchase order has no project")
	}

	index := make(map[int64]int, len(po.Items))
	for i, item := range po.Items {
		index[item.ID] = i
	}
	verr := &shared.ValidationError{}
	pending := make(map[int64]decimal.Decimal, len(input.Items))
	for i, line := range input.Items {
		pos, ok := index[line.POItemID]
		if !ok {
			verr.Add(fmt.Sprintf("items[%d].po_item_id", i), "does not belong to the purchase order")
			continue
		}
		item := po.Items[pos]
		total := pending[item.ID].Add(line.Quantity)
		if total.GreaterThan(item.Remaining()) {
			verr.Add(fmt.Sprintf("items[%d].quantity_received", i),
				fmt.Sprintf("exceeds remaining quantity %s for line %d", item.Remaining().String(), item.LineNo))
			continue
		}
		pending[item.ID] = total
	}
	if err := verr.OrNil(); err != nil {
		return Receipt{}, "", err
	}

	now := s.now()
	receipt := Receipt{
		Number:      shared.DocumentNumber("GRN", now),
		POID:        po.ID,
		ProjectID:   projectID,
		WarehouseID: input.WarehouseID,
		ReceivedBy:  input.ReceivedBy,
		ReceiptDate: dateOr(input.ReceiptDate, now),
		Note:        input.Note,
		CreatedAt:   now,
	}
	receipt.ID, err = tx.InsertReceipt(ctx, receipt)
	if err != nil {
		return Receipt{}, "", err
	}

	// Material rows share project and warehouse, so item order is key order.
	order := make([]int, len(input.Items))
	for i := range order {
		order[i] = i
	}
	itemOf := func(n int) int64 { return po.Items[index[input.Items[n].POItemID]].ItemID }
	sort.SliceStable(order, func(i, j int) bool { return itemOf(order[i]) < itemOf(order[j]) })
	receipt.Items = make([]ReceiptItem, len(input.Items))
	for _, n := range order {
		line := input.Items[n]
		pos := index[line.POItemID]
		item := po.Items[pos]
		key := inventory.MaterialKey{ProjectID: projectID, ItemID: item.ItemID, WarehouseID: input.WarehouseID}
		var material inventory.Material
		if line.QualityStatus.Restocks() {
			price := item.UnitPrice
			material, err = inventory.ApplyStockChange(ctx, tx, inventory.StockChange{
				Key:         key,
				Delta:       line.Quantity,
				Kind:        inventory.MovementReceipt,
				RefType:     "receipt",
				RefID:       receipt.ID,
				ActorID:     input.ReceivedBy,
				CostPerUnit: &price,
				At:          now,
			})
		} else {
			material, err = tx.EnsureMaterial(ctx, key)
		}
		if err != nil {
			return Receipt{}, "", err
		}
		if err := tx.AddPOItemReceived(ctx, item.ID, line.Quantity); err != nil {
			return Receipt{}, "", err
		}
		po.Items[pos].QuantityReceived = item.QuantityReceived.Add(line.Quantity)

		ri := ReceiptItem{
			ReceiptID:        receipt.ID,
			POItemID:         item.ID,
			ItemID:           item.ItemID,
			UnitID:           item.UnitID,
			MaterialID:       material.ID,
			QuantityReceived: line.Quantity,
			QualityStatus:    line.QualityStatus,
			Remarks:          line.Remarks,
		}
		ri.ID, err = tx.InsertReceiptItem(ctx, ri)
		if err != nil {
			return Receipt{}, "", err
		}
		receipt.Items[n] = ri
	}

	next := receivingStatus(po.Items)
	if !po.Status.CanTransitionTo(next) {
		return Receipt{}, "", shared.Conflictf("purchase order %s cannot move from %s to %s", po.Number, po.Status, next)
	}
	if err := tx.UpdatePOStatus(ctx, po.ID, next); err != nil {
		return Receipt{}, "", err
	}
	return receipt, next, nil
}

// GetReceipt returns a receipt with its lines.
func (s *Service) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ListReceipts lists receipt headers.
func (s *Service) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, int, error) {
	return s.repo.ListReceipts(ctx, filter)
}
