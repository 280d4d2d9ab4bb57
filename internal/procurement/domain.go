package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/inventory"
)

// MRR is a material requirement request raised by a project.
type MRR struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	ProjectID   int64      `json:"project_id"`
	RequestedBy int64      `json:"requested_by"`
	Status      MRRStatus  `json:"status"`
	DecidedBy   int64      `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Items       []MRRItem  `json:"items,omitempty"`
}

// MRRItem is one requested line. Lines are immutable after creation.
type MRRItem struct {
	ID       int64           `json:"id"`
	MRRID    int64           `json:"mrr_id"`
	LineNo   int             `json:"line_no"`
	ItemID   int64           `json:"item_id"`
	UnitID   int64           `json:"unit_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note,omitempty"`
}

// PurchaseOrder is an order placed with a supplier.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"number"`
	MRRID                int64           `json:"mrr_id,omitempty"`
	ProjectID            int64           `json:"project_id,omitempty"`
	SupplierID           int64           `json:"supplier_id"`
	Status               POStatus        `json:"status"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	Total                decimal.Decimal `json:"total"`
	CreatedBy            int64           `json:"created_by"`
	ApprovedBy           int64           `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	PODate               time.Time       `json:"po_date"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	Note                 string          `json:"note,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	Items                []POItem        `json:"items,omitempty"`
}

// POItem is one ordered line. QuantityReceived caches the sum of receipts.
type POItem struct {
	ID               int64           `json:"id"`
	POID             int64           `json:"po_id"`
	LineNo           int             `json:"line_no"`
	ItemID           int64           `json:"item_id"`
	UnitID           int64           `json:"unit_id"`
	QuantityOrdered  decimal.Decimal `json:"quantity_ordered"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
}

// Remaining is the quantity still expected from the supplier.
func (i POItem) Remaining() decimal.Decimal {
	return i.QuantityOrdered.Sub(i.QuantityReceived)
}

// Receipt records goods delivered against a purchase order.
type Receipt struct {
	ID          int64         `json:"id"`
	Number      string        `json:"number"`
	POID        int64         `json:"po_id"`
	ProjectID   int64         `json:"project_id"`
	WarehouseID int64         `json:"warehouse_id"`
	ReceivedBy  int64         `json:"received_by"`
	ReceiptDate time.Time     `json:"receipt_date"`
	Note        string        `json:"note,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Items       []ReceiptItem `json:"items,omitempty"`
}

// ReceiptItem is one delivered line.
type ReceiptItem struct {
	ID               int64                   `json:"id"`
	ReceiptID        int64                   `json:"receipt_id"`
	POItemID         int64                   `json:"po_item_id"`
	ItemID           int64                   `json:"item_id"`
	UnitID           int64                   `json:"unit_id"`
	MaterialID       int64                   `json:"material_id"`
	QuantityReceived decimal.Decimal         `json:"quantity_received"`
	QualityStatus    inventory.QualityStatus `json:"quality_status"`
	Remarks          string                  `json:"remarks,omitempty"`
}

// MRRFilter narrows MRR listings.
type MRRFilter struct {
	ProjectID int64
	Status    MRRStatus
	Limit     int
	Offset    int
}

// POFilter narrows purchase order listings.
type POFilter struct {
	ProjectID  int64
	SupplierID int64
	Status     POStatus
	Limit      int
	Offset     int
}

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	POID      int64
	ProjectID int64
	Limit     int
	Offset    int
}
