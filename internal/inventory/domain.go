package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Material is the stock row for one item held by a project at a warehouse.
// OnHand changes only through ApplyStockChange.
type Material struct {
	ID          int64            `json:"id"`
	ProjectID   int64            `json:"project_id"`
	ItemID      int64            `json:"item_id"`
	WarehouseID int64            `json:"warehouse_id"`
	OnHand      decimal.Decimal  `json:"on_hand"`
	CostPerUnit *decimal.Decimal `json:"cost_per_unit,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Key returns the natural key of the material row.
func (m Material) Key() MaterialKey {
	return MaterialKey{ProjectID: m.ProjectID, ItemID: m.ItemID, WarehouseID: m.WarehouseID}
}

// MaterialKey is the unique (project, item, warehouse) triple.
type MaterialKey struct {
	ProjectID   int64
	ItemID      int64
	WarehouseID int64
}

// Less orders keys by project, item, then warehouse. Transactions that lock
// more than one material row take the locks in this order.
func (k MaterialKey) Less(o MaterialKey) bool {
	if k.ProjectID != o.ProjectID {
		return k.ProjectID < o.ProjectID
	}
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	return k.WarehouseID < o.WarehouseID
}

// MovementKind classifies stock card entries.
type MovementKind string

const (
	MovementReceipt     MovementKind = "RECEIPT"
	MovementIssue       MovementKind = "ISSUE"
	MovementIssueCancel MovementKind = "ISSUE_CANCEL"
	MovementReturn      MovementKind = "RETURN"
	MovementTransferOut MovementKind = "TRANSFER_OUT"
	MovementTransferIn  MovementKind = "TRANSFER_IN"
)

// Movement is one stock card line. Quantity is signed.
type Movement struct {
	ID           int64           `json:"id"`
	MaterialID   int64           `json:"material_id"`
	Kind         MovementKind    `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	RefType      string          `json:"ref_type"`
	RefID        int64           `json:"ref_id"`
	ActorID      int64           `json:"actor_id"`
	PostedAt     time.Time       `json:"posted_at"`
}

// QualityStatus grades received or returned goods.
type QualityStatus string

const (
	QualityGood      QualityStatus = "GOOD"
	QualityDamaged   QualityStatus = "DAMAGED"
	QualityDefective QualityStatus = "DEFECTIVE"
)

// Valid reports whether q is a known grade.
func (q QualityStatus) Valid() bool {
	switch q {
	case QualityGood, QualityDamaged, QualityDefective:
		return true
	}
	return false
}

// Restocks reports whether goods of this grade go back on the shelf.
func (q QualityStatus) Restocks() bool {
	return q == QualityGood
}

// Transfer moves stock from one site material row to another.
type Transfer struct {
	ID             int64           `json:"id"`
	FromMaterialID int64           `json:"from_material_id"`
	ToMaterialID   int64           `json:"to_material_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	TransferredBy  int64           `json:"transferred_by"`
	TransferredAt  time.Time       `json:"transferred_at"`
	Note           string          `json:"note,omitempty"`
}

// Issue records material leaving controlled stock for use on site.
type Issue struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	ProjectID  int64           `json:"project_id"`
	MaterialID int64           `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Status     IssueStatus     `json:"status"`
	IssuedBy   int64           `json:"issued_by"`
	ReceivedBy int64           `json:"received_by,omitempty"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
	MRRID      int64           `json:"mrr_id,omitempty"`
	POID       int64           `json:"po_id,omitempty"`
	ReceiptID  int64           `json:"receipt_id,omitempty"`
	IssueDate  time.Time       `json:"issue_date"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Returned   decimal.Decimal `json:"returned"`
	Consumed   decimal.Decimal `json:"consumed"`
}

// Outstanding is the part of the issue not yet returned or consumed.
func (i Issue) Outstanding() decimal.Decimal {
	return i.Quantity.Sub(i.Returned).Sub(i.Consumed)
}

// Return records material sent back from site against an issue.
type Return struct {
	ID            int64           `json:"id"`
	ProjectID     int64           `json:"project_id"`
	MaterialID    int64           `json:"material_id"`
	IssueID       int64           `json:"issue_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	QualityStatus QualityStatus   `json:"quality_status"`
	ReturnedBy    int64           `json:"returned_by"`
	ApprovedBy    int64           `json:"approved_by,omitempty"`
	ReturnedAt    time.Time       `json:"returned_at"`
	Remarks       string          `json:"remarks,omitempty"`
}

// ConsumptionType classifies how issued material left the books.
type ConsumptionType string

const (
	ConsumptionActual  ConsumptionType = "ACTUAL"
	ConsumptionWastage ConsumptionType = "WASTAGE"
	ConsumptionTheft   ConsumptionType = "THEFT"
	ConsumptionDamage  ConsumptionType = "DAMAGE"
)

// Valid reports whether t is a known consumption type.
func (t ConsumptionType) Valid() bool {
	switch t {
	case ConsumptionActual, ConsumptionWastage, ConsumptionTheft, ConsumptionDamage:
		return true
	}
	return false
}

// Consumption records material used up on site. IssueID is optional.
type Consumption struct {
	ID              int64           `json:"id"`
	ProjectID       int64           `json:"project_id"`
	MaterialID      int64           `json:"material_id"`
	IssueID         int64           `json:"issue_id,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	Type            ConsumptionType `json:"consumption_type"`
	RecordedBy      int64           `json:"recorded_by"`
	ConsumptionDate time.Time       `json:"consumption_date"`
	Remarks         string          `json:"remarks,omitempty"`
}

// MaterialFilter narrows material listings.
type MaterialFilter struct {
	ProjectID   int64
	ItemID      int64
	WarehouseID int64
	Limit       int
	Offset      int
}

// IssueFilter narrows issue listings.
type IssueFilter struct {
	ProjectID  int64
	MaterialID int64
	Status     IssueStatus
	Limit      int
	Offset     int
}

// LedgerFilter narrows return and consumption listings.
type LedgerFilter struct {
	ProjectID int64
	IssueID   int64
	Limit     int
	Offset    int
}
