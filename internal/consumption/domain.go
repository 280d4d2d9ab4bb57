package consumption

import (
	"time"

	"github.com/shopspring/decimal"
)

// Filter narrows a consumption report. Zero values mean "all".
type Filter struct {
	ProjectID  int64
	MaterialID int64
}

// MaterialInfo is the material context needed to price a row.
type MaterialInfo struct {
	MaterialID  int64
	ProjectID   int64
	ItemID      int64
	WarehouseID int64
	CostPerUnit *decimal.Decimal
}

// Row is the derived consumption of one material.
type Row struct {
	ProjectID        int64            `json:"project_id"`
	MaterialID       int64            `json:"material_id"`
	ItemID           int64            `json:"item_id"`
	WarehouseID      int64            `json:"warehouse_id"`
	TotalIssued      decimal.Decimal  `json:"total_issued"`
	TotalReturned    decimal.Decimal  `json:"total_returned"`
	TotalTransferred decimal.Decimal  `json:"total_transferred"`
	Consumed         decimal.Decimal  `json:"consumed"`
	CostPerUnit      *decimal.Decimal `json:"cost_per_unit"`
	TotalCost        decimal.Decimal  `json:"total_cost"`
	CostMissing      bool             `json:"cost_missing"`
}

// Report groups rows with their cost total.
type Report struct {
	Rows        []Row           `json:"rows"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	GeneratedAt time.Time       `json:"generated_at"`
}
