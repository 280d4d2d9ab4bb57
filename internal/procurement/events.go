package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// POPlacedEvent is published once a purchase order has been placed with its
// supplier.
type POPlacedEvent struct {
	POID       int64           `json:"po_id"`
	Number     string          `json:"number"`
	SupplierID int64           `json:"supplier_id"`
	ProjectID  int64           `json:"project_id,omitempty"`
	Total      decimal.Decimal `json:"total"`
	PlacedBy   int64           `json:"placed_by"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// Notifier delivers procurement events. Delivery is best effort.
type Notifier interface {
	NotifyPOPlaced(ctx context.Context, event POPlacedEvent) error
}
