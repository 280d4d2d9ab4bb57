package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

// StockTx is the transactional surface needed to move site stock. Every
// implementation must hold a row lock on the material from the Lock/Ensure
// call until the enclosing transaction ends.
type StockTx interface {
	// LockMaterial loads and locks a material row by id.
	LockMaterial(ctx context.Context, id int64) (Material, error)
	// EnsureMaterial loads and locks the row for key, creating a zero-stock
	// row first when none exists.
	EnsureMaterial(ctx context.Context, key MaterialKey) (Material, error)
	// SaveMaterial persists on_hand and cost_per_unit.
	SaveMaterial(ctx context.Context, m Material) error
	// InsertMovement appends a stock card line.
	InsertMovement(ctx context.Context, mv Movement) error
}

// StockChange describes one signed adjustment of a material row. Either
// MaterialID or Key identifies the row; Key rows are created on demand.
type StockChange struct {
	MaterialID  int64
	Key         MaterialKey
	Delta       decimal.Decimal
	Kind        MovementKind
	RefType     string
	RefID       int64
	ActorID     int64
	CostPerUnit *decimal.Decimal
	At          time.Time
}

// ApplyStockChange is the single place where Material.on_hand moves. It locks
// the row, rejects a negative result with shared.ErrInsufficientStock, stores
// the new balance and writes the stock card line.
func ApplyStockChange(ctx context.Context, tx StockTx, change StockChange) (Material, error) {
	if change.Delta.IsZero() {
		return Material{}, shared.NewValidationError("quantity", "must not be zero")
	}
	if change.Kind == "" {
		return Material{}, fmt.Errorf("inventory: stock change kind required")
	}
	var (
		material Material
		err      error
	)
	switch {
	case change.MaterialID != 0:
		material, err = tx.LockMaterial(ctx, change.MaterialID)
	case change.Key.ProjectID != 0 && change.Key.ItemID != 0 && change.Key.WarehouseID != 0:
		material, err = tx.EnsureMaterial(ctx, change.Key)
	default:
		return Material{}, shared.NewValidationError("material_id", "material id or project/item/warehouse required")
	}
	if err != nil {
		return Material{}, err
	}

	balance := material.OnHand.Add(change.Delta)
	if balance.IsNegative() {
		return Material{}, fmt.Errorf("%w: material %d has %s on hand, requested %s",
			shared.ErrInsufficientStock, material.ID, material.OnHand.String(), change.Delta.Neg().String())
	}
	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	material.OnHand = balance
	material.UpdatedAt = at
	if change.CostPerUnit != nil {
		cost := *change.CostPerUnit
		material.CostPerUnit = &cost
	}
	if err := tx.SaveMaterial(ctx, material); err != nil {
		return Material{}, err
	}
	if err := tx.InsertMovement(ctx, Movement{
		MaterialID:   material.ID,
		Kind:         change.Kind,
		Quantity:     change.Delta,
		BalanceAfter: balance,
		RefType:      change.RefType,
		RefID:        change.RefID,
		ActorID:      change.ActorID,
		PostedAt:     at,
	}); err != nil {
		return Material{}, err
	}
	return material, nil
}
