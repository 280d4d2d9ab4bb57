package memdb

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/consumption"
	"github.com/sitepro/sitepro-erp/internal/inventory"
)

// ConsumptionRepo implements consumption.Repository.
type ConsumptionRepo struct{ s *Store }

// Consumption returns the consumption adapter.
func (s *Store) Consumption() *ConsumptionRepo { return &ConsumptionRepo{s: s} }

func inScope(m inventory.Material, f consumption.Filter) bool {
	return (f.ProjectID == 0 || m.ProjectID == f.ProjectID) && (f.MaterialID == 0 || m.ID == f.MaterialID)
}

func (r *ConsumptionRepo) sum(f consumption.Filter, each func(st *state, add func(materialID int64, qty decimal.Decimal))) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	r.s.read(func(st *state) {
		each(st, func(id int64, qty decimal.Decimal) {
			if m, ok := st.materials[id]; ok && inScope(m, f) {
				out[id] = out[id].Add(qty)
			}
		})
	})
	return out
}

// IssuedTotals implements consumption.Repository.
func (r *ConsumptionRepo) IssuedTotals(_ context.Context, f consumption.Filter) (map[int64]decimal.Decimal, error) {
	return r.sum(f, func(st *state, add func(int64, decimal.Decimal)) {
		for _, is := range st.issues {
			if is.Status != inventory.IssueStatusCancelled {
				add(is.MaterialID, is.Quantity)
			}
		}
	}), nil
}

// ReturnedTotals implements consumption.Repository.
func (r *ConsumptionRepo) ReturnedTotals(_ context.Context, f consumption.Filter) (map[int64]decimal.Decimal, error) {
	return r.sum(f, func(st *state, add func(int64, decimal.Decimal)) {
		for _, ret := range st.returns {
			add(ret.MaterialID, ret.Quantity)
		}
	}), nil
}

// TransferredTotals implements consumption.Repository.
func (r *ConsumptionRepo) TransferredTotals(_ context.Context, f consumption.Filter) (map[int64]decimal.Decimal, error) {
	return r.sum(f, func(st *state, add func(int64, decimal.Decimal)) {
		for _, tr := range st.transfers {
			add(tr.FromMaterialID, tr.Quantity)
		}
	}), nil
}

// Materials implements consumption.Repository, falling back to the item's
// standard cost.
func (r *ConsumptionRepo) Materials(_ context.Context, f consumption.Filter) (map[int64]consumption.MaterialInfo, error) {
	out := make(map[int64]consumption.MaterialInfo)
	r.s.read(func(st *state) {
		for id, m := range st.materials {
			if !inScope(m, f) {
				continue
			}
			cost := m.CostPerUnit
			if cost == nil {
				cost = st.catalog[catalog.KindItem][m.ItemID].StandardCost
			}
			out[id] = consumption.MaterialInfo{
				MaterialID:  id,
				ProjectID:   m.ProjectID,
				ItemID:      m.ItemID,
				WarehouseID: m.WarehouseID,
				CostPerUnit: cost,
			}
		}
	})
	return out, nil
}

// SaveSnapshots implements consumption.Repository.
func (r *ConsumptionRepo) SaveSnapshots(_ context.Context, rows []consumption.Row, takenAt time.Time) error {
	return r.s.tx(func(st *state) error {
		for _, row := range rows {
			st.snapshots[[2]int64{row.ProjectID, row.MaterialID}] = row
		}
		st.snapshotAt = takenAt
		return nil
	})
}

// Snapshots returns the stored snapshot rows.
func (r *ConsumptionRepo) Snapshots() map[[2]int64]consumption.Row {
	var out map[[2]int64]consumption.Row
	r.s.read(func(st *state) { out = cloneMap(st.snapshots) })
	return out
}
