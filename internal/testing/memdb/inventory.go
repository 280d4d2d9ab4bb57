package memdb

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// stockTx implements inventory.StockTx on the locked state.
type stockTx struct{ st *state }

func (t stockTx) LockMaterial(_ context.Context, id int64) (inventory.Material, error) {
	m, ok := t.st.materials[id]
	if !ok {
		return inventory.Material{}, shared.NotFoundf("material %d", id)
	}
	return m, nil
}

func (t stockTx) EnsureMaterial(_ context.Context, key inventory.MaterialKey) (inventory.Material, error) {
	for _, id := range sortedKeys(t.st.materials) {
		if m := t.st.materials[id]; m.Key() == key {
			return m, nil
		}
	}
	m := inventory.Material{
		ID:          t.st.nextID(),
		ProjectID:   key.ProjectID,
		ItemID:      key.ItemID,
		WarehouseID: key.WarehouseID,
		OnHand:      decimal.Zero,
		UpdatedAt:   time.Now().UTC(),
	}
	t.st.materials[m.ID] = m
	return m, nil
}

func (t stockTx) SaveMaterial(_ context.Context, m inventory.Material) error {
	if _, ok := t.st.materials[m.ID]; !ok {
		return shared.NotFoundf("material %d", m.ID)
	}
	if m.OnHand.IsNegative() {
		return shared.Conflictf("materials_on_hand_check violated for material %d", m.ID)
	}
	t.st.materials[m.ID] = m
	return nil
}

func (t stockTx) InsertMovement(_ context.Context, mv inventory.Movement) error {
	mv.ID = t.st.nextID()
	t.st.movements = append(t.st.movements, mv)
	return nil
}

func (st *state) issueWithTotals(is inventory.Issue) inventory.Issue {
	is.Returned, is.Consumed = decimal.Zero, decimal.Zero
	for _, r := range st.returns {
		if r.IssueID == is.ID {
			is.Returned = is.Returned.Add(r.Quantity)
		}
	}
	for _, c := range st.consumptions {
		if c.IssueID == is.ID {
			is.Consumed = is.Consumed.Add(c.Quantity)
		}
	}
	return is
}

type inventoryTx struct{ stockTx }

func (t inventoryTx) InsertIssue(_ context.Context, is inventory.Issue) (int64, error) {
	is.ID = t.st.nextID()
	t.st.issues[is.ID] = is
	return is.ID, nil
}

func (t inventoryTx) LockIssue(_ context.Context, id int64) (inventory.Issue, error) {
	is, ok := t.st.issues[id]
	if !ok {
		return inventory.Issue{}, shared.NotFoundf("issue %d", id)
	}
	is.Returned, is.Consumed = decimal.Zero, decimal.Zero
	return is, nil
}

func (t inventoryTx) SettledTotals(_ context.Context, issueID int64) (decimal.Decimal, decimal.Decimal, error) {
	is, ok := t.st.issues[issueID]
	if !ok {
		return decimal.Zero, decimal.Zero, shared.NotFoundf("issue %d", issueID)
	}
	is = t.st.issueWithTotals(is)
	return is.Returned, is.Consumed, nil
}

func (t inventoryTx) UpdateIssueStatus(_ context.Context, is inventory.Issue) error {
	stored, ok := t.st.issues[is.ID]
	if !ok {
		return shared.NotFoundf("issue %d", is.ID)
	}
	stored.Status = is.Status
	stored.ReceivedBy = is.ReceivedBy
	stored.ReceivedAt = is.ReceivedAt
	t.st.issues[is.ID] = stored
	return nil
}

func (t inventoryTx) InsertReturn(_ context.Context, ret inventory.Return) (int64, error) {
	ret.ID = t.st.nextID()
	t.st.returns = append(t.st.returns, ret)
	return ret.ID, nil
}

func (t inventoryTx) InsertConsumption(_ context.Context, c inventory.Consumption) (int64, error) {
	c.ID = t.st.nextID()
	t.st.consumptions = append(t.st.consumptions, c)
	return c.ID, nil
}

func (t inventoryTx) InsertTransfer(_ context.Context, tr inventory.Transfer) (int64, error) {
	tr.ID = t.st.nextID()
	t.st.transfers = append(t.st.transfers, tr)
	return tr.ID, nil
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct{ s *Store }

// Inventory returns the inventory adapter.
func (s *Store) Inventory() *InventoryRepo { return &InventoryRepo{s: s} }

// WithTx implements inventory.RepositoryPort.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.tx(func(st *state) error {
		return fn(ctx, inventoryTx{stockTx{st: st}})
	})
}

// GetMaterial implements inventory.RepositoryPort.
func (r *InventoryRepo) GetMaterial(_ context.Context, id int64) (inventory.Material, error) {
	var (
		m  inventory.Material
		ok bool
	)
	r.s.read(func(st *state) { m, ok = st.materials[id] })
	if !ok {
		return inventory.Material{}, shared.NotFoundf("material %d", id)
	}
	return m, nil
}

// ListMaterials implements inventory.RepositoryPort.
func (r *InventoryRepo) ListMaterials(_ context.Context, f inventory.MaterialFilter) ([]inventory.Material, int, error) {
	var out []inventory.Material
	r.s.read(func(st *state) {
		for _, id := range sortedKeys(st.materials) {
			m := st.materials[id]
			if (f.ProjectID == 0 || m.ProjectID == f.ProjectID) &&
				(f.ItemID == 0 || m.ItemID == f.ItemID) &&
				(f.WarehouseID == 0 || m.WarehouseID == f.WarehouseID) {
				out = append(out, m)
			}
		}
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}

// ListMovements implements inventory.RepositoryPort.
func (r *InventoryRepo) ListMovements(_ context.Context, materialID int64, limit int) ([]inventory.Movement, error) {
	var out []inventory.Movement
	r.s.read(func(st *state) {
		for _, mv := range st.movements {
			if mv.MaterialID == materialID {
				out = append(out, mv)
			}
		}
	})
	return page(out, limit, 0), nil
}

// GetIssue implements inventory.RepositoryPort.
func (r *InventoryRepo) GetIssue(_ context.Context, id int64) (inventory.Issue, error) {
	var (
		is inventory.Issue
		ok bool
	)
	r.s.read(func(st *state) {
		is, ok = st.issues[id]
		if ok {
			is = st.issueWithTotals(is)
		}
	})
	if !ok {
		return inventory.Issue{}, shared.NotFoundf("issue %d", id)
	}
	return is, nil
}

// ListIssues implements inventory.RepositoryPort, newest first.
func (r *InventoryRepo) ListIssues(_ context.Context, f inventory.IssueFilter) ([]inventory.Issue, int, error) {
	var out []inventory.Issue
	r.s.read(func(st *state) {
		for _, id := range sortedKeys(st.issues) {
			is := st.issues[id]
			if (f.ProjectID == 0 || is.ProjectID == f.ProjectID) &&
				(f.MaterialID == 0 || is.MaterialID == f.MaterialID) &&
				(f.Status == "" || is.Status == f.Status) {
				out = append(out, st.issueWithTotals(is))
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), len(out), nil
}

// ListReturns implements inventory.RepositoryPort.
func (r *InventoryRepo) ListReturns(_ context.Context, f inventory.LedgerFilter) ([]inventory.Return, error) {
	var out []inventory.Return
	r.s.read(func(st *state) {
		for i := len(st.returns) - 1; i >= 0; i-- {
			ret := st.returns[i]
			if (f.ProjectID == 0 || ret.ProjectID == f.ProjectID) && (f.IssueID == 0 || ret.IssueID == f.IssueID) {
				out = append(out, ret)
			}
		}
	})
	return page(out, f.Limit, f.Offset), nil
}

// ListConsumptions implements inventory.RepositoryPort.
func (r *InventoryRepo) ListConsumptions(_ context.Context, f inventory.LedgerFilter) ([]inventory.Consumption, error) {
	var out []inventory.Consumption
	r.s.read(func(st *state) {
		for i := len(st.consumptions) - 1; i >= 0; i-- {
			c := st.consumptions[i]
			if (f.ProjectID == 0 || c.ProjectID == f.ProjectID) && (f.IssueID == 0 || c.IssueID == f.IssueID) {
				out = append(out, c)
			}
		}
	})
	return page(out, f.Limit, f.Offset), nil
}
