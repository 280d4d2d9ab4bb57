package memdb

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/procurement"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

type procurementTx struct{ stockTx }

func (t procurementTx) InsertMRR(_ context.Context, m procurement.MRR) (int64, error) {
	m.ID = t.st.nextID()
	items := make([]procurement.MRRItem, len(m.Items))
	for i, it := range m.Items {
		it.ID = t.st.nextID()
		it.MRRID = m.ID
		items[i] = it
	}
	m.Items = items
	t.st.mrrs[m.ID] = m
	return m.ID, nil
}

func (t procurementTx) LockMRR(_ context.Context, id int64) (procurement.MRR, error) {
	m, ok := t.st.mrrs[id]
	if !ok {
		return procurement.MRR{}, shared.NotFoundf("mrr %d", id)
	}
	m.Items = append([]procurement.MRRItem(nil), m.Items...)
	return m, nil
}

func (t procurementTx) UpdateMRRDecision(_ context.Context, m procurement.MRR) error {
	stored, ok := t.st.mrrs[m.ID]
	if !ok {
		return shared.NotFoundf("mrr %d", m.ID)
	}
	stored.Status = m.Status
	stored.DecidedBy = m.DecidedBy
	stored.DecidedAt = m.DecidedAt
	t.st.mrrs[m.ID] = stored
	return nil
}

func (t procurementTx) InsertPO(_ context.Context, po procurement.PurchaseOrder) (int64, error) {
	po.ID = t.st.nextID()
	items := make([]procurement.POItem, len(po.Items))
	for i, it := range po.Items {
		it.ID = t.st.nextID()
		it.POID = po.ID
		it.QuantityReceived = decimal.Zero
		items[i] = it
	}
	po.Items = items
	t.st.pos[po.ID] = po
	return po.ID, nil
}

func (t procurementTx) LockPO(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := t.st.pos[id]
	if !ok {
		return procurement.PurchaseOrder{}, shared.NotFoundf("purchase order %d", id)
	}
	po.Items = append([]procurement.POItem(nil), po.Items...)
	return po, nil
}

func (t procurementTx) UpdatePOStatus(_ context.Context, id int64, status procurement.POStatus) error {
	po, ok := t.st.pos[id]
	if !ok {
		return shared.NotFoundf("purchase order %d", id)
	}
	po.Status = status
	t.st.pos[id] = po
	return nil
}

func (t procurementTx) SetPOApproval(_ context.Context, id, approvedBy int64, approvedAt time.Time) error {
	po, ok := t.st.pos[id]
	if !ok {
		return shared.NotFoundf("purchase order %d", id)
	}
	po.ApprovedBy = approvedBy
	po.ApprovedAt = &approvedAt
	t.st.pos[id] = po
	return nil
}

func (t procurementTx) AddPOItemReceived(_ context.Context, poItemID int64, qty decimal.Decimal) error {
	for id, po := range t.st.pos {
		for i, it := range po.Items {
			if it.ID != poItemID {
				continue
			}
			received := it.QuantityReceived.Add(qty)
			if received.GreaterThan(it.QuantityOrdered) {
				return shared.Conflictf("po_items_quantity_received_check violated for line %d", poItemID)
			}
			items := append([]procurement.POItem(nil), po.Items...)
			items[i].QuantityReceived = received
			po.Items = items
			t.st.pos[id] = po
			return nil
		}
	}
	return shared.NotFoundf("purchase order item %d", poItemID)
}

func (t procurementTx) InsertReceipt(_ context.Context, rc procurement.Receipt) (int64, error) {
	rc.ID = t.st.nextID()
	rc.Items = nil
	t.st.receipts[rc.ID] = rc
	return rc.ID, nil
}

func (t procurementTx) InsertReceiptItem(_ context.Context, it procurement.ReceiptItem) (int64, error) {
	rc, ok := t.st.receipts[it.ReceiptID]
	if !ok {
		return 0, shared.NotFoundf("receipt %d", it.ReceiptID)
	}
	it.ID = t.st.nextID()
	rc.Items = append(append([]procurement.ReceiptItem(nil), rc.Items...), it)
	t.st.receipts[rc.ID] = rc
	return it.ID, nil
}

// ProcurementRepo implements procurement.RepositoryPort.
type ProcurementRepo struct{ s *Store }

// Procurement returns the procurement adapter.
func (s *Store) Procurement() *ProcurementRepo { return &ProcurementRepo{s: s} }

// WithTx implements procurement.RepositoryPort.
func (r *ProcurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.tx(func(st *state) error {
		return fn(ctx, procurementTx{stockTx{st: st}})
	})
}

// GetMRR implements procurement.RepositoryPort.
func (r *ProcurementRepo) GetMRR(_ context.Context, id int64) (procurement.MRR, error) {
	var (
		m  procurement.MRR
		ok bool
	)
	r.s.read(func(st *state) {
		m, ok = st.mrrs[id]
		m.Items = append([]procurement.MRRItem(nil), m.Items...)
	})
	if !ok {
		return procurement.MRR{}, shared.NotFoundf("mrr %d", id)
	}
	return m, nil
}

// ListMRRs implements procurement.RepositoryPort, newest first.
func (r *ProcurementRepo) ListMRRs(_ context.Context, f procurement.MRRFilter) ([]procurement.MRR, int, error) {
	var out []procurement.MRR
	r.s.read(func(st *state) {
		for _, id := range sortedKeys(st.mrrs) {
			m := st.mrrs[id]
			if (f.ProjectID == 0 || m.ProjectID == f.ProjectID) && (f.Status == "" || m.Status == f.Status) {
				m.Items = nil
				out = append(out, m)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), len(out), nil
}

// GetPO implements procurement.RepositoryPort.
func (r *ProcurementRepo) GetPO(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	var (
		po procurement.PurchaseOrder
		ok bool
	)
	r.s.read(func(st *state) {
		po, ok = st.pos[id]
		po.Items = append([]procurement.POItem(nil), po.Items...)
	})
	if !ok {
		return procurement.PurchaseOrder{}, shared.NotFoundf("purchase order %d", id)
	}
	return po, nil
}

// ListPOs implements procurement.RepositoryPort, newest first.
func (r *ProcurementRepo) ListPOs(_ context.Context, f procurement.POFilter) ([]procurement.PurchaseOrder, int, error) {
	var out []procurement.PurchaseOrder
	r.s.read(func(st *state) {
		for _, id := range sortedKeys(st.pos) {
			po := st.pos[id]
			if (f.ProjectID == 0 || po.ProjectID == f.ProjectID) &&
				(f.SupplierID == 0 || po.SupplierID == f.SupplierID) &&
				(f.Status == "" || po.Status == f.Status) {
				po.Items = nil
				out = append(out, po)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), len(out), nil
}

// GetReceipt implements procurement.RepositoryPort.
func (r *ProcurementRepo) GetReceipt(_ context.Context, id int64) (procurement.Receipt, error) {
	var (
		rc procurement.Receipt
		ok bool
	)
	r.s.read(func(st *state) {
		rc, ok = st.receipts[id]
		rc.Items = append([]procurement.ReceiptItem(nil), rc.Items...)
	})
	if !ok {
		return procurement.Receipt{}, shared.NotFoundf("receipt %d", id)
	}
	return rc, nil
}

// ListReceipts implements procurement.RepositoryPort, newest first.
func (r *ProcurementRepo) ListReceipts(_ context.Context, f procurement.ReceiptFilter) ([]procurement.Receipt, int, error) {
	var out []procurement.Receipt
	r.s.read(func(st *state) {
		for _, id := range sortedKeys(st.receipts) {
			rc := st.receipts[id]
			if (f.POID == 0 || rc.POID == f.POID) && (f.ProjectID == 0 || rc.ProjectID == f.ProjectID) {
				rc.Items = nil
				out = append(out, rc)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), len(out), nil
}
