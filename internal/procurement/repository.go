package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/platform/db"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Repository persists procurement documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	*inventory.PGStockTx
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction shared with stock posting.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.StockTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{PGStockTx: inventory.NewStockTx(tx), tx: tx})
	})
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- MRR ---

const mrrSelect = `SELECT id, number, project_id, requested_by, status, COALESCE(decided_by,0), decided_at, note, created_at FROM mrrs`

func scanMRR(row pgx.Row) (MRR, error) {
	var m MRR
	var status string
	if err := row.Scan(&m.ID, &m.Number, &m.ProjectID, &m.RequestedBy, &status, &m.DecidedBy, &m.DecidedAt, &m.Note, &m.CreatedAt); err != nil {
		return MRR{}, err
	}
	m.Status = MRRStatus(status)
	return m, nil
}

func loadMRRItems(ctx context.Context, q querier, mrrID int64) ([]MRRItem, error) {
	rows, err := q.Query(ctx, `SELECT id, mrr_id, line_no, item_id, unit_id, quantity, note FROM mrr_items WHERE mrr_id=$1 ORDER BY line_no`, mrrID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MRRItem
	for rows.Next() {
		var it MRRItem
		if err := rows.Scan(&it.ID, &it.MRRID, &it.LineNo, &it.ItemID, &it.UnitID, &it.Quantity, &it.Note); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getMRR(ctx context.Context, q querier, id int64, lock bool) (MRR, error) {
	sql := mrrSelect + ` WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	m, err := scanMRR(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MRR{}, shared.NotFoundf("mrr %d", id)
		}
		return MRR{}, err
	}
	m.Items, err = loadMRRItems(ctx, q, id)
	return m, err
}

func (r *txRepository) InsertMRR(ctx context.Context, m MRR) (int64, error) {
	var id int64
	if err := r.tx.QueryRow(ctx, `INSERT INTO mrrs (number, project_id, requested_by, status, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, m.Number, m.ProjectID, m.RequestedBy, string(m.Status), m.Note, m.CreatedAt).Scan(&id); err != nil {
		return 0, err
	}
	for _, it := range m.Items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO mrr_items (mrr_id, line_no, item_id, unit_id, quantity, note)
VALUES ($1,$2,$3,$4,$5,$6)`, id, it.LineNo, it.ItemID, it.UnitID, it.Quantity, it.Note); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *txRepository) LockMRR(ctx context.Context, id int64) (MRR, error) {
	return getMRR(ctx, r.tx, id, true)
}

func (r *txRepository) UpdateMRRDecision(ctx context.Context, m MRR) error {
	_, err := r.tx.Exec(ctx, `UPDATE mrrs SET status=$2, decided_by=$3, decided_at=$4 WHERE id=$1`,
		m.ID, string(m.Status), m.DecidedBy, m.DecidedAt)
	return err
}

// GetMRR returns an MRR with lines.
func (r *Repository) GetMRR(ctx context.Context, id int64) (MRR, error) {
	return getMRR(ctx, r.pool, id, false)
}

// ListMRRs lists MRR headers, newest first.
func (r *Repository) ListMRRs(ctx context.Context, f MRRFilter) ([]MRR, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR project_id=$1) AND ($2 = '' OR status=$2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mrrs`+where, f.ProjectID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, mrrSelect+where+` ORDER BY id DESC LIMIT $3 OFFSET $4`, f.ProjectID, string(f.Status), limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []MRR{}
	for rows.Next() {
		m, err := scanMRR(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// --- Purchase orders ---

const poSelect = `SELECT id, number, COALESCE(mrr_id,0), COALESCE(project_id,0), supplier_id, status, subtotal, tax, total,
created_by, COALESCE(approved_by,0), approved_at, po_date, expected_delivery_date, note, created_at FROM purchase_orders`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	if err := row.Scan(&po.ID, &po.Number, &po.MRRID, &po.ProjectID, &po.SupplierID, &status, &po.Subtotal, &po.Tax, &po.Total,
		&po.CreatedBy, &po.ApprovedBy, &po.ApprovedAt, &po.PODate, &po.ExpectedDeliveryDate, &po.Note, &po.CreatedAt); err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	return po, nil
}

func loadPOItems(ctx context.Context, q querier, poID int64) ([]POItem, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, line_no, item_id, unit_id, quantity_ordered, unit_price, line_total, quantity_received
FROM po_items WHERE po_id=$1 ORDER BY line_no`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []POItem
	for rows.Next() {
		var it POItem
		if err := rows.Scan(&it.ID, &it.POID, &it.LineNo, &it.ItemID, &it.UnitID, &it.QuantityOrdered, &it.UnitPrice, &it.LineTotal, &it.QuantityReceived); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getPO(ctx context.Context, q querier, id int64, lock bool) (PurchaseOrder, error) {
	sql := poSelect + ` WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	po, err := scanPO(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NotFoundf("purchase order %d", id)
		}
		return PurchaseOrder{}, err
	}
	po.Items, err = loadPOItems(ctx, q, id)
	return po, err
}

func (r *txRepository) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	if err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, mrr_id, project_id, supplier_id, status, subtotal, tax, total,
created_by, po_date, expected_delivery_date, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		po.Number, nullInt(po.MRRID), nullInt(po.ProjectID), po.SupplierID, string(po.Status), po.Subtotal, po.Tax, po.Total,
		po.CreatedBy, po.PODate, po.ExpectedDeliveryDate, po.Note, po.CreatedAt).Scan(&id); err != nil {
		return 0, err
	}
	for _, it := range po.Items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO po_items (po_id, line_no, item_id, unit_id, quantity_ordered, unit_price, line_total, quantity_received)
VALUES ($1,$2,$3,$4,$5,$6,$7,0)`, id, it.LineNo, it.ItemID, it.UnitID, it.QuantityOrdered, it.UnitPrice, it.LineTotal); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *txRepository) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, r.tx, id, true)
}

func (r *txRepository) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) SetPOApproval(ctx context.Context, id, approvedBy int64, approvedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, approvedBy, approvedAt)
	return err
}

func (r *txRepository) AddPOItemReceived(ctx context.Context, poItemID int64, qty decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE po_items SET quantity_received = quantity_received + $2 WHERE id=$1`, poItemID, qty)
	return err
}

// GetPO returns a purchase order with lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, r.pool, id, false)
}

// ListPOs lists purchase order headers, newest first.
func (r *Repository) ListPOs(ctx context.Context, f POFilter) ([]PurchaseOrder, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR project_id=$1) AND ($2::bigint = 0 OR supplier_id=$2) AND ($3 = '' OR status=$3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, f.ProjectID, f.SupplierID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, poSelect+where+` ORDER BY id DESC LIMIT $4 OFFSET $5`,
		f.ProjectID, f.SupplierID, string(f.Status), limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []PurchaseOrder{}
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

// --- Receipts ---

const receiptSelect = `SELECT id, number, po_id, project_id, warehouse_id, received_by, receipt_date, note, created_at FROM material_receipts`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	err := row.Scan(&rc.ID, &rc.Number, &rc.POID, &rc.ProjectID, &rc.WarehouseID, &rc.ReceivedBy, &rc.ReceiptDate, &rc.Note, &rc.CreatedAt)
	return rc, err
}

func (r *txRepository) InsertReceipt(ctx context.Context, rc Receipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO material_receipts (number, po_id, project_id, warehouse_id, received_by, receipt_date, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		rc.Number, rc.POID, rc.ProjectID, rc.WarehouseID, rc.ReceivedBy, rc.ReceiptDate, rc.Note, rc.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReceiptItem(ctx context.Context, it ReceiptItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO receipt_items (receipt_id, po_item_id, item_id, unit_id, quantity_received, quality_status, material_id, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		it.ReceiptID, it.POItemID, it.ItemID, it.UnitID, it.QuantityReceived, string(it.QualityStatus), it.MaterialID, it.Remarks).Scan(&id)
	return id, err
}

// GetReceipt returns a receipt with lines.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	rc, err := scanReceipt(r.pool.QueryRow(ctx, receiptSelect+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, shared.NotFoundf("receipt %d", id)
		}
		return Receipt{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, receipt_id, po_item_id, item_id, unit_id, material_id, quantity_received, quality_status, remarks
FROM receipt_items WHERE receipt_id=$1 ORDER BY id`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it ReceiptItem
		var quality string
		if err := rows.Scan(&it.ID, &it.ReceiptID, &it.POItemID, &it.ItemID, &it.UnitID, &it.MaterialID, &it.QuantityReceived, &quality, &it.Remarks); err != nil {
			return Receipt{}, err
		}
		it.QualityStatus = inventory.QualityStatus(quality)
		rc.Items = append(rc.Items, it)
	}
	return rc, rows.Err()
}

// ListReceipts lists receipt headers, newest first.
func (r *Repository) ListReceipts(ctx context.Context, f ReceiptFilter) ([]Receipt, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR po_id=$1) AND ($2::bigint = 0 OR project_id=$2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM material_receipts`+where, f.POID, f.ProjectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, receiptSelect+where+` ORDER BY id DESC LIMIT $3 OFFSET $4`, f.POID, f.ProjectID, limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Receipt{}
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rc)
	}
	return out, total, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func limitOr(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
