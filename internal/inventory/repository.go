package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/platform/db"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PGStockTx implements StockTx on an open pgx transaction. Other packages
// embed it so their documents and stock move in one transaction.
type PGStockTx struct {
	tx pgx.Tx
}

// NewStockTx wraps tx.
func NewStockTx(tx pgx.Tx) *PGStockTx {
	return &PGStockTx{tx: tx}
}

type txRepository struct {
	*PGStockTx
}

// WithTx executes the callback inside a read-committed transaction; row locks
// taken by the Lock* methods serialise competing writers.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.StockTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{PGStockTx: NewStockTx(tx)})
	})
}

const materialColumns = `id, project_id, item_id, warehouse_id, on_hand, cost_per_unit, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	var cost decimal.NullDecimal
	if err := row.Scan(&m.ID, &m.ProjectID, &m.ItemID, &m.WarehouseID, &m.OnHand, &cost, &m.UpdatedAt); err != nil {
		return Material{}, err
	}
	if cost.Valid {
		m.CostPerUnit = &cost.Decimal
	}
	return m, nil
}

// LockMaterial selects a material row FOR UPDATE.
func (s *PGStockTx) LockMaterial(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(s.tx.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.NotFoundf("material %d", id)
		}
		return Material{}, err
	}
	return m, nil
}

// EnsureMaterial inserts the key when absent and locks the row.
func (s *PGStockTx) EnsureMaterial(ctx context.Context, key MaterialKey) (Material, error) {
	if _, err := s.tx.Exec(ctx, `INSERT INTO materials (project_id, item_id, warehouse_id, on_hand)
VALUES ($1,$2,$3,0) ON CONFLICT (project_id, item_id, warehouse_id) DO NOTHING`, key.ProjectID, key.ItemID, key.WarehouseID); err != nil {
		return Material{}, err
	}
	return scanMaterial(s.tx.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials
WHERE project_id=$1 AND item_id=$2 AND warehouse_id=$3 FOR UPDATE`, key.ProjectID, key.ItemID, key.WarehouseID))
}

// SaveMaterial stores the balance and unit cost.
func (s *PGStockTx) SaveMaterial(ctx context.Context, m Material) error {
	_, err := s.tx.Exec(ctx, `UPDATE materials SET on_hand=$2, cost_per_unit=$3, updated_at=$4 WHERE id=$1`,
		m.ID, m.OnHand, m.CostPerUnit, m.UpdatedAt)
	return err
}

// InsertMovement appends a stock card line.
func (s *PGStockTx) InsertMovement(ctx context.Context, mv Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements (material_id, kind, quantity, balance_after, ref_type, ref_id, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, mv.MaterialID, string(mv.Kind), mv.Quantity, mv.BalanceAfter, mv.RefType, mv.RefID, mv.ActorID, mv.PostedAt)
	return err
}

const issueHeaderColumns = `i.id, i.number, i.project_id, i.material_id, i.quantity, i.status, i.issued_by,
COALESCE(i.received_by,0), i.received_at, COALESCE(i.mrr_id,0), COALESCE(i.po_id,0), COALESCE(i.receipt_id,0),
i.issue_date, i.note, i.created_at`

const settledSums = `COALESCE((SELECT SUM(r.quantity) FROM material_returns r WHERE r.issue_id=i.id),0),
COALESCE((SELECT SUM(c.quantity) FROM material_consumptions c WHERE c.issue_id=i.id),0)`

const issueSelect = `SELECT ` + issueHeaderColumns + `,
` + settledSums + `
FROM material_issues i`

func scanIssueHeader(row pgx.Row) (Issue, error) {
	var is Issue
	var status string
	if err := row.Scan(&is.ID, &is.Number, &is.ProjectID, &is.MaterialID, &is.Quantity, &status, &is.IssuedBy,
		&is.ReceivedBy, &is.ReceivedAt, &is.MRRID, &is.POID, &is.ReceiptID,
		&is.IssueDate, &is.Note, &is.CreatedAt); err != nil {
		return Issue{}, err
	}
	is.Status = IssueStatus(status)
	is.Returned, is.Consumed = decimal.Zero, decimal.Zero
	return is, nil
}

func scanIssue(row pgx.Row) (Issue, error) {
	var is Issue
	var status string
	if err := row.Scan(&is.ID, &is.Number, &is.ProjectID, &is.MaterialID, &is.Quantity, &status, &is.IssuedBy,
		&is.ReceivedBy, &is.ReceivedAt, &is.MRRID, &is.POID, &is.ReceiptID,
		&is.IssueDate, &is.Note, &is.CreatedAt, &is.Returned, &is.Consumed); err != nil {
		return Issue{}, err
	}
	is.Status = IssueStatus(status)
	return is, nil
}

func (r *txRepository) InsertIssue(ctx context.Context, is Issue) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO material_issues (number, project_id, material_id, quantity, status, issued_by, received_by,
mrr_id, po_id, receipt_id, issue_date, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		is.Number, is.ProjectID, is.MaterialID, is.Quantity, string(is.Status), is.IssuedBy, nullInt(is.ReceivedBy),
		nullInt(is.MRRID), nullInt(is.POID), nullInt(is.ReceiptID), is.IssueDate, is.Note, is.CreatedAt).Scan(&id)
	return id, err
}

// LockIssue locks the issue header only. Settlement sums are read by
// SettledTotals in a later statement, which sees rows committed while this one
// waited for the lock.
func (r *txRepository) LockIssue(ctx context.Context, id int64) (Issue, error) {
	is, err := scanIssueHeader(r.tx.QueryRow(ctx, `SELECT `+issueHeaderColumns+` FROM material_issues i WHERE i.id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, shared.NotFoundf("issue %d", id)
		}
		return Issue{}, err
	}
	return is, nil
}

func (r *txRepository) SettledTotals(ctx context.Context, issueID int64) (decimal.Decimal, decimal.Decimal, error) {
	var returned, consumed decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT `+settledSums+` FROM material_issues i WHERE i.id=$1`, issueID).Scan(&returned, &consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, decimal.Zero, shared.NotFoundf("issue %d", issueID)
	}
	return returned, consumed, err
}

func (r *txRepository) UpdateIssueStatus(ctx context.Context, is Issue) error {
	_, err := r.tx.Exec(ctx, `UPDATE material_issues SET status=$2, received_by=$3, received_at=$4 WHERE id=$1`,
		is.ID, string(is.Status), nullInt(is.ReceivedBy), is.ReceivedAt)
	return err
}

func (r *txRepository) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO material_returns (project_id, material_id, issue_id, quantity, quality_status, returned_by, approved_by, returned_at, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		ret.ProjectID, ret.MaterialID, ret.IssueID, ret.Quantity, string(ret.QualityStatus), ret.ReturnedBy, nullInt(ret.ApprovedBy), ret.ReturnedAt, ret.Remarks).Scan(&id)
	return id, err
}

func (r *txRepository) InsertConsumption(ctx context.Context, c Consumption) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO material_consumptions (project_id, material_id, issue_id, quantity, consumption_type, recorded_by, consumption_date, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		c.ProjectID, c.MaterialID, nullInt(c.IssueID), c.Quantity, string(c.Type), c.RecordedBy, c.ConsumptionDate, c.Remarks).Scan(&id)
	return id, err
}

func (r *txRepository) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO site_transfers (from_material_id, to_material_id, quantity, transferred_by, transferred_at, note)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, t.FromMaterialID, t.ToMaterialID, t.Quantity, t.TransferredBy, t.TransferredAt, t.Note).Scan(&id)
	return id, err
}

// GetMaterial returns a material row.
func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.NotFoundf("material %d", id)
		}
		return Material{}, err
	}
	return m, nil
}

// ListMaterials lists material rows matching filter.
func (r *Repository) ListMaterials(ctx context.Context, f MaterialFilter) ([]Material, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR project_id=$1) AND ($2::bigint = 0 OR item_id=$2) AND ($3::bigint = 0 OR warehouse_id=$3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials`+where, f.ProjectID, f.ItemID, f.WarehouseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials`+where+` ORDER BY id LIMIT $4 OFFSET $5`,
		f.ProjectID, f.ItemID, f.WarehouseID, limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// ListMovements returns the stock card of a material, oldest first.
func (r *Repository) ListMovements(ctx context.Context, materialID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, material_id, kind, quantity, balance_after, ref_type, ref_id, actor_id, posted_at
FROM stock_movements WHERE material_id=$1 ORDER BY posted_at ASC, id ASC LIMIT $2`, materialID, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var mv Movement
		var kind string
		if err := rows.Scan(&mv.ID, &mv.MaterialID, &kind, &mv.Quantity, &mv.BalanceAfter, &mv.RefType, &mv.RefID, &mv.ActorID, &mv.PostedAt); err != nil {
			return nil, err
		}
		mv.Kind = MovementKind(kind)
		out = append(out, mv)
	}
	return out, rows.Err()
}

// GetIssue returns an issue with settlement totals.
func (r *Repository) GetIssue(ctx context.Context, id int64) (Issue, error) {
	is, err := scanIssue(r.pool.QueryRow(ctx, issueSelect+` WHERE i.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Issue{}, shared.NotFoundf("issue %d", id)
		}
		return Issue{}, err
	}
	return is, nil
}

// ListIssues lists issues matching filter, newest first.
func (r *Repository) ListIssues(ctx context.Context, f IssueFilter) ([]Issue, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR i.project_id=$1) AND ($2::bigint = 0 OR i.material_id=$2) AND ($3 = '' OR i.status=$3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM material_issues i`+where, f.ProjectID, f.MaterialID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, issueSelect+where+` ORDER BY i.id DESC LIMIT $4 OFFSET $5`,
		f.ProjectID, f.MaterialID, string(f.Status), limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Issue{}
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, is)
	}
	return out, total, rows.Err()
}

// ListReturns lists returns matching filter.
func (r *Repository) ListReturns(ctx context.Context, f LedgerFilter) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, material_id, issue_id, quantity, quality_status, returned_by, COALESCE(approved_by,0), returned_at, remarks
FROM material_returns WHERE ($1::bigint = 0 OR project_id=$1) AND ($2::bigint = 0 OR issue_id=$2)
ORDER BY id DESC LIMIT $3 OFFSET $4`, f.ProjectID, f.IssueID, limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Return{}
	for rows.Next() {
		var ret Return
		var quality string
		if err := rows.Scan(&ret.ID, &ret.ProjectID, &ret.MaterialID, &ret.IssueID, &ret.Quantity, &quality, &ret.ReturnedBy, &ret.ApprovedBy, &ret.ReturnedAt, &ret.Remarks); err != nil {
			return nil, err
		}
		ret.QualityStatus = QualityStatus(quality)
		out = append(out, ret)
	}
	return out, rows.Err()
}

// ListConsumptions lists consumptions matching filter.
func (r *Repository) ListConsumptions(ctx context.Context, f LedgerFilter) ([]Consumption, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, material_id, COALESCE(issue_id,0), quantity, consumption_type, recorded_by, consumption_date, remarks
FROM material_consumptions WHERE ($1::bigint = 0 OR project_id=$1) AND ($2::bigint = 0 OR issue_id=$2)
ORDER BY id DESC LIMIT $3 OFFSET $4`, f.ProjectID, f.IssueID, limitOr(f.Limit), f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Consumption{}
	for rows.Next() {
		var c Consumption
		var kind string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.MaterialID, &c.IssueID, &c.Quantity, &kind, &c.RecordedBy, &c.ConsumptionDate, &c.Remarks); err != nil {
			return nil, err
		}
		c.Type = ConsumptionType(kind)
		out = append(out, c)
	}
	return out, rows.Err()
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
