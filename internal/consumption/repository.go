package consumption

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGRepository reads consumption aggregates from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const materialScope = `($1::bigint = 0 OR m.project_id=$1) AND ($2::bigint = 0 OR m.id=$2)`

// IssuedTotals sums non-cancelled issues per material.
func (r *PGRepository) IssuedTotals(ctx context.Context, f Filter) (map[int64]decimal.Decimal, error) {
	return r.totals(ctx, `SELECT i.material_id, SUM(i.quantity) FROM material_issues i
JOIN materials m ON m.id = i.material_id
WHERE i.status <> 'CANCELLED' AND `+materialScope+` GROUP BY i.material_id`, f)
}

// ReturnedTotals sums returns per material.
func (r *PGRepository) ReturnedTotals(ctx context.Context, f Filter) (map[int64]decimal.Decimal, error) {
	return r.totals(ctx, `SELECT rt.material_id, SUM(rt.quantity) FROM material_returns rt
JOIN materials m ON m.id = rt.material_id
WHERE `+materialScope+` GROUP BY rt.material_id`, f)
}

// TransferredTotals sums outgoing transfers per source material.
func (r *PGRepository) TransferredTotals(ctx context.Context, f Filter) (map[int64]decimal.Decimal, error) {
	return r.totals(ctx, `SELECT t.from_material_id, SUM(t.quantity) FROM site_transfers t
JOIN materials m ON m.id = t.from_material_id
WHERE `+materialScope+` GROUP BY t.from_material_id`, f)
}

func (r *PGRepository) totals(ctx context.Context, sql string, f Filter) (map[int64]decimal.Decimal, error) {
	if r == nil {
		return nil, errors.New("consumption repository not initialised")
	}
	rows, err := r.pool.Query(ctx, sql, f.ProjectID, f.MaterialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var id int64
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

// Materials loads material context; the item standard cost stands in when the
// material has no receipt cost yet.
func (r *PGRepository) Materials(ctx context.Context, f Filter) (map[int64]MaterialInfo, error) {
	if r == nil {
		return nil, errors.New("consumption repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.project_id, m.item_id, m.warehouse_id, COALESCE(m.cost_per_unit, it.standard_cost)
FROM materials m JOIN items it ON it.id = m.item_id
WHERE `+materialScope, f.ProjectID, f.MaterialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]MaterialInfo)
	for rows.Next() {
		var info MaterialInfo
		var cost decimal.NullDecimal
		if err := rows.Scan(&info.MaterialID, &info.ProjectID, &info.ItemID, &info.WarehouseID, &cost); err != nil {
			return nil, err
		}
		if cost.Valid {
			info.CostPerUnit = &cost.Decimal
		}
		out[info.MaterialID] = info
	}
	return out, rows.Err()
}

// SaveSnapshots upserts rows in one batch.
func (r *PGRepository) SaveSnapshots(ctx context.Context, rows []Row, takenAt time.Time) error {
	if r == nil {
		return errors.New("consumption repository not initialised")
	}
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`INSERT INTO consumption_snapshots (project_id, material_id, total_issued, total_returned, total_transferred,
consumed, cost_per_unit, total_cost, cost_missing, taken_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (project_id, material_id) DO UPDATE SET
total_issued=EXCLUDED.total_issued, total_returned=EXCLUDED.total_returned, total_transferred=EXCLUDED.total_transferred,
consumed=EXCLUDED.consumed, cost_per_unit=EXCLUDED.cost_per_unit, total_cost=EXCLUDED.total_cost,
cost_missing=EXCLUDED.cost_missing, taken_at=EXCLUDED.taken_at`,
			row.ProjectID, row.MaterialID, row.TotalIssued, row.TotalReturned, row.TotalTransferred,
			row.Consumed, row.CostPerUnit, row.TotalCost, row.CostMissing, takenAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
