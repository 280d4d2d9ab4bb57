package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

// PGRepository persists catalog entries in PostgreSQL. Table names come from
// the Kind whitelist and are never taken from user input directly.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func columns(kind Kind) string {
	switch {
	case kind == KindItem:
		return "id, code, name, '' AS contact, COALESCE(unit_id,0), COALESCE(category_id,0), COALESCE(brand_id,0), standard_cost, created_at"
	case kind.hasContact():
		return "id, code, name, contact, 0, 0, 0, NULL::numeric, created_at"
	default:
		return "id, code, name, '' AS contact, 0, 0, 0, NULL::numeric, created_at"
	}
}

func scanEntry(row pgx.Row, kind Kind) (Entry, error) {
	e := Entry{Kind: kind}
	var cost decimal.NullDecimal
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.Contact, &e.UnitID, &e.CategoryID, &e.BrandID, &cost, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	if cost.Valid {
		e.StandardCost = &cost.Decimal
	}
	return e, nil
}

// List returns entries of filter.Kind ordered by code.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	if !filter.Kind.Valid() {
		return nil, 0, shared.NotFoundf("catalog kind %q", filter.Kind)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	search := "%" + filter.Search + "%"
	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE code ILIKE $1 OR name ILIKE $1`, filter.Kind), search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE code ILIKE $1 OR name ILIKE $1 ORDER BY code LIMIT $2 OFFSET $3`,
		columns(filter.Kind), filter.Kind), search, limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows, filter.Kind)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Get returns one entry.
func (r *PGRepository) Get(ctx context.Context, kind Kind, id int64) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, shared.NotFoundf("catalog kind %q", kind)
	}
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, columns(kind), kind), id)
	e, err := scanEntry(row, kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.NotFoundf("%s id %d", singular(kind), id)
		}
		return Entry{}, err
	}
	return e, nil
}

// Insert stores a new entry and returns its id.
func (r *PGRepository) Insert(ctx context.Context, e Entry) (int64, error) {
	var id int64
	var err error
	switch {
	case e.Kind == KindItem:
		err = r.pool.QueryRow(ctx, `INSERT INTO items (code, name, unit_id, category_id, brand_id, standard_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, e.Code, e.Name, nullInt(e.UnitID), nullInt(e.CategoryID), nullInt(e.BrandID), e.StandardCost).Scan(&id)
	case e.Kind.hasContact():
		err = r.pool.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (code, name, contact) VALUES ($1,$2,$3) RETURNING id`, e.Kind), e.Code, e.Name, e.Contact).Scan(&id)
	case e.Kind.Valid():
		err = r.pool.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (code, name) VALUES ($1,$2) RETURNING id`, e.Kind), e.Code, e.Name).Scan(&id)
	default:
		return 0, shared.NotFoundf("catalog kind %q", e.Kind)
	}
	return id, err
}

// Exists reports which of ids are present for kind.
func (r *PGRepository) Exists(ctx context.Context, kind Kind, ids []int64) (map[int64]bool, error) {
	if !kind.Valid() {
		return nil, shared.NotFoundf("catalog kind %q", kind)
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = ANY($1)`, kind), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	return found, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
