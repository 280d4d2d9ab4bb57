// Package memdb is an in-memory stand-in for the PostgreSQL repositories.
// A single mutex is held for the whole of WithTx, which gives callers the
// same serialisation that SELECT ... FOR UPDATE gives them in PostgreSQL; a
// failed transaction restores the state it started from.
package memdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/consumption"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/procurement"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Store holds every table.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	seq int64

	catalog      map[catalog.Kind]map[int64]catalog.Entry
	materials    map[int64]inventory.Material
	movements    []inventory.Movement
	transfers    []inventory.Transfer
	issues       map[int64]inventory.Issue
	returns      []inventory.Return
	consumptions []inventory.Consumption
	mrrs         map[int64]procurement.MRR
	pos          map[int64]procurement.PurchaseOrder
	receipts     map[int64]procurement.Receipt
	snapshots    map[[2]int64]consumption.Row
	snapshotAt   time.Time

	idempotency map[string]struct{}
	audit       []shared.AuditLog
	approvals   []shared.ApprovalLog
}

// New returns an empty store.
func New() *Store {
	return &Store{st: &state{
		catalog:     make(map[catalog.Kind]map[int64]catalog.Entry),
		materials:   make(map[int64]inventory.Material),
		issues:      make(map[int64]inventory.Issue),
		mrrs:        make(map[int64]procurement.MRR),
		pos:         make(map[int64]procurement.PurchaseOrder),
		receipts:    make(map[int64]procurement.Receipt),
		snapshots:   make(map[[2]int64]consumption.Row),
		idempotency: make(map[string]struct{}),
	}}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) clone() *state {
	c := &state{
		seq:          s.seq,
		catalog:      make(map[catalog.Kind]map[int64]catalog.Entry, len(s.catalog)),
		materials:    cloneMap(s.materials),
		movements:    append([]inventory.Movement(nil), s.movements...),
		transfers:    append([]inventory.Transfer(nil), s.transfers...),
		issues:       cloneMap(s.issues),
		returns:      append([]inventory.Return(nil), s.returns...),
		consumptions: append([]inventory.Consumption(nil), s.consumptions...),
		mrrs:         make(map[int64]procurement.MRR, len(s.mrrs)),
		pos:          make(map[int64]procurement.PurchaseOrder, len(s.pos)),
		receipts:     make(map[int64]procurement.Receipt, len(s.receipts)),
		snapshots:    cloneMap(s.snapshots),
		snapshotAt:   s.snapshotAt,
		idempotency:  cloneMap(s.idempotency),
		audit:        append([]shared.AuditLog(nil), s.audit...),
		approvals:    append([]shared.ApprovalLog(nil), s.approvals...),
	}
	for kind, entries := range s.catalog {
		c.catalog[kind] = cloneMap(entries)
	}
	for id, m := range s.mrrs {
		m.Items = append([]procurement.MRRItem(nil), m.Items...)
		c.mrrs[id] = m
	}
	for id, po := range s.pos {
		po.Items = append([]procurement.POItem(nil), po.Items...)
		c.pos[id] = po
	}
	for id, rc := range s.receipts {
		rc.Items = append([]procurement.ReceiptItem(nil), rc.Items...)
		c.receipts[id] = rc
	}
	return c
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// tx runs fn under the store lock and rolls the state back when it fails.
func (s *Store) tx(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := s.st.clone()
	if err := fn(s.st); err != nil {
		s.st = backup
		return err
	}
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return append([]T{}, items[offset:end]...)
}

func sortedKeys[V any](in map[int64]V) []int64 {
	keys := make([]int64, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// --- catalog ---

// CatalogRepo implements catalog.Repository.
type CatalogRepo struct{ s *Store }

// Catalog returns the catalog adapter.
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

// List implements catalog.Repository.
func (r *CatalogRepo) List(_ context.Context, f catalog.ListFilter) ([]catalog.Entry, int, error) {
	var out []catalog.Entry
	r.s.read(func(st *state) {
		search := strings.ToLower(f.Search)
		for _, e := range st.catalog[f.Kind] {
			if search == "" || strings.Contains(strings.ToLower(e.Code), search) || strings.Contains(strings.ToLower(e.Name), search) {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return page(out, f.Limit, f.Offset), len(out), nil
}

// Get implements catalog.Repository.
func (r *CatalogRepo) Get(_ context.Context, kind catalog.Kind, id int64) (catalog.Entry, error) {
	var (
		e  catalog.Entry
		ok bool
	)
	r.s.read(func(st *state) { e, ok = st.catalog[kind][id] })
	if !ok {
		return catalog.Entry{}, shared.NotFoundf("%s %d", kind, id)
	}
	return e, nil
}

// Insert implements catalog.Repository. Duplicate codes fail like a unique
// index would.
func (r *CatalogRepo) Insert(_ context.Context, e catalog.Entry) (int64, error) {
	var id int64
	err := r.s.tx(func(st *state) error {
		entries := st.catalog[e.Kind]
		if entries == nil {
			entries = make(map[int64]catalog.Entry)
			st.catalog[e.Kind] = entries
		}
		for _, existing := range entries {
			if existing.Code == e.Code {
				return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
			}
		}
		id = st.nextID()
		e.ID = id
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		entries[id] = e
		return nil
	})
	return id, err
}

// Exists implements catalog.Repository.
func (r *CatalogRepo) Exists(_ context.Context, kind catalog.Kind, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	r.s.read(func(st *state) {
		for _, id := range ids {
			_, ok := st.catalog[kind][id]
			out[id] = ok
		}
	})
	return out, nil
}

// Seed inserts a catalog entry and returns its id. It panics on duplicate
// codes.
func (s *Store) Seed(kind catalog.Kind, code string) int64 {
	id, err := s.Catalog().Insert(context.Background(), catalog.Entry{Kind: kind, Code: code, Name: code})
	if err != nil {
		panic(err)
	}
	return id
}

// --- shared ports ---

// IdempotencyStore implements shared.IdempotencyChecker.
type IdempotencyStore struct{ s *Store }

// Idempotency returns the idempotency adapter.
func (s *Store) Idempotency() *IdempotencyStore { return &IdempotencyStore{s: s} }

// CheckAndInsert implements shared.IdempotencyChecker.
func (r *IdempotencyStore) CheckAndInsert(_ context.Context, key, module string) error {
	return r.s.tx(func(st *state) error {
		k := module + ":" + key
		if _, ok := st.idempotency[k]; ok {
			return shared.ErrIdempotencyConflict
		}
		st.idempotency[k] = struct{}{}
		return nil
	})
}

// Delete implements shared.IdempotencyChecker.
func (r *IdempotencyStore) Delete(_ context.Context, key, module string) error {
	return r.s.tx(func(st *state) error {
		delete(st.idempotency, module+":"+key)
		return nil
	})
}

// AuditLog collects audit and approval records.
type AuditLog struct{ s *Store }

// Audit returns the audit/approval adapter.
func (s *Store) Audit() *AuditLog { return &AuditLog{s: s} }

// Record implements the audit port.
func (r *AuditLog) Record(_ context.Context, log shared.AuditLog) error {
	return r.s.tx(func(st *state) error {
		st.audit = append(st.audit, log)
		return nil
	})
}

// Entries returns the recorded audit logs.
func (r *AuditLog) Entries() []shared.AuditLog {
	var out []shared.AuditLog
	r.s.read(func(st *state) { out = append(out, st.audit...) })
	return out
}

// Approvals returns the approval adapter.
func (s *Store) Approvals() *ApprovalLog { return &ApprovalLog{s: s} }

// ApprovalLog implements procurement.ApprovalPort.
type ApprovalLog struct{ s *Store }

// Record stores an approval entry.
func (r *ApprovalLog) Record(_ context.Context, log shared.ApprovalLog) error {
	return r.s.tx(func(st *state) error {
		st.approvals = append(st.approvals, log)
		return nil
	})
}

// EnsureSubmit stores a SUBMIT entry unless one exists.
func (r *ApprovalLog) EnsureSubmit(_ context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	return r.s.tx(func(st *state) error {
		for _, l := range st.approvals {
			if l.Module == module && l.RefID == ref && l.Action == shared.ApprovalSubmit {
				return nil
			}
		}
		st.approvals = append(st.approvals, shared.ApprovalLog{Module: module, RefID: ref, ActorID: actorID, Action: shared.ApprovalSubmit, Note: note})
		return nil
	})
}

// List returns the approvals of one document in insertion order.
func (r *ApprovalLog) List(module string, id int64) []shared.ApprovalLog {
	ref := shared.ApprovalRef(module, id)
	var out []shared.ApprovalLog
	r.s.read(func(st *state) {
		for _, l := range st.approvals {
			if l.Module == module && l.RefID == ref {
				out = append(out, l)
			}
		}
	})
	return out
}
