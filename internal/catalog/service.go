package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

// Repository persists reference data.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Entry, int, error)
	Get(ctx context.Context, kind Kind, id int64) (Entry, error)
	Insert(ctx context.Context, entry Entry) (int64, error)
	Exists(ctx context.Context, kind Kind, ids []int64) (map[int64]bool, error)
}

// Service exposes catalog lookups and creation.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput describes a new catalog entry.
type CreateInput struct {
	Kind         Kind
	Code         string
	Name         string
	Contact      string
	UnitID       int64
	CategoryID   int64
	BrandID      int64
	StandardCost *decimal.Decimal
}

// List returns entries of a kind.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	if !filter.Kind.Valid() {
		return nil, 0, shared.NotFoundf("catalog kind %q", filter.Kind)
	}
	return s.repo.List(ctx, filter)
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, kind Kind, id int64) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, shared.NotFoundf("catalog kind %q", kind)
	}
	return s.repo.Get(ctx, kind, id)
}

// Create validates and inserts a new entry.
func (s *Service) Create(ctx context.Context, input CreateInput) (Entry, error) {
	if !input.Kind.Valid() {
		return Entry{}, shared.NotFoundf("catalog kind %q", input.Kind)
	}
	verr := &shared.ValidationError{}
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if input.Code == "" {
		verr.Add("code", "is required")
	}
	if input.Name == "" {
		verr.Add("name", "is required")
	}
	if input.StandardCost != nil && input.StandardCost.IsNegative() {
		verr.Add("standard_cost", "must not be negative")
	}
	if input.Kind != KindItem && (input.UnitID != 0 || input.CategoryID != 0 || input.BrandID != 0 || input.StandardCost != nil) {
		verr.Add("kind", "only items carry unit, category, brand or standard cost")
	}
	if err := verr.OrNil(); err != nil {
		return Entry{}, err
	}
	if input.Kind == KindItem {
		refs := []Ref{{KindUnit, input.UnitID}, {KindCategory, input.CategoryID}, {KindBrand, input.BrandID}}
		var present []Ref
		for _, ref := range refs {
			if ref.ID != 0 {
				present = append(present, ref)
			}
		}
		if err := s.Require(ctx, present...); err != nil {
			return Entry{}, err
		}
	}
	entry := Entry{
		Kind:         input.Kind,
		Code:         input.Code,
		Name:         input.Name,
		UnitID:       input.UnitID,
		CategoryID:   input.CategoryID,
		BrandID:      input.BrandID,
		StandardCost: input.StandardCost,
	}
	if input.Kind.hasContact() {
		entry.Contact = input.Contact
	}
	id, err := s.repo.Insert(ctx, entry)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Entry{}, shared.Conflictf("%s code %q already exists", input.Kind, input.Code)
		}
		return Entry{}, err
	}
	return s.repo.Get(ctx, input.Kind, id)
}

// Require fails with a not-found error naming the first missing reference.
// Refs with a zero id are reported as missing as well.
func (s *Service) Require(ctx context.Context, refs ...Ref) error {
	byKind := make(map[Kind][]int64)
	for _, ref := range refs {
		if ref.ID <= 0 {
			return shared.NotFoundf("%s id %d", singular(ref.Kind), ref.ID)
		}
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.ID)
	}
	found := make(map[Kind]map[int64]bool, len(byKind))
	for kind, ids := range byKind {
		exists, err := s.repo.Exists(ctx, kind, ids)
		if err != nil {
			return fmt.Errorf("catalog: check %s: %w", kind, err)
		}
		found[kind] = exists
	}
	for _, ref := range refs {
		if !found[ref.Kind][ref.ID] {
			return shared.NotFoundf("%s id %d", singular(ref.Kind), ref.ID)
		}
	}
	return nil
}

func singular(k Kind) string {
	switch k {
	case KindCategory:
		return "category"
	default:
		return strings.TrimSuffix(string(k), "s")
	}
}
