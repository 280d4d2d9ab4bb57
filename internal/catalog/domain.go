package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a reference-data table.
type Kind string

const (
	KindItem      Kind = "items"
	KindUnit      Kind = "units"
	KindBrand     Kind = "brands"
	KindCategory  Kind = "categories"
	KindSupplier  Kind = "suppliers"
	KindWarehouse Kind = "warehouses"
	KindProject   Kind = "projects"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindItem, KindUnit, KindBrand, KindCategory, KindSupplier, KindWarehouse, KindProject}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// hasContact marks kinds that carry a free-form contact/location column.
func (k Kind) hasContact() bool {
	return k == KindSupplier || k == KindWarehouse || k == KindProject
}

// Entry is a reference-data row. Item-only columns are zero for other kinds.
type Entry struct {
	ID           int64            `json:"id"`
	Kind         Kind             `json:"kind"`
	Code         string           `json:"code"`
	Name         string           `json:"name"`
	Contact      string           `json:"contact,omitempty"`
	UnitID       int64            `json:"unit_id,omitempty"`
	CategoryID   int64            `json:"category_id,omitempty"`
	BrandID      int64            `json:"brand_id,omitempty"`
	StandardCost *decimal.Decimal `json:"standard_cost,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Ref points at a single catalog entry.
type Ref struct {
	Kind Kind
	ID   int64
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Kind   Kind
	Search string
	Limit  int
	Offset int
}
