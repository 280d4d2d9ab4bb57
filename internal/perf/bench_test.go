package perf

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/consumption"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/testing/memdb"
)

type bench struct {
	store     *memdb.Store
	inventory *inventory.Service
	project   int64
	material  inventory.Material
}

func newBench(b *testing.B, onHand int64) *bench {
	b.Helper()
	store := memdb.New()
	project := store.Seed(catalog.KindProject, "PRJ-BENCH")
	item := store.Seed(catalog.KindItem, "CEM-PC50")
	warehouse := store.Seed(catalog.KindWarehouse, "WH-BENCH")
	svc := inventory.NewService(store.Inventory(), catalog.NewService(store.Catalog()), store.Audit(), store.Idempotency(), nil)

	ctx := context.Background()
	m, err := svc.RegisterMaterial(ctx, inventory.RegisterMaterialInput{ProjectID: project, ItemID: item, WarehouseID: warehouse})
	if err != nil {
		b.Fatalf("register material: %v", err)
	}
	cost := decimal.RequireFromString("62")
	err = store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		m, err = inventory.ApplyStockChange(ctx, tx, inventory.StockChange{
			MaterialID:  m.ID,
			Delta:       decimal.NewFromInt(onHand),
			Kind:        inventory.MovementReceipt,
			RefType:     "bench",
			CostPerUnit: &cost,
		})
		return err
	})
	if err != nil {
		b.Fatalf("seed stock: %v", err)
	}
	return &bench{store: store, inventory: svc, project: project, material: m}
}

func BenchmarkParallelIssues(b *testing.B) {
	env := newBench(b, int64(b.N)+1)
	one := decimal.NewFromInt(1)
	var failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, err := env.inventory.Issue(context.Background(), inventory.IssueInput{
				ProjectID:  env.project,
				MaterialID: env.material.ID,
				Quantity:   one,
				IssuedBy:   1,
			})
			if err != nil {
				failures.Add(1)
			}
		}
	})
	b.StopTimer()
	if n := failures.Load(); n > 0 {
		b.Fatalf("%d issues failed with stock available", n)
	}
}

func BenchmarkConsumptionReport(b *testing.B) {
	env := newBench(b, 10_000)
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		if _, err := env.inventory.Issue(ctx, inventory.IssueInput{ProjectID: env.project, MaterialID: env.material.ID, Quantity: decimal.NewFromInt(2), IssuedBy: 1}); err != nil {
			b.Fatalf("issue: %v", err)
		}
	}
	calc := consumption.NewService(env.store.Consumption(), nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		report, err := calc.Calculate(ctx, consumption.Filter{ProjectID: env.project})
		if err != nil {
			b.Fatalf("calculate: %v", err)
		}
		if len(report.Rows) != 1 {
			b.Fatalf("expected one row, got %d", len(report.Rows))
		}
	}
}
