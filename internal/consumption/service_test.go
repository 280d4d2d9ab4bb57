package consumption_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/consumption"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/testing/memdb"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "want %s, got %s", want, got.String())
}

type fixture struct {
	store     *memdb.Store
	inventory *inventory.Service
	service   *consumption.Service
	logs      *bytes.Buffer
	project   int64
	project2  int64
	warehouse int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memdb.New()
	logs := &bytes.Buffer{}
	f := &fixture{
		store:     store,
		logs:      logs,
		project:   store.Seed(catalog.KindProject, "PRJ-A"),
		project2:  store.Seed(catalog.KindProject, "PRJ-B"),
		warehouse: store.Seed(catalog.KindWarehouse, "WH-1"),
	}
	f.inventory = inventory.NewService(store.Inventory(), catalog.NewService(store.Catalog()), nil, nil, nil)
	f.service = consumption.NewService(store.Consumption(), slog.New(slog.NewTextHandler(logs, nil)))
	return f
}

// stocked registers a material for item and seeds qty at cost (empty cost
// leaves it unset).
func (f *fixture) stocked(t *testing.T, project, item int64, qty, cost string) inventory.Material {
	t.Helper()
	ctx := context.Background()
	m, err := f.inventory.RegisterMaterial(ctx, inventory.RegisterMaterialInput{ProjectID: project, ItemID: item, WarehouseID: f.warehouse})
	require.NoError(t, err)
	change := inventory.StockChange{MaterialID: m.ID, Delta: d(qty), Kind: inventory.MovementReceipt, RefType: "seed"}
	if cost != "" {
		c := d(cost)
		change.CostPerUnit = &c
	}
	require.NoError(t, f.store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		m, err = inventory.ApplyStockChange(ctx, tx, change)
		return err
	}))
	return m
}

func TestCalculateNoActivity(t *testing.T) {
	f := newFixture(t)
	item := f.store.Seed(catalog.KindItem, "SAND")
	f.stocked(t, f.project, item, "10", "2")

	report, err := f.service.Calculate(context.Background(), consumption.Filter{})
	require.NoError(t, err)
	require.Empty(t, report.Rows)
	requireDec(t, "0", report.TotalCost)
}

func TestCalculateDerivesConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.store.Seed(catalog.KindItem, "CEMENT")
	m := f.stocked(t, f.project, item, "100", "10")

	issue, err := f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("30")})
	require.NoError(t, err)
	_, err = f.inventory.ReturnMaterial(ctx, inventory.ReturnInput{IssueID: issue.ID, Quantity: d("10")})
	require.NoError(t, err)
	cancelled, err := f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("5")})
	require.NoError(t, err)
	_, err = f.inventory.CancelIssue(ctx, cancelled.ID, 1)
	require.NoError(t, err)
	_, err = f.inventory.Transfer(ctx, inventory.TransferInput{FromMaterialID: m.ID, ToProjectID: f.project2, ToWarehouseID: f.warehouse, Quantity: d("4")})
	require.NoError(t, err)

	report, err := f.service.Calculate(ctx, consumption.Filter{ProjectID: f.project})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	require.Equal(t, m.ID, row.MaterialID)
	requireDec(t, "30", row.TotalIssued)
	requireDec(t, "10", row.TotalReturned)
	requireDec(t, "4", row.TotalTransferred)
	requireDec(t, "16", row.Consumed)
	requireDec(t, "160", row.TotalCost)
	require.False(t, row.CostMissing)
	requireDec(t, "160", report.TotalCost)

	other, err := f.service.Calculate(ctx, consumption.Filter{ProjectID: f.project2})
	require.NoError(t, err)
	require.Empty(t, other.Rows)
}

func TestCalculateFlagsMissingCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.store.Seed(catalog.KindItem, "GRAVEL")
	m := f.stocked(t, f.project, item, "9", "")

	_, err := f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("3")})
	require.NoError(t, err)

	report, err := f.service.Calculate(ctx, consumption.Filter{MaterialID: m.ID})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	require.True(t, report.Rows[0].CostMissing)
	require.Nil(t, report.Rows[0].CostPerUnit)
	requireDec(t, "3", report.Rows[0].Consumed)
	requireDec(t, "0", report.Rows[0].TotalCost)
	require.Contains(t, f.logs.String(), "consumption cost missing")
}

func TestCalculateFallsBackToStandardCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cost := d("7.25")
	item, err := f.store.Catalog().Insert(ctx, catalog.Entry{Kind: catalog.KindItem, Code: "PIPE", Name: "PVC pipe", StandardCost: &cost})
	require.NoError(t, err)
	m := f.stocked(t, f.project, item, "4", "")
	_, err = f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("2")})
	require.NoError(t, err)

	report, err := f.service.Calculate(ctx, consumption.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	require.False(t, report.Rows[0].CostMissing)
	requireDec(t, "14.5", report.Rows[0].TotalCost)
}

func TestCalculateKeepsFullCostPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.store.Seed(catalog.KindItem, "WIRE")
	m := f.stocked(t, f.project, item, "10", "0.3333")
	_, err := f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("2.5")})
	require.NoError(t, err)

	report, err := f.service.Calculate(ctx, consumption.Filter{MaterialID: m.ID})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	requireDec(t, "0.83325", report.Rows[0].TotalCost)
	requireDec(t, "0.83325", report.TotalCost)
}

// blockingRepo holds IssuedTotals until release is closed, honouring ctx.
type blockingRepo struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingRepo) IssuedTotals(ctx context.Context, _ consumption.Filter) (map[int64]decimal.Decimal, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
	}
	select {
	case <-r.release:
		return map[int64]decimal.Decimal{1: d("5")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (*blockingRepo) ReturnedTotals(context.Context, consumption.Filter) (map[int64]decimal.Decimal, error) {
	return map[int64]decimal.Decimal{}, nil
}

func (*blockingRepo) TransferredTotals(context.Context, consumption.Filter) (map[int64]decimal.Decimal, error) {
	return map[int64]decimal.Decimal{}, nil
}

func (*blockingRepo) Materials(context.Context, consumption.Filter) (map[int64]consumption.MaterialInfo, error) {
	return map[int64]consumption.MaterialInfo{1: {MaterialID: 1, ProjectID: 1}}, nil
}

func (*blockingRepo) SaveSnapshots(context.Context, []consumption.Row, time.Time) error {
	return nil
}

func TestCalculateSurvivesFirstCallerCancel(t *testing.T) {
	repo := &blockingRepo{started: make(chan struct{}), release: make(chan struct{})}
	service := consumption.NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := service.Calculate(firstCtx, consumption.Filter{})
		firstErr <- err
	}()
	<-repo.started

	type result struct {
		report consumption.Report
		err    error
	}
	second := make(chan result, 1)
	go func() {
		report, err := service.Calculate(context.Background(), consumption.Filter{})
		second <- result{report, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(repo.release)

	got := <-second
	require.NoError(t, got.err)
	require.Len(t, got.report.Rows, 1)
	requireDec(t, "5", got.report.Rows[0].Consumed)
	require.Equal(t, int32(1), repo.calls.Load())
}

func TestSnapshotUpsertsRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.store.Seed(catalog.KindItem, "BRICK")
	m := f.stocked(t, f.project, item, "50", "1")
	_, err := f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("20")})
	require.NoError(t, err)

	n, err := f.service.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = f.inventory.Issue(ctx, inventory.IssueInput{ProjectID: f.project, MaterialID: m.ID, Quantity: d("5")})
	require.NoError(t, err)
	n, err = f.service.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snapshots := f.store.Consumption().Snapshots()
	require.Len(t, snapshots, 1)
	requireDec(t, "25", snapshots[[2]int64{f.project, m.ID}].Consumed)
}

type failingRepo struct {
	consumption.Repository
}

func (failingRepo) IssuedTotals(context.Context, consumption.Filter) (map[int64]decimal.Decimal, error) {
	return nil, errors.New("connection reset")
}

func (failingRepo) ReturnedTotals(context.Context, consumption.Filter) (map[int64]decimal.Decimal, error) {
	return map[int64]decimal.Decimal{}, nil
}

func (failingRepo) TransferredTotals(context.Context, consumption.Filter) (map[int64]decimal.Decimal, error) {
	return map[int64]decimal.Decimal{}, nil
}

func (failingRepo) Materials(context.Context, consumption.Filter) (map[int64]consumption.MaterialInfo, error) {
	return map[int64]consumption.MaterialInfo{}, nil
}

func (failingRepo) SaveSnapshots(context.Context, []consumption.Row, time.Time) error {
	return nil
}

func TestCalculatePropagatesLedgerErrors(t *testing.T) {
	service := consumption.NewService(failingRepo{}, nil)
	_, err := service.Calculate(context.Background(), consumption.Filter{})
	require.ErrorContains(t, err, "connection reset")
	_, err = service.Snapshot(context.Background())
	require.Error(t, err)
}
