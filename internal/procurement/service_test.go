package procurement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/procurement"
	"github.com/sitepro/sitepro-erp/internal/shared"
	"github.com/sitepro/sitepro-erp/internal/testing/memdb"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "want %s, got %s", want, got.String())
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []procurement.POPlacedEvent
	err    error
}

func (n *recordingNotifier) NotifyPOPlaced(_ context.Context, event procurement.POPlacedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

type fixture struct {
	store     *memdb.Store
	service   *procurement.Service
	notifier  *recordingNotifier
	project   int64
	supplier  int64
	item      int64
	item2     int64
	unit      int64
	warehouse int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memdb.New()
	f := &fixture{
		store:     store,
		notifier:  &recordingNotifier{},
		project:   store.Seed(catalog.KindProject, "PRJ-A"),
		supplier:  store.Seed(catalog.KindSupplier, "SUP-1"),
		item:      store.Seed(catalog.KindItem, "REBAR-12"),
		item2:     store.Seed(catalog.KindItem, "CEMENT"),
		unit:      store.Seed(catalog.KindUnit, "KG"),
		warehouse: store.Seed(catalog.KindWarehouse, "WH-1"),
	}
	f.service = procurement.NewService(procurement.Dependencies{
		Repo:        store.Procurement(),
		Refs:        catalog.NewService(store.Catalog()),
		Approvals:   store.Approvals(),
		Audit:       store.Audit(),
		Idempotency: store.Idempotency(),
		Notifier:    f.notifier,
		Config:      procurement.ServiceConfig{DefaultTaxRate: d("10")},
	})
	return f
}

func (f *fixture) approvedMRR(t *testing.T, qty string) procurement.MRR {
	t.Helper()
	ctx := context.Background()
	mrr, err := f.service.CreateMRR(ctx, procurement.CreateMRRInput{
		ProjectID:   f.project,
		RequestedBy: 11,
		Items:       []procurement.MRRItemInput{{ItemID: f.item, UnitID: f.unit, Quantity: d(qty)}},
	})
	require.NoError(t, err)
	mrr, err = f.service.DecideMRR(ctx, procurement.DecideMRRInput{MRRID: mrr.ID, ApproverID: 12, Decision: procurement.MRRStatusApproved})
	require.NoError(t, err)
	return mrr
}

// placedPO creates, approves and places an order with one line per qty.
func (f *fixture) placedPO(t *testing.T, price string, qtys ...string) procurement.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	input := procurement.CreatePOInput{ProjectID: f.project, SupplierID: f.supplier, CreatedBy: 11}
	items := []int64{f.item, f.item2}
	for i, q := range qtys {
		input.Items = append(input.Items, procurement.POLineInput{ItemID: items[i%len(items)], UnitID: f.unit, Quantity: d(q), UnitPrice: d(price)})
	}
	po, err := f.service.CreateStandalonePO(ctx, input)
	require.NoError(t, err)
	_, err = f.service.ApprovePO(ctx, po.ID, 12, "")
	require.NoError(t, err)
	_, err = f.service.PlacePO(ctx, po.ID, 12)
	require.NoError(t, err)
	po, err = f.service.GetPO(ctx, po.ID)
	require.NoError(t, err)
	return po
}

func (f *fixture) onHand(t *testing.T, item int64) decimal.Decimal {
	t.Helper()
	materials, _, err := f.store.Inventory().ListMaterials(context.Background(), inventory.MaterialFilter{ProjectID: f.project, ItemID: item})
	require.NoError(t, err)
	if len(materials) == 0 {
		return decimal.Zero
	}
	return materials[0].OnHand
}

func TestCreateMRRValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateMRR(ctx, procurement.CreateMRRInput{ProjectID: f.project})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items")

	_, err = f.service.CreateMRR(ctx, procurement.CreateMRRInput{
		ProjectID: f.project,
		Items:     []procurement.MRRItemInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("-1")}},
	})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items[0].quantity")

	_, err = f.service.CreateMRR(ctx, procurement.CreateMRRInput{
		ProjectID: 9999,
		Items:     []procurement.MRRItemInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("1")}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDecideMRROnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mrr := f.approvedMRR(t, "100")
	require.Equal(t, procurement.MRRStatusApproved, mrr.Status)
	require.Equal(t, int64(12), mrr.DecidedBy)
	require.NotNil(t, mrr.DecidedAt)

	_, err := f.service.DecideMRR(ctx, procurement.DecideMRRInput{MRRID: mrr.ID, ApproverID: 13, Decision: procurement.MRRStatusRejected})
	require.ErrorIs(t, err, shared.ErrConflict)

	got, err := f.service.GetMRR(ctx, mrr.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.MRRStatusApproved, got.Status)
	require.Equal(t, int64(12), got.DecidedBy)

	_, err = f.service.DecideMRR(ctx, procurement.DecideMRRInput{MRRID: mrr.ID, ApproverID: 13, Decision: procurement.MRRStatusPending})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.service.DecideMRR(ctx, procurement.DecideMRRInput{MRRID: 9999, ApproverID: 13, Decision: procurement.MRRStatusApproved})
	require.ErrorIs(t, err, shared.ErrNotFound)

	history := f.store.Approvals().List("MRR", mrr.ID)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
}

func TestCreatePOFromMRR(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.service.CreateMRR(ctx, procurement.CreateMRRInput{
		ProjectID: f.project,
		Items:     []procurement.MRRItemInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("5")}},
	})
	require.NoError(t, err)
	_, err = f.service.CreatePOFromMRR(ctx, procurement.CreatePOInput{
		MRRID: pending.ID, SupplierID: f.supplier,
		Items: []procurement.POLineInput{{MRRLineNo: 1, UnitPrice: d("10")}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	mrr := f.approvedMRR(t, "100")
	_, err = f.service.CreatePOFromMRR(ctx, procurement.CreatePOInput{
		MRRID: mrr.ID, SupplierID: f.supplier,
		Items: []procurement.POLineInput{{MRRLineNo: 7, UnitPrice: d("10")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	po, err := f.service.CreatePOFromMRR(ctx, procurement.CreatePOInput{
		MRRID: mrr.ID, SupplierID: f.supplier, CreatedBy: 11,
		Items: []procurement.POLineInput{{MRRLineNo: 1, UnitPrice: d("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusDraft, po.Status)
	require.Equal(t, mrr.ID, po.MRRID)
	require.Equal(t, f.project, po.ProjectID)
	require.Len(t, po.Items, 1)
	require.Equal(t, f.item, po.Items[0].ItemID)
	requireDec(t, "100", po.Items[0].QuantityOrdered)
	requireDec(t, "1000", po.Subtotal)
	requireDec(t, "100", po.Tax)
	requireDec(t, "1100", po.Total)
}

func TestCreateStandalonePOValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	negative := d("-1")

	_, err := f.service.CreateStandalonePO(ctx, procurement.CreatePOInput{
		Tax: &negative,
		Items: []procurement.POLineInput{
			{ItemID: f.item, UnitID: f.unit, Quantity: d("0"), UnitPrice: d("-2")},
		},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"supplier_id", "tax", "items[0].quantity", "items[0].unit_price"} {
		require.Contains(t, verr.Fields, field)
	}

	po, err := f.service.CreateStandalonePO(ctx, procurement.CreatePOInput{
		SupplierID: f.supplier,
		Items:      []procurement.POLineInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("2"), UnitPrice: d("0")}},
	})
	require.NoError(t, err)
	require.Zero(t, po.ProjectID)
	requireDec(t, "0", po.Total)

	fine := d("0.00001")
	_, err = f.service.CreateStandalonePO(ctx, procurement.CreatePOInput{
		SupplierID: f.supplier,
		Tax:        &fine,
		Items:      []procurement.POLineInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("1.23456"), UnitPrice: d("0.33333")}},
	})
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"tax", "items[0].quantity", "items[0].unit_price"} {
		require.Contains(t, verr.Fields, field)
	}
}

func TestStandalonePOTotalsAreExactLineSums(t *testing.T) {
	f := newFixture(t)
	zero := d("0")
	po, err := f.service.CreateStandalonePO(context.Background(), procurement.CreatePOInput{
		SupplierID: f.supplier,
		Tax:        &zero,
		Items: []procurement.POLineInput{
			{ItemID: f.item, UnitID: f.unit, Quantity: d("1.5"), UnitPrice: d("0.333")},
			{ItemID: f.item2, UnitID: f.unit, Quantity: d("3"), UnitPrice: d("0.125")},
		},
	})
	require.NoError(t, err)
	requireDec(t, "0.4995", po.Items[0].LineTotal)
	requireDec(t, "0.375", po.Items[1].LineTotal)
	requireDec(t, "0.8745", po.Subtotal)
	requireDec(t, "0.8745", po.Total)
}

func TestPOLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, err := f.service.CreateStandalonePO(ctx, procurement.CreatePOInput{
		ProjectID: f.project, SupplierID: f.supplier,
		Items: []procurement.POLineInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("4"), UnitPrice: d("2.5")}},
	})
	require.NoError(t, err)

	_, err = f.service.PlacePO(ctx, po.ID, 1)
	require.ErrorIs(t, err, shared.ErrConflict)

	approved, err := f.service.ApprovePO(ctx, po.ID, 12, "ok")
	require.NoError(t, err)
	require.Equal(t, int64(12), approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	placed, err := f.service.PlacePO(ctx, po.ID, 12)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPlaced, placed.Status)
	require.Len(t, f.notifier.events, 1)
	require.Equal(t, po.ID, f.notifier.events[0].POID)
	requireDec(t, "11", f.notifier.events[0].Total)

	_, err = f.service.CancelPO(ctx, po.ID, 12)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = f.service.ClosePO(ctx, po.ID, 12)
	require.ErrorIs(t, err, shared.ErrConflict)

	acked, err := f.service.AcknowledgePO(ctx, po.ID, 12)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusAcknowledged, acked.Status)
}

func TestPlacePOIgnoresNotificationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errors.New("redis down")
	po := f.placedPO(t, "1", "1")
	require.Equal(t, procurement.POStatusPlaced, po.Status)
	require.Len(t, f.notifier.events, 1)

	draft, err := f.service.CreateStandalonePO(ctx, procurement.CreatePOInput{
		SupplierID: f.supplier,
		Items:      []procurement.POLineInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("1"), UnitPrice: d("1")}},
	})
	require.NoError(t, err)
	cancelled, err := f.service.CancelPO(ctx, draft.ID, 1)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusCancelled, cancelled.Status)
}

func TestReceiptPostsStockAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.placedPO(t, "10", "100")

	receipt, err := f.service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse, ReceivedBy: 21,
		Items: []procurement.ReceiptLineInput{{POItemID: po.Items[0].ID, Quantity: d("60")}},
	})
	require.NoError(t, err)
	require.Equal(t, f.project, receipt.ProjectID)
	require.Len(t, receipt.Items, 1)
	require.Equal(t, inventory.QualityGood, receipt.Items[0].QualityStatus)
	require.NotZero(t, receipt.Items[0].MaterialID)
	requireDec(t, "60", f.onHand(t, f.item))

	got, err := f.service.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPartiallyReceived, got.Status)
	requireDec(t, "60", got.Items[0].QuantityReceived)

	_, err = f.service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{{POItemID: po.Items[0].ID, Quantity: d("40")}},
	})
	require.NoError(t, err)
	got, err = f.service.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusFullyReceived, got.Status)
	requireDec(t, "100", f.onHand(t, f.item))

	material, err := f.store.Inventory().GetMaterial(ctx, receipt.Items[0].MaterialID)
	require.NoError(t, err)
	require.NotNil(t, material.CostPerUnit)
	requireDec(t, "10", *material.CostPerUnit)

	_, err = f.service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{{POItemID: po.Items[0].ID, Quantity: d("1")}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	closed, err := f.service.ClosePO(ctx, po.ID, 1)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, closed.Status)
}

func TestReceiptRejectsOverReceiptAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.placedPO(t, "5", "10", "8")

	_, err := f.service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{
			{POItemID: po.Items[0].ID, Quantity: d("10")},
			{POItemID: po.Items[1].ID, Quantity: d("5")},
			{POItemID: po.Items[1].ID, Quantity: d("4")},
		},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items[2].quantity_received")

	got, err := f.service.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPlaced, got.Status)
	for _, item := range got.Items {
		requireDec(t, "0", item.QuantityReceived)
	}
	requireDec(t, "0", f.onHand(t, f.item))
	receipts, total, err := f.service.ListReceipts(ctx, procurement.ReceiptFilter{POID: po.ID})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, receipts)

	_, err = f.service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{{POItemID: 424242, Quantity: d("1")}},
	})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "items[0].po_item_id")
}

func TestDamagedReceiptCountsButDoesNotRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.placedPO(t, "3", "10")

	receipt, err := f.service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{
			{POItemID: po.Items[0].ID, Quantity: d("7")},
			{POItemID: po.Items[0].ID, Quantity: d("3"), QualityStatus: inventory.QualityDamaged, Remarks: "torn bags"},
		},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Items, 2)
	require.Equal(t, receipt.Items[0].MaterialID, receipt.Items[1].MaterialID)
	requireDec(t, "7", f.onHand(t, f.item))

	got, err := f.service.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusFullyReceived, got.Status)
}

func TestReceiptNeedsProjectAndPlacedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, err := f.service.CreateStandalonePO(ctx, procurement.CreatePOInput{
		SupplierID: f.supplier,
		Items:      []procurement.POLineInput{{ItemID: f.item, UnitID: f.unit, Quantity: d("2"), UnitPrice: d("1")}},
	})
	require.NoError(t, err)
	input := procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{{POItemID: po.Items[0].ID, Quantity: d("1")}},
	}
	_, err = f.service.CreateReceipt(ctx, input)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.service.ApprovePO(ctx, po.ID, 1, "")
	require.NoError(t, err)
	_, err = f.service.PlacePO(ctx, po.ID, 1)
	require.NoError(t, err)

	_, err = f.service.CreateReceipt(ctx, input)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "project_id")

	input.ProjectID = f.project
	receipt, err := f.service.CreateReceipt(ctx, input)
	require.NoError(t, err)
	require.Equal(t, f.project, receipt.ProjectID)
}

func TestReceiptIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.placedPO(t, "1", "10")
	input := procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse, IdempotencyKey: "grn-1",
		Items: []procurement.ReceiptLineInput{{POItemID: po.Items[0].ID, Quantity: d("4")}},
	}
	_, err := f.service.CreateReceipt(ctx, input)
	require.NoError(t, err)
	_, err = f.service.CreateReceipt(ctx, input)
	require.ErrorIs(t, err, shared.ErrConflict)
	requireDec(t, "4", f.onHand(t, f.item))
}

// lockOrderRepo records the items of material rows locked by receipts.
type lockOrderRepo struct {
	*memdb.ProcurementRepo
	items *[]int64
}

func (r lockOrderRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.ProcurementRepo.WithTx(ctx, func(ctx context.Context, tx procurement.TxRepository) error {
		return fn(ctx, lockOrderTx{TxRepository: tx, items: r.items})
	})
}

type lockOrderTx struct {
	procurement.TxRepository
	items *[]int64
}

func (t lockOrderTx) EnsureMaterial(ctx context.Context, key inventory.MaterialKey) (inventory.Material, error) {
	*t.items = append(*t.items, key.ItemID)
	return t.TxRepository.EnsureMaterial(ctx, key)
}

func TestReceiptLocksMaterialsInItemOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.placedPO(t, "5", "10", "10")
	require.Less(t, f.item, f.item2)
	require.Equal(t, f.item2, po.Items[1].ItemID)

	var items []int64
	service := procurement.NewService(procurement.Dependencies{
		Repo: lockOrderRepo{ProcurementRepo: f.store.Procurement(), items: &items},
	})
	receipt, err := service.CreateReceipt(ctx, procurement.CreateReceiptInput{
		POID: po.ID, WarehouseID: f.warehouse,
		Items: []procurement.ReceiptLineInput{
			{POItemID: po.Items[1].ID, Quantity: d("4")},
			{POItemID: po.Items[0].ID, Quantity: d("3")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{f.item, f.item2}, items)

	require.Len(t, receipt.Items, 2)
	require.Equal(t, po.Items[1].ID, receipt.Items[0].POItemID)
	requireDec(t, "4", receipt.Items[0].QuantityReceived)
	require.Equal(t, po.Items[0].ID, receipt.Items[1].POItemID)
	requireDec(t, "3", f.onHand(t, f.item))
	requireDec(t, "4", f.onHand(t, f.item2))
}
