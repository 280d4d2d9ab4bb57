package procurement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPOStatusTransitions(t *testing.T) {
	allowed := map[POStatus][]POStatus{
		POStatusDraft:             {POStatusApproved, POStatusCancelled},
		POStatusApproved:          {POStatusPlaced, POStatusCancelled},
		POStatusPlaced:            {POStatusAcknowledged, POStatusPartiallyReceived, POStatusFullyReceived},
		POStatusAcknowledged:      {POStatusPartiallyReceived, POStatusFullyReceived},
		POStatusPartiallyReceived: {POStatusPartiallyReceived, POStatusFullyReceived, POStatusClosed},
		POStatusFullyReceived:     {POStatusClosed},
	}
	all := []POStatus{POStatusDraft, POStatusApproved, POStatusPlaced, POStatusAcknowledged,
		POStatusPartiallyReceived, POStatusFullyReceived, POStatusCancelled, POStatusClosed}
	for _, from := range all {
		require.True(t, from.Valid())
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			require.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	require.False(t, POStatus("SHIPPED").Valid())
}

func TestPOStatusCanReceive(t *testing.T) {
	require.True(t, POStatusPlaced.CanReceive())
	require.True(t, POStatusAcknowledged.CanReceive())
	require.True(t, POStatusPartiallyReceived.CanReceive())
	require.False(t, POStatusApproved.CanReceive())
	require.False(t, POStatusFullyReceived.CanReceive())
	require.False(t, POStatusClosed.CanReceive())
}

func TestMRRStatusDecidedOnce(t *testing.T) {
	require.True(t, MRRStatusPending.CanTransitionTo(MRRStatusApproved))
	require.True(t, MRRStatusPending.CanTransitionTo(MRRStatusRejected))
	require.False(t, MRRStatusApproved.CanTransitionTo(MRRStatusRejected))
	require.False(t, MRRStatusRejected.CanTransitionTo(MRRStatusApproved))
	require.False(t, MRRStatusPending.CanTransitionTo(MRRStatusPending))
}

func TestComputeTotals(t *testing.T) {
	items := []POItem{
		{QuantityOrdered: decimal.RequireFromString("3"), UnitPrice: decimal.RequireFromString("10.005")},
		{QuantityOrdered: decimal.RequireFromString("2.5"), UnitPrice: decimal.RequireFromString("4")},
	}
	subtotal, tax, total := computeTotals(items, nil, decimal.NewFromInt(10))
	require.True(t, items[0].LineTotal.Equal(decimal.RequireFromString("30.015")))
	require.True(t, items[1].LineTotal.Equal(decimal.RequireFromString("10")))
	require.True(t, subtotal.Equal(decimal.RequireFromString("40.015")))
	require.Equal(t, "4.00", tax.StringFixed(2))
	require.True(t, total.Equal(subtotal.Add(tax)))

	explicit := decimal.RequireFromString("1.5")
	_, tax, total = computeTotals(items, &explicit, decimal.NewFromInt(10))
	require.True(t, tax.Equal(explicit))
	require.True(t, total.Equal(decimal.RequireFromString("41.515")))
}

func TestComputeTotalsKeepsFractionalLinesExact(t *testing.T) {
	items := []POItem{
		{QuantityOrdered: decimal.RequireFromString("1.5"), UnitPrice: decimal.RequireFromString("0.333")},
		{QuantityOrdered: decimal.RequireFromString("3"), UnitPrice: decimal.RequireFromString("0.125")},
	}
	subtotal, tax, total := computeTotals(items, nil, decimal.Zero)

	exact := decimal.Zero
	for _, item := range items {
		line := item.QuantityOrdered.Mul(item.UnitPrice)
		require.True(t, item.LineTotal.Equal(line), "line %s != %s", item.LineTotal, line)
		exact = exact.Add(line)
	}
	require.True(t, subtotal.Equal(decimal.RequireFromString("0.8745")), "subtotal %s", subtotal)
	require.True(t, subtotal.Equal(exact))
	require.True(t, tax.IsZero())
	require.True(t, total.Equal(subtotal))
}

func TestFitsScale(t *testing.T) {
	require.True(t, fitsScale(decimal.RequireFromString("0.1234")))
	require.True(t, fitsScale(decimal.RequireFromString("1.50000")))
	require.False(t, fitsScale(decimal.RequireFromString("0.12345")))
}

func TestReceivingStatus(t *testing.T) {
	items := []POItem{
		{QuantityOrdered: decimal.NewFromInt(10), QuantityReceived: decimal.NewFromInt(10)},
		{QuantityOrdered: decimal.NewFromInt(5), QuantityReceived: decimal.NewFromInt(2)},
	}
	require.Equal(t, POStatusPartiallyReceived, receivingStatus(items))
	items[1].QuantityReceived = decimal.NewFromInt(5)
	require.Equal(t, POStatusFullyReceived, receivingStatus(items))
}
