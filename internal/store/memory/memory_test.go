package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
)

func newFixture(t *testing.T, lockWait time.Duration) (*Store, domain.ProcurementOrder) {
	t.Helper()
	ctx := context.Background()
	s := New(lockWait)

	_, err := s.CreateUnit(ctx, domain.Unit{ID: "unit-pcs", Name: "pcs"})
	require.NoError(t, err)
	_, err = s.CreateItem(ctx, domain.Item{ID: "item-x", Name: "X", UnitID: "unit-pcs", CostAmount: 50, Active: true})
	require.NoError(t, err)
	_, err = s.CreateVendor(ctx, domain.Vendor{ID: "vendor-1", Name: "Vendor"})
	require.NoError(t, err)

	order, err := s.CreateProcurement(ctx, domain.ProcurementOrder{
		ID:       "po-1",
		VendorID: "vendor-1",
		Lines:    []domain.ProcurementLine{{ID: "pol-1", ItemID: "item-x", Quantity: 100, UnitPriceAmount: 50}},
	})
	require.NoError(t, err)
	return s, *order
}

func TestReceiveAppendsRunningBalance(t *testing.T) {
	ctx := context.Background()
	s, order := newFixture(t, time.Second)

	_, status, err := s.Receive(ctx, domain.ReceivingEvent{ID: "rcv-1", OrderID: order.ID}, []store.ReceiptLine{{ProcurementLineID: "pol-1", Quantity: 60, UnitPriceAmount: 50}})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcurementPartiallyReceived, status)

	_, status, err = s.Receive(ctx, domain.ReceivingEvent{ID: "rcv-2", OrderID: order.ID}, []store.ReceiptLine{{ProcurementLineID: "pol-1", Quantity: 40, UnitPriceAmount: 50}})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcurementComplete, status)

	entries, err := s.ItemLedger(ctx, "item-x", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 100, entries[0].BalanceAfter)
	assert.Equal(t, 60, entries[1].BalanceAfter)
	assert.Greater(t, entries[0].ID, entries[1].ID)

	sum, err := s.LedgerSum(ctx, "item-x")
	require.NoError(t, err)
	available, err := s.Availability(ctx, "item-x")
	require.NoError(t, err)
	assert.Equal(t, sum, available)
}

func TestReceiveRejectsDuplicatedLineOverRemaining(t *testing.T) {
	ctx := context.Background()
	s, order := newFixture(t, time.Second)

	_, _, err := s.Receive(ctx, domain.ReceivingEvent{ID: "rcv-1", OrderID: order.ID}, []store.ReceiptLine{
		{ProcurementLineID: "pol-1", Quantity: 60},
		{ProcurementLineID: "pol-1", Quantity: 60},
	})
	require.ErrorIs(t, err, store.ErrQuantityExceeded)

	var lineErr *store.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 40, lineErr.Remaining)

	available, err := s.Availability(ctx, "item-x")
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestReceiveForeignLineIsValidationError(t *testing.T) {
	s, order := newFixture(t, time.Second)

	_, _, err := s.Receive(context.Background(), domain.ReceivingEvent{ID: "rcv-1", OrderID: order.ID}, []store.ReceiptLine{{ProcurementLineID: "pol-other", Quantity: 1}})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCancelledOrderRejectsReceiving(t *testing.T) {
	ctx := context.Background()
	s, order := newFixture(t, time.Second)

	_, err := s.CancelProcurement(ctx, order.ID, time.Now())
	require.NoError(t, err)

	_, _, err = s.Receive(ctx, domain.ReceivingEvent{ID: "rcv-1", OrderID: order.ID}, []store.ReceiptLine{{ProcurementLineID: "pol-1", Quantity: 1}})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	_, err = s.CancelProcurement(ctx, order.ID, time.Now())
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestReturnCannotDriveStockNegative(t *testing.T) {
	ctx := context.Background()
	s, order := newFixture(t, time.Second)

	event, _, err := s.Receive(ctx, domain.ReceivingEvent{ID: "rcv-1", OrderID: order.ID}, []store.ReceiptLine{{ProcurementLineID: "pol-1", Quantity: 10, UnitPriceAmount: 50}})
	require.NoError(t, err)

	_, err = s.Sell(ctx, domain.SaleOrder{ID: "sale-1", Lines: []domain.SaleLine{{ItemID: "item-x", Quantity: 8}}})
	require.NoError(t, err)

	_, err = s.ReturnGoods(ctx, domain.ReturnEvent{ID: "ret-1", ReceivingEventID: event.ID}, []store.ReturnLine{{ReceivingLineID: event.Lines[0].ID, Quantity: 5}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = s.ReturnGoods(ctx, domain.ReturnEvent{ID: "ret-2", ReceivingEventID: event.ID}, []store.ReturnLine{{ReceivingLineID: event.Lines[0].ID, Quantity: 2}})
	require.NoError(t, err)

	available, err := s.Availability(ctx, "item-x")
	require.NoError(t, err)
	assert.Zero(t, available)

	totals, err := s.MovementTotals(ctx, "item-x")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemMovementTotals{Received: 10, Returned: 2, Sold: 8}, totals)
}

func TestHeldItemLockSurfacesLockTimeout(t *testing.T) {
	ctx := context.Background()
	s, order := newFixture(t, 20*time.Millisecond)

	_, _, err := s.Receive(ctx, domain.ReceivingEvent{ID: "rcv-1", OrderID: order.ID}, []store.ReceiptLine{{ProcurementLineID: "pol-1", Quantity: 5}})
	require.NoError(t, err)

	release, err := s.locks.Acquire(ctx, []string{itemKey("item-x")}, time.Second)
	require.NoError(t, err)
	defer release()

	_, err = s.Sell(ctx, domain.SaleOrder{ID: "sale-1", Lines: []domain.SaleLine{{ItemID: "item-x", Quantity: 1}}})
	require.ErrorIs(t, err, store.ErrLockTimeout)
	assert.True(t, store.IsRetryable(err))

	available, err := s.Availability(ctx, "item-x")
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestActivateMarginDeactivatesOthers(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)

	a, err := s.CreateMargin(ctx, domain.MarginConfig{Name: "a", Percent: 10})
	require.NoError(t, err)
	b, err := s.CreateMargin(ctx, domain.MarginConfig{Name: "b", Percent: 20})
	require.NoError(t, err)

	_, err = s.ActivateMargin(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.ActivateMargin(ctx, b.ID)
	require.NoError(t, err)

	gotA, err := s.GetMargin(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := s.GetMargin(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, gotA.Active)
	assert.True(t, gotB.Active)
}
