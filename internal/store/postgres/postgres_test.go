package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
)

// passthrough lets []string arguments reach the mock the way pgx accepts them.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) {
	if out, err := driver.DefaultParameterConverter.ConvertValue(v); err == nil {
		return out, nil
	}
	return v, nil
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, 1500*time.Millisecond), mock
}

func expectTxStart(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT set_config('lock_timeout', $1, true)`)).
		WithArgs("1500ms").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestSellRejectsInsufficientStockWithoutWriting(t *testing.T) {
	s, mock := newMockStore(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT item_id, qty\s+FROM stock_balances`).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "qty"}).AddRow("item-x", 3))
	mock.ExpectRollback()

	_, err := s.Sell(context.Background(), domain.SaleOrder{
		ID:    "sale-1",
		Lines: []domain.SaleLine{{ItemID: "item-x", Quantity: 5}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var lineErr *store.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 3, lineErr.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSellAppendsLedgerWithBalanceAfter(t *testing.T) {
	s, mock := newMockStore(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT item_id, qty\s+FROM stock_balances`).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "qty"}).AddRow("item-x", 10))
	mock.ExpectExec(`INSERT INTO sale_orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sale_lines`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE stock_balances`).
		WithArgs("item-x", -4, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"qty"}).AddRow(6))
	mock.ExpectExec(`INSERT INTO stock_ledger`).
		WithArgs("item-x", domain.LedgerSourceSale, sqlmock.AnyArg(), "sale-1", -4, 6, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sale, err := s.Sell(context.Background(), domain.SaleOrder{
		ID:    "sale-1",
		Lines: []domain.SaleLine{{ItemID: "item-x", Quantity: 4, UnitPriceAmount: 60, SubtotalAmount: 240}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.Lines[0].OrderID)
	assert.NotEmpty(t, sale.Lines[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelMapsLockNotAvailableToLockTimeout(t *testing.T) {
	s, mock := newMockStore(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT status FROM procurement_orders WHERE id = \$1 FOR UPDATE`).
		WithArgs("po-1").
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err := s.CancelProcurement(context.Background(), "po-1", time.Now())
	require.ErrorIs(t, err, store.ErrLockTimeout)
	assert.True(t, store.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelCompletedOrderIsInvalidState(t *testing.T) {
	s, mock := newMockStore(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT status FROM procurement_orders`).
		WithArgs("po-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("complete"))
	mock.ExpectRollback()

	_, err := s.CancelProcurement(context.Background(), "po-1", time.Now())
	require.ErrorIs(t, err, store.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveOverRemainingLeavesNothingCommitted(t *testing.T) {
	s, mock := newMockStore(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT status FROM procurement_orders`).
		WithArgs("po-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("partially_received"))
	mock.ExpectQuery(`FROM procurement_lines\s+WHERE order_id = \$1\s+ORDER BY id\s+FOR UPDATE`).
		WithArgs("po-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "item_id", "quantity", "unit_price_amount", "subtotal_amount", "received_qty"}).
			AddRow("pol-1", "po-1", "item-x", 100, 50, 5000, 60))
	mock.ExpectRollback()

	_, _, err := s.Receive(context.Background(),
		domain.ReceivingEvent{ID: "rcv-2", OrderID: "po-1"},
		[]store.ReceiptLine{{ProcurementLineID: "pol-1", Quantity: 41, UnitPriceAmount: 50}})
	require.ErrorIs(t, err, store.ErrQuantityExceeded)

	var lineErr *store.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, "pol-1", lineErr.LineID)
	assert.Equal(t, 40, lineErr.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityUnknownItem(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT qty FROM stock_balances WHERE item_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"qty"}))

	_, err := s.Availability(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapPgError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"lock not available", &pgconn.PgError{Code: "55P03"}, store.ErrLockTimeout},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, store.ErrLockTimeout},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrLockTimeout},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "items_unit_id_fkey"}, store.ErrNotFound},
		{"negative balance", &pgconn.PgError{Code: "23514", ConstraintName: "stock_balances_non_negative"}, store.ErrInsufficientStock},
		{"over receipt", &pgconn.PgError{Code: "23514", ConstraintName: "procurement_lines_received_bounds"}, store.ErrQuantityExceeded},
		{"other check", &pgconn.PgError{Code: "23514", ConstraintName: "sale_lines_quantity_check"}, store.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapPgError(tc.err), tc.want)
		})
	}

	plain := errors.New("boom")
	assert.Same(t, plain, mapPgError(plain))
	assert.NoError(t, mapPgError(nil))
}
