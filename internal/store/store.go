package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stokpilot/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrQuantityExceeded  = errors.New("quantity exceeded")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateItem     = errors.New("duplicate item")
	ErrEmptySubmission   = errors.New("empty submission")
	ErrLockTimeout       = errors.New("lock timeout")
)

// LineError carries the offending line or item of a quantity failure. It
// unwraps to its Kind so callers can keep using errors.Is.
type LineError struct {
	Kind      error
	LineID    string
	ItemID    string
	Requested int
	Remaining int
}

func (e *LineError) Error() string {
	switch {
	case e.LineID != "" && e.ItemID != "":
		return fmt.Sprintf("%v: line %s (item %s) requested %d, remaining %d", e.Kind, e.LineID, e.ItemID, e.Requested, e.Remaining)
	case e.LineID != "":
		return fmt.Sprintf("%v: line %s requested %d, remaining %d", e.Kind, e.LineID, e.Requested, e.Remaining)
	default:
		return fmt.Sprintf("%v: item %s requested %d, available %d", e.Kind, e.ItemID, e.Requested, e.Remaining)
	}
}

func (e *LineError) Unwrap() error {
	return e.Kind
}

// IsRetryable reports whether nothing was committed and the caller may
// resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

type ReceiptLine struct {
	ProcurementLineID string
	Quantity          int
	UnitPriceAmount   int64
}

type ReturnLine struct {
	ReceivingLineID string
	Quantity        int
	Reason          string
}

type Repository interface {
	MasterData
	Ledger

	CreateProcurement(ctx context.Context, order domain.ProcurementOrder) (*domain.ProcurementOrder, error)
	GetProcurement(ctx context.Context, orderID string) (*domain.ProcurementOrder, error)
	ListProcurements(ctx context.Context, status domain.ProcurementStatus, limit int) ([]domain.ProcurementOrder, error)
	CancelProcurement(ctx context.Context, orderID string, at time.Time) (*domain.ProcurementOrder, error)
	ProcurementBreakdown(ctx context.Context, orderID string) (*domain.ProcurementBreakdown, error)

	// Receive validates remaining quantities and appends ledger entries in one
	// atomic unit. The event carries IDs and actor; lines are resolved from
	// the order.
	Receive(ctx context.Context, event domain.ReceivingEvent, lines []ReceiptLine) (*domain.ReceivingEvent, domain.ProcurementStatus, error)
	GetReceiving(ctx context.Context, eventID string) (*domain.ReceivingEvent, error)
	ListReceivings(ctx context.Context, orderID string) ([]domain.ReceivingEvent, error)

	ReturnGoods(ctx context.Context, event domain.ReturnEvent, lines []ReturnLine) (*domain.ReturnEvent, error)
	GetReturn(ctx context.Context, eventID string) (*domain.ReturnEvent, error)
	ReturnBreakdown(ctx context.Context, receivingEventID string) (*domain.ReturnBreakdown, error)

	// Sell re-checks availability for every line while holding the item
	// locks and fails with ErrInsufficientStock without committing anything.
	Sell(ctx context.Context, order domain.SaleOrder) (*domain.SaleOrder, error)
	GetSale(ctx context.Context, saleID string) (*domain.SaleOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type MasterData interface {
	CreateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error)
	ListUnits(ctx context.Context) ([]domain.Unit, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	CreateVendor(ctx context.Context, vendor domain.Vendor) (*domain.Vendor, error)
	GetVendor(ctx context.Context, vendorID string) (*domain.Vendor, error)
	ListVendors(ctx context.Context) ([]domain.Vendor, error)
	CreateMargin(ctx context.Context, margin domain.MarginConfig) (*domain.MarginConfig, error)
	GetMargin(ctx context.Context, marginID string) (*domain.MarginConfig, error)
	ListMargins(ctx context.Context) ([]domain.MarginConfig, error)
	// ActivateMargin makes the given config the only active one.
	ActivateMargin(ctx context.Context, marginID string) (*domain.MarginConfig, error)
}

type Ledger interface {
	Availability(ctx context.Context, itemID string) (int, error)
	ItemLedger(ctx context.Context, itemID string, limit int) ([]domain.LedgerEntry, error)
	LedgerSum(ctx context.Context, itemID string) (int, error)
	MovementTotals(ctx context.Context, itemID string) (domain.ItemMovementTotals, error)
}
