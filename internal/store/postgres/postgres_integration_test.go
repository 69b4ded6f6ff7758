package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
)

func TestConcurrentSellsNeverOversell(t *testing.T) {
	databaseURL := os.Getenv("STOKPILOT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOKPILOT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	if err := Migrate(databaseURL, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(ctx, databaseURL, 5*time.Second)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	unitID := fmt.Sprintf("unit-it-%d", stamp)
	itemID := fmt.Sprintf("item-it-%d", stamp)
	vendorID := fmt.Sprintf("vendor-it-%d", stamp)
	orderID := fmt.Sprintf("po-it-%d", stamp)

	if _, err := s.CreateUnit(ctx, domain.Unit{ID: unitID, Name: unitID}); err != nil {
		t.Fatalf("create unit: %v", err)
	}
	if _, err := s.CreateItem(ctx, domain.Item{ID: itemID, Name: "Integration Item", UnitID: unitID, CostAmount: 50, Active: true}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := s.CreateVendor(ctx, domain.Vendor{ID: vendorID, Name: "Integration Vendor"}); err != nil {
		t.Fatalf("create vendor: %v", err)
	}
	order, err := s.CreateProcurement(ctx, domain.ProcurementOrder{
		ID:        orderID,
		VendorID:  vendorID,
		CreatedBy: "it",
		Lines:     []domain.ProcurementLine{{ItemID: itemID, Quantity: 10, UnitPriceAmount: 50, SubtotalAmount: 500}},
	})
	if err != nil {
		t.Fatalf("create procurement: %v", err)
	}
	if _, status, err := s.Receive(ctx, domain.ReceivingEvent{ID: fmt.Sprintf("rcv-it-%d", stamp), OrderID: orderID, ReceivedBy: "it"},
		[]store.ReceiptLine{{ProcurementLineID: order.Lines[0].ID, Quantity: 10, UnitPriceAmount: 50}}); err != nil {
		t.Fatalf("receive: %v", err)
	} else if status != domain.ProcurementComplete {
		t.Fatalf("expected complete, got %s", status)
	}

	margin, err := s.CreateMargin(ctx, domain.MarginConfig{Name: fmt.Sprintf("it-%d", stamp), Percent: 20})
	if err != nil {
		t.Fatalf("create margin: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Sell(ctx, domain.SaleOrder{
				ID:             fmt.Sprintf("sale-it-%d-%d", stamp, n),
				MarginConfigID: margin.ID,
				SoldBy:         "it",
				Lines:          []domain.SaleLine{{ItemID: itemID, Quantity: 8, UnitPriceAmount: 60, SubtotalAmount: 480}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one sale to succeed, got %d", succeeded)
	}
	available, err := s.Availability(ctx, itemID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if available != 2 {
		t.Fatalf("expected 2 available, got %d", available)
	}
	sum, err := s.LedgerSum(ctx, itemID)
	if err != nil {
		t.Fatalf("ledger sum: %v", err)
	}
	if sum != available {
		t.Fatalf("ledger sum %d does not match availability %d", sum, available)
	}
}
