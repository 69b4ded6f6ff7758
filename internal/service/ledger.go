package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"stokpilot/backend/internal/domain"
)

// Availability is the committed balance of an item. Repeated reads without an
// intervening write return the same value.
func (s *Service) Availability(ctx context.Context, itemID string) (domain.AvailabilityResponse, error) {
	itemID = strings.TrimSpace(itemID)
	available, err := s.repo.Availability(ctx, itemID)
	if err != nil {
		return domain.AvailabilityResponse{}, err
	}
	return domain.AvailabilityResponse{ItemID: itemID, Available: available}, nil
}

func (s *Service) ItemLedger(ctx context.Context, itemID string, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	return s.repo.ItemLedger(ctx, strings.TrimSpace(itemID), limit)
}

// Reconcile recomputes an item's stock from its event lines and compares it
// with the ledger. Drift is logged at error level and reported, not repaired.
func (s *Service) Reconcile(ctx context.Context, itemID string) (domain.Reconciliation, error) {
	itemID = strings.TrimSpace(itemID)
	balance, err := s.repo.Availability(ctx, itemID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	sum, err := s.repo.LedgerSum(ctx, itemID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	totals, err := s.repo.MovementTotals(ctx, itemID)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	expected := totals.Received - totals.Returned - totals.Sold
	result := domain.Reconciliation{
		ItemID:        itemID,
		LedgerBalance: balance,
		LedgerSum:     sum,
		Received:      totals.Received,
		Returned:      totals.Returned,
		Sold:          totals.Sold,
		Expected:      expected,
		Consistent:    balance == sum && sum == expected,
	}
	if !result.Consistent {
		s.logger.Error("stock ledger drift",
			zap.String("item_id", itemID),
			zap.Int("ledger_balance", balance),
			zap.Int("ledger_sum", sum),
			zap.Int("expected", expected),
		)
	}
	return result, nil
}
