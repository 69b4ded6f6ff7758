package service

import (
	"context"
	"fmt"
	"strings"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/pricing"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

// Sell prices every line from item cost and the referenced margin config,
// then lets the store deduct stock atomically. Nothing is committed when any
// line is short.
func (s *Service) Sell(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.MarginConfigID = strings.TrimSpace(req.MarginConfigID)
	for i := range req.Lines {
		req.Lines[i].ItemID = strings.TrimSpace(req.Lines[i].ItemID)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.SaleResponse{}, err
	}

	itemIDs := make([]string, 0, len(req.Lines))
	seen := make(map[string]struct{}, len(req.Lines))
	for _, line := range req.Lines {
		if _, dup := seen[line.ItemID]; dup {
			return domain.SaleResponse{}, fmt.Errorf("%w: item %s appears more than once", store.ErrDuplicateItem, line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
		itemIDs = append(itemIDs, line.ItemID)
	}

	margin, err := s.repo.GetMargin(ctx, req.MarginConfigID)
	if err != nil {
		return domain.SaleResponse{}, fmt.Errorf("margin config %s: %w", req.MarginConfigID, err)
	}
	if !margin.Active {
		return domain.SaleResponse{}, fmt.Errorf("%w: margin config %s is not active", store.ErrValidation, margin.ID)
	}

	items, err := s.resolveItems(ctx, itemIDs)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	saleID := xid.New("sale")
	lines := make([]domain.SaleLine, 0, len(req.Lines))
	priced := make([]pricing.Line, 0, len(req.Lines))
	keys := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		unitPrice, err := pricing.SellPrice(items[line.ItemID].CostAmount, margin.Percent)
		if err != nil {
			return domain.SaleResponse{}, amountError("unit price of item "+line.ItemID, err)
		}
		lineSubtotal, err := pricing.LineSubtotal(line.Quantity, unitPrice)
		if err != nil {
			return domain.SaleResponse{}, amountError("item "+line.ItemID, err)
		}
		lines = append(lines, domain.SaleLine{
			ID:              xid.New("sl"),
			OrderID:         saleID,
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			UnitPriceAmount: unitPrice,
			SubtotalAmount:  lineSubtotal,
		})
		priced = append(priced, pricing.Line{Quantity: line.Quantity, UnitPriceAmount: unitPrice})
		keys = append(keys, itemKey(line.ItemID))
	}
	subtotal, err := pricing.Subtotal(priced)
	if err != nil {
		return domain.SaleResponse{}, amountError("subtotal", err)
	}
	tax, err := pricing.TaxFromPercent(subtotal, req.TaxPercent)
	if err != nil {
		return domain.SaleResponse{}, amountError("tax", err)
	}
	total, err := pricing.Total(subtotal, tax)
	if err != nil {
		return domain.SaleResponse{}, amountError("total", err)
	}

	order := domain.SaleOrder{
		ID:             saleID,
		MarginConfigID: margin.ID,
		MarginPercent:  margin.Percent,
		SoldBy:         actorName(ctx),
		CreatedAt:      s.now(),
		SubtotalAmount: subtotal,
		TaxPercent:     req.TaxPercent,
		TaxAmount:      tax,
		TotalAmount:    total,
		Lines:          lines,
	}

	var saved *domain.SaleOrder
	err = s.guard(ctx, keys, func() error {
		var err error
		saved, err = s.repo.Sell(ctx, order)
		return err
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}
	s.logAudit(ctx, "sale_create", "sale_order", saved.ID, fmt.Sprintf("margin=%s,lines=%d,total=%d", saved.MarginConfigID, len(saved.Lines), saved.TotalAmount))
	return domain.SaleResponse{Order: *saved}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleOrder, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleOrder{}, err
	}
	return *sale, nil
}
