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

func (s *Service) CreateProcurement(ctx context.Context, req domain.ProcurementCreateRequest) (domain.ProcurementResponse, error) {
	req.VendorID = strings.TrimSpace(req.VendorID)
	for i := range req.Lines {
		req.Lines[i].ItemID = strings.TrimSpace(req.Lines[i].ItemID)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.ProcurementResponse{}, err
	}

	itemIDs := make([]string, 0, len(req.Lines))
	seen := make(map[string]struct{}, len(req.Lines))
	for _, line := range req.Lines {
		if _, dup := seen[line.ItemID]; dup {
			return domain.ProcurementResponse{}, fmt.Errorf("%w: item %s appears more than once", store.ErrDuplicateItem, line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
		itemIDs = append(itemIDs, line.ItemID)
	}

	if _, err := s.repo.GetVendor(ctx, req.VendorID); err != nil {
		return domain.ProcurementResponse{}, fmt.Errorf("vendor %s: %w", req.VendorID, err)
	}
	if _, err := s.resolveItems(ctx, itemIDs); err != nil {
		return domain.ProcurementResponse{}, err
	}

	orderID := xid.New("po")
	lines := make([]domain.ProcurementLine, 0, len(req.Lines))
	priced := make([]pricing.Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		lineSubtotal, err := pricing.LineSubtotal(line.Quantity, line.UnitPriceAmount)
		if err != nil {
			return domain.ProcurementResponse{}, amountError("item "+line.ItemID, err)
		}
		lines = append(lines, domain.ProcurementLine{
			ID:              xid.New("pol"),
			OrderID:         orderID,
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			UnitPriceAmount: line.UnitPriceAmount,
			SubtotalAmount:  lineSubtotal,
		})
		priced = append(priced, pricing.Line{Quantity: line.Quantity, UnitPriceAmount: line.UnitPriceAmount})
	}
	subtotal, err := pricing.Subtotal(priced)
	if err != nil {
		return domain.ProcurementResponse{}, amountError("subtotal", err)
	}
	total, err := pricing.Total(subtotal, req.TaxAmount)
	if err != nil {
		return domain.ProcurementResponse{}, amountError("total", err)
	}

	saved, err := s.repo.CreateProcurement(ctx, domain.ProcurementOrder{
		ID:             orderID,
		VendorID:       req.VendorID,
		CreatedBy:      actorName(ctx),
		CreatedAt:      s.now(),
		Status:         domain.ProcurementProcessing,
		SubtotalAmount: subtotal,
		TaxAmount:      req.TaxAmount,
		TotalAmount:    total,
		Lines:          lines,
	})
	if err != nil {
		return domain.ProcurementResponse{}, err
	}
	s.logAudit(ctx, "procurement_create", "procurement_order", saved.ID, fmt.Sprintf("vendor=%s,lines=%d,total=%d", saved.VendorID, len(saved.Lines), saved.TotalAmount))
	return domain.ProcurementResponse{Order: *saved}, nil
}

func (s *Service) CancelProcurement(ctx context.Context, orderID string) (domain.ProcurementResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ProcurementResponse{}, fmt.Errorf("%w: order id is required", store.ErrValidation)
	}

	var cancelled *domain.ProcurementOrder
	err := s.guard(ctx, []string{"order:" + orderID}, func() error {
		var err error
		cancelled, err = s.repo.CancelProcurement(ctx, orderID, s.now())
		return err
	})
	if err != nil {
		return domain.ProcurementResponse{}, err
	}
	s.logAudit(ctx, "procurement_cancel", "procurement_order", cancelled.ID, "")
	return domain.ProcurementResponse{Order: *cancelled}, nil
}

func (s *Service) GetProcurement(ctx context.Context, orderID string) (domain.ProcurementResponse, error) {
	order, err := s.repo.GetProcurement(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.ProcurementResponse{}, err
	}
	return domain.ProcurementResponse{Order: *order}, nil
}

func (s *Service) ListProcurements(ctx context.Context, status string, limit int) (domain.ProcurementListResponse, error) {
	filter := domain.ProcurementStatus(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return domain.ProcurementListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrValidation, status)
	}
	if limit < 1 || limit > 500 {
		limit = 200
	}
	orders, err := s.repo.ListProcurements(ctx, filter, limit)
	if err != nil {
		return domain.ProcurementListResponse{}, err
	}
	return domain.ProcurementListResponse{Orders: orders}, nil
}

func (s *Service) ProcurementBreakdown(ctx context.Context, orderID string) (domain.ProcurementBreakdown, error) {
	breakdown, err := s.repo.ProcurementBreakdown(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.ProcurementBreakdown{}, err
	}
	return *breakdown, nil
}
