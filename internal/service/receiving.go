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

// Receive books a delivery against an open procurement order. The order
// status is checked first, then zero-quantity lines are dropped.
func (s *Service) Receive(ctx context.Context, orderID string, req domain.ReceiveRequest) (domain.ReceiveResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ReceiveResponse{}, fmt.Errorf("%w: order id is required", store.ErrValidation)
	}
	for i := range req.Lines {
		req.Lines[i].ProcurementLineID = strings.TrimSpace(req.Lines[i].ProcurementLineID)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.ReceiveResponse{}, err
	}

	order, err := s.repo.GetProcurement(ctx, orderID)
	if err != nil {
		return domain.ReceiveResponse{}, err
	}
	// The store re-checks under lock.
	if !order.Status.Open() {
		return domain.ReceiveResponse{}, fmt.Errorf("%w: procurement %s is %s", store.ErrInvalidState, order.ID, order.Status)
	}

	lines := make([]store.ReceiptLine, 0, len(req.Lines))
	seen := make(map[string]struct{}, len(req.Lines))
	for _, line := range req.Lines {
		// Zero-quantity lines are no-ops; negatives already failed validation.
		if line.Quantity == 0 {
			continue
		}
		if _, dup := seen[line.ProcurementLineID]; dup {
			return domain.ReceiveResponse{}, fmt.Errorf("%w: procurement line %s appears more than once", store.ErrDuplicateItem, line.ProcurementLineID)
		}
		seen[line.ProcurementLineID] = struct{}{}
		if _, err := pricing.LineSubtotal(line.Quantity, line.UnitPriceAmount); err != nil {
			return domain.ReceiveResponse{}, amountError("procurement line "+line.ProcurementLineID, err)
		}
		lines = append(lines, store.ReceiptLine{
			ProcurementLineID: line.ProcurementLineID,
			Quantity:          line.Quantity,
			UnitPriceAmount:   line.UnitPriceAmount,
		})
	}
	if len(lines) == 0 {
		return domain.ReceiveResponse{}, fmt.Errorf("%w: no line has a positive quantity", store.ErrEmptySubmission)
	}

	keys := []string{"order:" + order.ID}
	for _, line := range order.Lines {
		keys = append(keys, itemKey(line.ItemID))
	}

	event := domain.ReceivingEvent{
		ID:         xid.New("rcv"),
		OrderID:    order.ID,
		ReceivedBy: actorName(ctx),
		CreatedAt:  s.now(),
	}

	var saved *domain.ReceivingEvent
	var status domain.ProcurementStatus
	err = s.guard(ctx, keys, func() error {
		var err error
		saved, status, err = s.repo.Receive(ctx, event, lines)
		return err
	})
	if err != nil {
		return domain.ReceiveResponse{}, err
	}

	total := 0
	for _, line := range saved.Lines {
		total += line.Quantity
	}
	s.logAudit(ctx, "procurement_receive", "receiving_event", saved.ID, fmt.Sprintf("order=%s,lines=%d,qty=%d,status=%s", order.ID, len(saved.Lines), total, status))
	return domain.ReceiveResponse{Event: *saved, OrderStatus: status}, nil
}

func (s *Service) GetReceiving(ctx context.Context, eventID string) (domain.ReceivingEvent, error) {
	event, err := s.repo.GetReceiving(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return domain.ReceivingEvent{}, err
	}
	return *event, nil
}

func (s *Service) ListReceivings(ctx context.Context, orderID string) ([]domain.ReceivingEvent, error) {
	return s.repo.ListReceivings(ctx, strings.TrimSpace(orderID))
}
