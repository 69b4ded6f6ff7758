package service

import (
	"context"
	"fmt"
	"strings"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

// ReturnGoods sends received goods back to the vendor. Returned quantities
// leave stock for good.
func (s *Service) ReturnGoods(ctx context.Context, receivingEventID string, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	receivingEventID = strings.TrimSpace(receivingEventID)
	if receivingEventID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("%w: receiving event id is required", store.ErrValidation)
	}
	for i := range req.Lines {
		req.Lines[i].ReceivingLineID = strings.TrimSpace(req.Lines[i].ReceivingLineID)
		req.Lines[i].Reason = strings.TrimSpace(req.Lines[i].Reason)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.ReturnResponse{}, err
	}

	lines := make([]store.ReturnLine, 0, len(req.Lines))
	seen := make(map[string]struct{}, len(req.Lines))
	for _, line := range req.Lines {
		// Zero-quantity lines are no-ops; negatives already failed validation.
		if line.Quantity == 0 {
			continue
		}
		if line.Reason == "" {
			return domain.ReturnResponse{}, fmt.Errorf("%w: reason is required for receiving line %s", store.ErrValidation, line.ReceivingLineID)
		}
		if _, dup := seen[line.ReceivingLineID]; dup {
			return domain.ReturnResponse{}, fmt.Errorf("%w: receiving line %s appears more than once", store.ErrDuplicateItem, line.ReceivingLineID)
		}
		seen[line.ReceivingLineID] = struct{}{}
		lines = append(lines, store.ReturnLine{
			ReceivingLineID: line.ReceivingLineID,
			Quantity:        line.Quantity,
			Reason:          line.Reason,
		})
	}
	if len(lines) == 0 {
		return domain.ReturnResponse{}, fmt.Errorf("%w: no line has a positive quantity", store.ErrEmptySubmission)
	}

	receiving, err := s.repo.GetReceiving(ctx, receivingEventID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	keys := []string{"receiving:" + receiving.ID}
	for _, line := range receiving.Lines {
		keys = append(keys, itemKey(line.ItemID))
	}

	event := domain.ReturnEvent{
		ID:               xid.New("ret"),
		ReceivingEventID: receiving.ID,
		RequestedBy:      actorName(ctx),
		CreatedAt:        s.now(),
	}

	var saved *domain.ReturnEvent
	err = s.guard(ctx, keys, func() error {
		var err error
		saved, err = s.repo.ReturnGoods(ctx, event, lines)
		return err
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	total := 0
	for _, line := range saved.Lines {
		total += line.Quantity
	}
	s.logAudit(ctx, "goods_return", "return_event", saved.ID, fmt.Sprintf("receiving=%s,lines=%d,qty=%d", receiving.ID, len(saved.Lines), total))
	return domain.ReturnResponse{Event: *saved}, nil
}

func (s *Service) GetReturn(ctx context.Context, eventID string) (domain.ReturnEvent, error) {
	event, err := s.repo.GetReturn(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return domain.ReturnEvent{}, err
	}
	return *event, nil
}

func (s *Service) ReturnBreakdown(ctx context.Context, receivingEventID string) (domain.ReturnBreakdown, error) {
	breakdown, err := s.repo.ReturnBreakdown(ctx, strings.TrimSpace(receivingEventID))
	if err != nil {
		return domain.ReturnBreakdown{}, err
	}
	return *breakdown, nil
}
