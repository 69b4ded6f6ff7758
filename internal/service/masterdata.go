package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

func (s *Service) CreateUnit(ctx context.Context, name string) (domain.Unit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Unit{}, fmt.Errorf("%w: unit name is required", store.ErrValidation)
	}
	unit, err := s.repo.CreateUnit(ctx, domain.Unit{ID: xid.New("unit"), Name: name})
	if err != nil {
		return domain.Unit{}, err
	}
	s.logAudit(ctx, "unit_create", "unit", unit.ID, "name="+unit.Name)
	return *unit, nil
}

func (s *Service) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	return s.repo.ListUnits(ctx)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.UnitID = strings.TrimSpace(req.UnitID)
	if err := s.validateRequest(req); err != nil {
		return domain.Item{}, err
	}

	item, err := s.repo.CreateItem(ctx, domain.Item{
		ID:         xid.New("item"),
		Name:       req.Name,
		UnitID:     req.UnitID,
		CostAmount: req.CostAmount,
		Active:     true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_create", "item", item.ID, fmt.Sprintf("name=%s,cost=%d", item.Name, item.CostAmount))
	return *item, nil
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Item{}, err
	}
	existing, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			return domain.Item{}, fmt.Errorf("%w: name must not be blank", store.ErrValidation)
		}
	}
	if req.UnitID != nil {
		updated.UnitID = strings.TrimSpace(*req.UnitID)
	}
	if req.CostAmount != nil {
		updated.CostAmount = *req.CostAmount
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.items.Invalidate(ctx, saved.ID); err != nil {
		s.logger.Warn("item cache invalidate failed", zap.String("item_id", saved.ID), zap.Error(err))
	}
	s.logAudit(ctx, "item_update", "item", saved.ID, fmt.Sprintf("cost=%d->%d,active=%t", existing.CostAmount, saved.CostAmount, saved.Active))
	return *saved, nil
}

// GetItem reads through the item cache.
func (s *Service) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	cached, ok, err := s.items.Get(ctx, itemID)
	if err != nil {
		s.logger.Warn("item cache read failed", zap.String("item_id", itemID), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.items.Set(ctx, item, s.itemTTL); err != nil {
		s.logger.Warn("item cache write failed", zap.String("item_id", itemID), zap.Error(err))
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateVendor(ctx context.Context, req domain.VendorCreateRequest) (domain.Vendor, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validateRequest(req); err != nil {
		return domain.Vendor{}, err
	}

	vendor, err := s.repo.CreateVendor(ctx, domain.Vendor{
		ID:        xid.New("vendor"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Vendor{}, err
	}
	s.logAudit(ctx, "vendor_create", "vendor", vendor.ID, "name="+vendor.Name)
	return *vendor, nil
}

func (s *Service) ListVendors(ctx context.Context) ([]domain.Vendor, error) {
	return s.repo.ListVendors(ctx)
}

func (s *Service) CreateMargin(ctx context.Context, req domain.MarginCreateRequest) (domain.MarginConfig, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateRequest(req); err != nil {
		return domain.MarginConfig{}, err
	}

	margin, err := s.repo.CreateMargin(ctx, domain.MarginConfig{
		ID:        xid.New("margin"),
		Name:      req.Name,
		Percent:   req.Percent,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.MarginConfig{}, err
	}
	s.logAudit(ctx, "margin_create", "margin_config", margin.ID, fmt.Sprintf("name=%s,percent=%g", margin.Name, margin.Percent))
	return *margin, nil
}

func (s *Service) ListMargins(ctx context.Context) ([]domain.MarginConfig, error) {
	return s.repo.ListMargins(ctx)
}

func (s *Service) ActivateMargin(ctx context.Context, marginID string) (domain.MarginConfig, error) {
	margin, err := s.repo.ActivateMargin(ctx, strings.TrimSpace(marginID))
	if err != nil {
		return domain.MarginConfig{}, err
	}
	s.logAudit(ctx, "margin_activate", "margin_config", margin.ID, fmt.Sprintf("percent=%g", margin.Percent))
	return *margin, nil
}

// resolveItems loads every referenced item and rejects unknown or inactive
// ones.
func (s *Service) resolveItems(ctx context.Context, itemIDs []string) (map[string]domain.Item, error) {
	items := make(map[string]domain.Item, len(itemIDs))
	for _, id := range itemIDs {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
			}
			return nil, err
		}
		if !item.Active {
			return nil, fmt.Errorf("%w: item %s is inactive", store.ErrValidation, id)
		}
		items[id] = item
	}
	return items, nil
}
