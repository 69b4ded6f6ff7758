package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

func (s *Store) Sell(ctx context.Context, order domain.SaleOrder) (*domain.SaleOrder, error) {
	if order.ID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	itemIDs := make([]string, 0, len(order.Lines))
	for i := range order.Lines {
		if order.Lines[i].ID == "" {
			order.Lines[i].ID = xid.New("sl")
		}
		order.Lines[i].OrderID = order.ID
		itemIDs = append(itemIDs, order.Lines[i].ItemID)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		balances, err := lockBalances(ctx, tx, itemIDs)
		if err != nil {
			return err
		}
		for _, line := range order.Lines {
			available, ok := balances[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
			}
			if line.Quantity > available {
				return &store.LineError{Kind: store.ErrInsufficientStock, ItemID: line.ItemID, Requested: line.Quantity, Remaining: available}
			}
			balances[line.ItemID] = available - line.Quantity
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_orders (
				id, margin_config_id, margin_percent, sold_by, subtotal_amount, tax_percent, tax_amount, total_amount, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, order.ID, order.MarginConfigID, order.MarginPercent, order.SoldBy, order.SubtotalAmount, order.TaxPercent, order.TaxAmount, order.TotalAmount, order.CreatedAt); err != nil {
			return err
		}
		for _, line := range order.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_lines (id, order_id, item_id, quantity, unit_price_amount, subtotal_amount)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, line.ID, order.ID, line.ItemID, line.Quantity, line.UnitPriceAmount, line.SubtotalAmount); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, line.ItemID, domain.LedgerSourceSale, line.ID, order.ID, -line.Quantity, order.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.SaleOrder, error) {
	var order domain.SaleOrder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, margin_config_id, margin_percent, sold_by, subtotal_amount, tax_percent, tax_amount, total_amount, created_at
		FROM sale_orders
		WHERE id = $1
	`, saleID).Scan(&order.ID, &order.MarginConfigID, &order.MarginPercent, &order.SoldBy, &order.SubtotalAmount, &order.TaxPercent, &order.TaxAmount, &order.TotalAmount, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, quantity, unit_price_amount, subtotal_amount
		FROM sale_lines
		WHERE order_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Quantity, &line.UnitPriceAmount, &line.SubtotalAmount); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}
	return &order, rows.Err()
}

func (s *Store) Availability(ctx context.Context, itemID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `SELECT qty FROM stock_balances WHERE item_id = $1`, itemID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) ItemLedger(ctx context.Context, itemID string, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}
	if err := s.requireItem(ctx, itemID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, source_type, source_id, event_id, delta, balance_after, created_at
		FROM stock_ledger
		WHERE item_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.SourceType, &entry.SourceID, &entry.EventID, &entry.Delta, &entry.BalanceAfter, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) LedgerSum(ctx context.Context, itemID string) (int, error) {
	if err := s.requireItem(ctx, itemID); err != nil {
		return 0, err
	}
	var sum int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM stock_ledger WHERE item_id = $1
	`, itemID).Scan(&sum)
	return sum, err
}

func (s *Store) MovementTotals(ctx context.Context, itemID string) (domain.ItemMovementTotals, error) {
	if err := s.requireItem(ctx, itemID); err != nil {
		return domain.ItemMovementTotals{}, err
	}
	var totals domain.ItemMovementTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(quantity), 0) FROM receiving_lines WHERE item_id = $1),
			(SELECT COALESCE(SUM(quantity), 0) FROM return_lines WHERE item_id = $1),
			(SELECT COALESCE(SUM(quantity), 0) FROM sale_lines WHERE item_id = $1)
	`, itemID).Scan(&totals.Received, &totals.Returned, &totals.Sold)
	return totals, err
}

func (s *Store) requireItem(ctx context.Context, itemID string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

// lockBalances row-locks the stock counters of the given items in id order.
// Items without a balance row are absent from the result.
func lockBalances(ctx context.Context, tx *sql.Tx, itemIDs []string) (map[string]int, error) {
	ids := uniqueSorted(itemIDs)
	balances := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return balances, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT item_id, qty
		FROM stock_balances
		WHERE item_id = ANY($1)
		ORDER BY item_id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		balances[itemID] = qty
	}
	return balances, rows.Err()
}

// appendLedger moves the item's counter and records the entry with the
// resulting balance. The caller must hold the balance row lock.
func appendLedger(ctx context.Context, tx *sql.Tx, itemID string, source domain.LedgerSource, sourceID string, eventID string, delta int, at time.Time) error {
	var balance int
	err := tx.QueryRowContext(ctx, `
		UPDATE stock_balances
		SET qty = qty + $2, updated_at = $3
		WHERE item_id = $1
		RETURNING qty
	`, itemID, delta, at).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_ledger (item_id, source_type, source_id, event_id, delta, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, itemID, source, sourceID, eventID, delta, balance, at)
	return err
}
