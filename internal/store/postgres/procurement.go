package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/pricing"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type lockedProcurementLine struct {
	domain.ProcurementLine
	Received int
}

type lockedReceivingLine struct {
	domain.ReceivingLine
	Returned int
}

func (s *Store) CreateProcurement(ctx context.Context, order domain.ProcurementOrder) (*domain.ProcurementOrder, error) {
	if order.ID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if order.Status == "" {
		order.Status = domain.ProcurementProcessing
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	for i := range order.Lines {
		if order.Lines[i].ID == "" {
			order.Lines[i].ID = xid.New("pol")
		}
		order.Lines[i].OrderID = order.ID
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO procurement_orders (
				id, vendor_id, created_by, status, subtotal_amount, tax_amount, total_amount, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, order.VendorID, order.CreatedBy, order.Status, order.SubtotalAmount, order.TaxAmount, order.TotalAmount, order.CreatedAt); err != nil {
			return err
		}
		for _, line := range order.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO procurement_lines (id, order_id, item_id, quantity, unit_price_amount, subtotal_amount)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, line.ID, order.ID, line.ItemID, line.Quantity, line.UnitPriceAmount, line.SubtotalAmount); err != nil {
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

func (s *Store) GetProcurement(ctx context.Context, orderID string) (*domain.ProcurementOrder, error) {
	var order domain.ProcurementOrder
	var cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, created_by, status, subtotal_amount, tax_amount, total_amount, created_at, cancelled_at
		FROM procurement_orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.VendorID, &order.CreatedBy, &order.Status, &order.SubtotalAmount, &order.TaxAmount, &order.TotalAmount, &order.CreatedAt, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		order.CancelledAt = &at
	}

	lines, err := loadProcurementLines(ctx, s.db, []string{orderID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[orderID]
	return &order, nil
}

func (s *Store) ListProcurements(ctx context.Context, status domain.ProcurementStatus, limit int) ([]domain.ProcurementOrder, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vendor_id, created_by, status, subtotal_amount, tax_amount, total_amount, created_at, cancelled_at
		FROM procurement_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.ProcurementOrder, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var order domain.ProcurementOrder
		var cancelledAt sql.NullTime
		if err := rows.Scan(&order.ID, &order.VendorID, &order.CreatedBy, &order.Status, &order.SubtotalAmount, &order.TaxAmount, &order.TotalAmount, &order.CreatedAt, &cancelledAt); err != nil {
			return nil, err
		}
		order.CreatedAt = order.CreatedAt.UTC()
		if cancelledAt.Valid {
			at := cancelledAt.Time.UTC()
			order.CancelledAt = &at
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lines, err := loadProcurementLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) CancelProcurement(ctx context.Context, orderID string, at time.Time) (*domain.ProcurementOrder, error) {
	at = at.UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !status.Open() {
			return fmt.Errorf("%w: procurement %s is %s", store.ErrInvalidState, orderID, status)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE procurement_orders SET status = $2, cancelled_at = $3 WHERE id = $1
		`, orderID, domain.ProcurementCancelled, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetProcurement(ctx, orderID)
}

func (s *Store) ProcurementBreakdown(ctx context.Context, orderID string) (*domain.ProcurementBreakdown, error) {
	var status domain.ProcurementStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM procurement_orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, quantity, received_qty, unit_price_amount
		FROM procurement_lines
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := &domain.ProcurementBreakdown{OrderID: orderID, Status: status, Lines: make([]domain.ProcurementLineBreakdown, 0, 8)}
	for rows.Next() {
		var line domain.ProcurementLineBreakdown
		if err := rows.Scan(&line.ProcurementLineID, &line.ItemID, &line.Ordered, &line.Received, &line.UnitPriceAmount); err != nil {
			return nil, err
		}
		line.Remaining = line.Ordered - line.Received
		breakdown.Lines = append(breakdown.Lines, line)
	}
	return breakdown, rows.Err()
}

func (s *Store) Receive(ctx context.Context, event domain.ReceivingEvent, lines []store.ReceiptLine) (*domain.ReceivingEvent, domain.ProcurementStatus, error) {
	if len(lines) == 0 {
		return nil, "", store.ErrEmptySubmission
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var nextStatus domain.ProcurementStatus
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockOrder(ctx, tx, event.OrderID)
		if err != nil {
			return err
		}
		if !status.Open() {
			return fmt.Errorf("%w: procurement %s is %s", store.ErrInvalidState, event.OrderID, status)
		}

		orderLines, err := lockProcurementLines(ctx, tx, event.OrderID)
		if err != nil {
			return err
		}
		byID := make(map[string]*lockedProcurementLine, len(orderLines))
		itemIDs := make([]string, 0, len(orderLines))
		for i := range orderLines {
			byID[orderLines[i].ID] = &orderLines[i]
			itemIDs = append(itemIDs, orderLines[i].ItemID)
		}

		received := make([]domain.ReceivingLine, 0, len(lines))
		for _, req := range lines {
			line, ok := byID[req.ProcurementLineID]
			if !ok {
				return fmt.Errorf("%w: line %s does not belong to procurement %s", store.ErrValidation, req.ProcurementLineID, event.OrderID)
			}
			remaining := line.Quantity - line.Received
			if req.Quantity > remaining {
				return &store.LineError{Kind: store.ErrQuantityExceeded, LineID: line.ID, ItemID: line.ItemID, Requested: req.Quantity, Remaining: remaining}
			}
			subtotal, err := pricing.LineSubtotal(req.Quantity, req.UnitPriceAmount)
			if err != nil {
				return fmt.Errorf("%w: line %s: %v", store.ErrValidation, line.ID, err)
			}
			line.Received += req.Quantity
			received = append(received, domain.ReceivingLine{
				ID:                xid.New("rcvl"),
				EventID:           event.ID,
				ProcurementLineID: line.ID,
				ItemID:            line.ItemID,
				Quantity:          req.Quantity,
				UnitPriceAmount:   req.UnitPriceAmount,
				SubtotalAmount:    subtotal,
			})
		}

		if _, err := lockBalances(ctx, tx, itemIDs); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO receiving_events (id, order_id, received_by, created_at)
			VALUES ($1,$2,$3,$4)
		`, event.ID, event.OrderID, event.ReceivedBy, event.CreatedAt); err != nil {
			return err
		}
		for _, line := range received {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO receiving_lines (id, event_id, procurement_line_id, item_id, quantity, unit_price_amount, subtotal_amount)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, line.ID, event.ID, line.ProcurementLineID, line.ItemID, line.Quantity, line.UnitPriceAmount, line.SubtotalAmount); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE procurement_lines SET received_qty = received_qty + $2 WHERE id = $1
			`, line.ProcurementLineID, line.Quantity); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, line.ItemID, domain.LedgerSourceReceiving, line.ID, event.ID, line.Quantity, event.CreatedAt); err != nil {
				return err
			}
		}

		progress := make([]domain.LineProgress, 0, len(orderLines))
		for _, line := range orderLines {
			progress = append(progress, domain.LineProgress{Ordered: line.Quantity, Received: line.Received})
		}
		nextStatus = domain.DeriveProcurementStatus(status, progress)
		if nextStatus != status {
			if _, err := tx.ExecContext(ctx, `UPDATE procurement_orders SET status = $2 WHERE id = $1`, event.OrderID, nextStatus); err != nil {
				return err
			}
		}

		event.Lines = received
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &event, nextStatus, nil
}

func (s *Store) GetReceiving(ctx context.Context, eventID string) (*domain.ReceivingEvent, error) {
	var event domain.ReceivingEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, received_by, created_at FROM receiving_events WHERE id = $1
	`, eventID).Scan(&event.ID, &event.OrderID, &event.ReceivedBy, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	event.CreatedAt = event.CreatedAt.UTC()

	lines, err := loadReceivingLines(ctx, s.db, []string{eventID})
	if err != nil {
		return nil, err
	}
	event.Lines = lines[eventID]
	return &event, nil
}

func (s *Store) ListReceivings(ctx context.Context, orderID string) ([]domain.ReceivingEvent, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM procurement_orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, received_by, created_at
		FROM receiving_events
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ReceivingEvent, 0, 4)
	ids := make([]string, 0, 4)
	for rows.Next() {
		var event domain.ReceivingEvent
		if err := rows.Scan(&event.ID, &event.OrderID, &event.ReceivedBy, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
		ids = append(ids, event.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return events, nil
	}

	lines, err := loadReceivingLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Lines = lines[events[i].ID]
	}
	return events, nil
}

func (s *Store) ReturnGoods(ctx context.Context, event domain.ReturnEvent, lines []store.ReturnLine) (*domain.ReturnEvent, error) {
	if len(lines) == 0 {
		return nil, store.ErrEmptySubmission
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var lockedID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM receiving_events WHERE id = $1 FOR UPDATE
		`, event.ReceivingEventID).Scan(&lockedID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		eventLines, err := lockReceivingLines(ctx, tx, event.ReceivingEventID)
		if err != nil {
			return err
		}
		byID := make(map[string]*lockedReceivingLine, len(eventLines))
		itemIDs := make([]string, 0, len(eventLines))
		for i := range eventLines {
			byID[eventLines[i].ID] = &eventLines[i]
			itemIDs = append(itemIDs, eventLines[i].ItemID)
		}
		balances, err := lockBalances(ctx, tx, itemIDs)
		if err != nil {
			return err
		}

		returned := make([]domain.ReturnLine, 0, len(lines))
		for _, req := range lines {
			line, ok := byID[req.ReceivingLineID]
			if !ok {
				return fmt.Errorf("%w: line %s does not belong to receiving %s", store.ErrValidation, req.ReceivingLineID, event.ReceivingEventID)
			}
			remaining := line.Quantity - line.Returned
			if req.Quantity > remaining {
				return &store.LineError{Kind: store.ErrQuantityExceeded, LineID: line.ID, ItemID: line.ItemID, Requested: req.Quantity, Remaining: remaining}
			}
			if available := balances[line.ItemID]; req.Quantity > available {
				return &store.LineError{Kind: store.ErrInsufficientStock, ItemID: line.ItemID, Requested: req.Quantity, Remaining: available}
			}
			line.Returned += req.Quantity
			balances[line.ItemID] -= req.Quantity
			returned = append(returned, domain.ReturnLine{
				ID:              xid.New("retl"),
				EventID:         event.ID,
				ReceivingLineID: line.ID,
				ItemID:          line.ItemID,
				Quantity:        req.Quantity,
				Reason:          req.Reason,
			})
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO return_events (id, receiving_event_id, requested_by, created_at)
			VALUES ($1,$2,$3,$4)
		`, event.ID, event.ReceivingEventID, event.RequestedBy, event.CreatedAt); err != nil {
			return err
		}
		for _, line := range returned {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO return_lines (id, event_id, receiving_line_id, item_id, quantity, reason)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, line.ID, event.ID, line.ReceivingLineID, line.ItemID, line.Quantity, line.Reason); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE receiving_lines SET returned_qty = returned_qty + $2 WHERE id = $1
			`, line.ReceivingLineID, line.Quantity); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, line.ItemID, domain.LedgerSourceReturn, line.ID, event.ID, -line.Quantity, event.CreatedAt); err != nil {
				return err
			}
		}

		event.Lines = returned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Store) GetReturn(ctx context.Context, eventID string) (*domain.ReturnEvent, error) {
	var event domain.ReturnEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, receiving_event_id, requested_by, created_at FROM return_events WHERE id = $1
	`, eventID).Scan(&event.ID, &event.ReceivingEventID, &event.RequestedBy, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	event.CreatedAt = event.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, receiving_line_id, item_id, quantity, reason
		FROM return_lines
		WHERE event_id = $1
		ORDER BY id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.ReturnLine
		if err := rows.Scan(&line.ID, &line.EventID, &line.ReceivingLineID, &line.ItemID, &line.Quantity, &line.Reason); err != nil {
			return nil, err
		}
		event.Lines = append(event.Lines, line)
	}
	return &event, rows.Err()
}

func (s *Store) ReturnBreakdown(ctx context.Context, receivingEventID string) (*domain.ReturnBreakdown, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx, `SELECT order_id FROM receiving_events WHERE id = $1`, receivingEventID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, quantity, returned_qty
		FROM receiving_lines
		WHERE event_id = $1
		ORDER BY id
	`, receivingEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := &domain.ReturnBreakdown{ReceivingEventID: receivingEventID, OrderID: orderID, Lines: make([]domain.ReturnLineBreakdown, 0, 8)}
	for rows.Next() {
		var line domain.ReturnLineBreakdown
		if err := rows.Scan(&line.ReceivingLineID, &line.ItemID, &line.Received, &line.Returned); err != nil {
			return nil, err
		}
		line.RemainingReturnable = line.Received - line.Returned
		breakdown.Lines = append(breakdown.Lines, line)
	}
	return breakdown, rows.Err()
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (domain.ProcurementStatus, error) {
	var status domain.ProcurementStatus
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM procurement_orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func lockProcurementLines(ctx context.Context, tx *sql.Tx, orderID string) ([]lockedProcurementLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, item_id, quantity, unit_price_amount, subtotal_amount, received_qty
		FROM procurement_lines
		WHERE order_id = $1
		ORDER BY id
		FOR UPDATE
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]lockedProcurementLine, 0, 8)
	for rows.Next() {
		var line lockedProcurementLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Quantity, &line.UnitPriceAmount, &line.SubtotalAmount, &line.Received); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func lockReceivingLines(ctx context.Context, tx *sql.Tx, eventID string) ([]lockedReceivingLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, procurement_line_id, item_id, quantity, unit_price_amount, subtotal_amount, returned_qty
		FROM receiving_lines
		WHERE event_id = $1
		ORDER BY id
		FOR UPDATE
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]lockedReceivingLine, 0, 8)
	for rows.Next() {
		var line lockedReceivingLine
		if err := rows.Scan(&line.ID, &line.EventID, &line.ProcurementLineID, &line.ItemID, &line.Quantity, &line.UnitPriceAmount, &line.SubtotalAmount, &line.Returned); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func loadProcurementLines(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.ProcurementLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, item_id, quantity, unit_price_amount, subtotal_amount
		FROM procurement_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.ProcurementLine, len(orderIDs))
	for rows.Next() {
		var line domain.ProcurementLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Quantity, &line.UnitPriceAmount, &line.SubtotalAmount); err != nil {
			return nil, err
		}
		result[line.OrderID] = append(result[line.OrderID], line)
	}
	return result, rows.Err()
}

func loadReceivingLines(ctx context.Context, q queryer, eventIDs []string) (map[string][]domain.ReceivingLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, procurement_line_id, item_id, quantity, unit_price_amount, subtotal_amount
		FROM receiving_lines
		WHERE event_id = ANY($1)
		ORDER BY event_id, id
	`, eventIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.ReceivingLine, len(eventIDs))
	for rows.Next() {
		var line domain.ReceivingLine
		if err := rows.Scan(&line.ID, &line.EventID, &line.ProcurementLineID, &line.ItemID, &line.Quantity, &line.UnitPriceAmount, &line.SubtotalAmount); err != nil {
			return nil, err
		}
		result[line.EventID] = append(result[line.EventID], line)
	}
	return result, rows.Err()
}
