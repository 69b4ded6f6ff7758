package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/lock"
	"stokpilot/backend/internal/pricing"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

const defaultLockWait = 3 * time.Second

// Store keeps everything in process. Map access is guarded by mu; the
// check-then-write sections of receive, return and sell are serialized per
// order, receiving event and item through keyed locks so unrelated
// submissions never wait on each other.
type Store struct {
	mu sync.RWMutex

	units   map[string]domain.Unit
	items   map[string]domain.Item
	vendors map[string]domain.Vendor
	margins map[string]domain.MarginConfig

	orders         map[string]domain.ProcurementOrder
	receivings     map[string]domain.ReceivingEvent
	receivingLines map[string]domain.ReceivingLine
	returns        map[string]domain.ReturnEvent
	sales          map[string]domain.SaleOrder
	receivedByLine map[string]int
	returnedByLine map[string]int

	ledger       []domain.LedgerEntry
	ledgerByItem map[string][]int
	balances     map[string]int

	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	locks    *lock.Local
	lockWait time.Duration
}

func New(lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Store{
		units:           make(map[string]domain.Unit),
		items:           make(map[string]domain.Item),
		vendors:         make(map[string]domain.Vendor),
		margins:         make(map[string]domain.MarginConfig),
		orders:          make(map[string]domain.ProcurementOrder),
		receivings:      make(map[string]domain.ReceivingEvent),
		receivingLines:  make(map[string]domain.ReceivingLine),
		returns:         make(map[string]domain.ReturnEvent),
		sales:           make(map[string]domain.SaleOrder),
		receivedByLine:  make(map[string]int),
		returnedByLine:  make(map[string]int),
		ledger:          make([]domain.LedgerEntry, 0, 256),
		ledgerByItem:    make(map[string][]int),
		balances:        make(map[string]int),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		locks:           lock.NewLocal(),
		lockWait:        lockWait,
	}
}

func (s *Store) acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	release, err := s.locks.Acquire(ctx, keys, s.lockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: waited %s", store.ErrLockTimeout, s.lockWait)
		}
		return nil, err
	}
	return release, nil
}

func itemKey(itemID string) string { return "item:" + itemID }

func (s *Store) CreateUnit(_ context.Context, unit domain.Unit) (*domain.Unit, error) {
	if unit.Name == "" {
		return nil, store.ErrValidation
	}
	if unit.ID == "" {
		unit.ID = xid.New("unit")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[unit.ID]; exists {
		return nil, fmt.Errorf("%w: unit %s already exists", store.ErrValidation, unit.ID)
	}
	s.units[unit.ID] = unit
	return &unit, nil
}

func (s *Store) ListUnits(_ context.Context) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	units := make([]domain.Unit, 0, len(s.units))
	for _, unit := range s.units {
		units = append(units, unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.CostAmount < 0 {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[item.UnitID]; !ok {
		return nil, fmt.Errorf("%w: unit %s", store.ErrNotFound, item.UnitID)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, fmt.Errorf("%w: item %s already exists", store.ErrValidation, item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.units[item.UnitID]; !ok {
		return nil, fmt.Errorf("%w: unit %s", store.ErrNotFound, item.UnitID)
	}
	item.CreatedAt = existing.CreatedAt
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) GetItem(_ context.Context, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, itemIDs []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) CreateVendor(_ context.Context, vendor domain.Vendor) (*domain.Vendor, error) {
	if vendor.Name == "" {
		return nil, store.ErrValidation
	}
	if vendor.ID == "" {
		vendor.ID = xid.New("vendor")
	}
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[vendor.ID] = vendor
	return &vendor, nil
}

func (s *Store) GetVendor(_ context.Context, vendorID string) (*domain.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vendor, ok := s.vendors[vendorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &vendor, nil
}

func (s *Store) ListVendors(_ context.Context) ([]domain.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vendors := make([]domain.Vendor, 0, len(s.vendors))
	for _, vendor := range s.vendors {
		vendors = append(vendors, vendor)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i].Name < vendors[j].Name })
	return vendors, nil
}

func (s *Store) CreateMargin(_ context.Context, margin domain.MarginConfig) (*domain.MarginConfig, error) {
	if margin.Name == "" || margin.Percent < 0 {
		return nil, store.ErrValidation
	}
	if margin.ID == "" {
		margin.ID = xid.New("margin")
	}
	if margin.CreatedAt.IsZero() {
		margin.CreatedAt = time.Now().UTC()
	}
	margin.Active = false
	s.mu.Lock()
	defer s.mu.Unlock()
	s.margins[margin.ID] = margin
	return &margin, nil
}

func (s *Store) GetMargin(_ context.Context, marginID string) (*domain.MarginConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	margin, ok := s.margins[marginID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &margin, nil
}

func (s *Store) ListMargins(_ context.Context) ([]domain.MarginConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	margins := make([]domain.MarginConfig, 0, len(s.margins))
	for _, margin := range s.margins {
		margins = append(margins, margin)
	}
	sort.Slice(margins, func(i, j int) bool { return margins[i].CreatedAt.Before(margins[j].CreatedAt) })
	return margins, nil
}

func (s *Store) ActivateMargin(_ context.Context, marginID string) (*domain.MarginConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.margins[marginID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, margin := range s.margins {
		margin.Active = id == marginID
		s.margins[id] = margin
	}
	target.Active = true
	return &target, nil
}

func (s *Store) CreateProcurement(_ context.Context, order domain.ProcurementOrder) (*domain.ProcurementOrder, error) {
	if order.ID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vendors[order.VendorID]; !ok {
		return nil, fmt.Errorf("%w: vendor %s", store.ErrNotFound, order.VendorID)
	}
	for i := range order.Lines {
		line := &order.Lines[i]
		if _, ok := s.items[line.ItemID]; !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		if line.ID == "" {
			line.ID = xid.New("pol")
		}
		line.OrderID = order.ID
	}
	if _, exists := s.orders[order.ID]; exists {
		return nil, fmt.Errorf("%w: procurement %s already exists", store.ErrValidation, order.ID)
	}
	if order.Status == "" {
		order.Status = domain.ProcurementProcessing
	}

	saved := cloneOrder(order)
	s.orders[order.ID] = saved
	out := cloneOrder(saved)
	return &out, nil
}

func (s *Store) GetProcurement(_ context.Context, orderID string) (*domain.ProcurementOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) ListProcurements(_ context.Context, status domain.ProcurementStatus, limit int) ([]domain.ProcurementOrder, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]domain.ProcurementOrder, 0, len(s.orders))
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) CancelProcurement(ctx context.Context, orderID string, at time.Time) (*domain.ProcurementOrder, error) {
	release, err := s.acquire(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !order.Status.Open() {
		return nil, fmt.Errorf("%w: procurement %s is %s", store.ErrInvalidState, orderID, order.Status)
	}
	cancelledAt := at.UTC()
	order.Status = domain.ProcurementCancelled
	order.CancelledAt = &cancelledAt
	s.orders[orderID] = order
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) ProcurementBreakdown(_ context.Context, orderID string) (*domain.ProcurementBreakdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	breakdown := &domain.ProcurementBreakdown{
		OrderID: order.ID,
		Status:  order.Status,
		Lines:   make([]domain.ProcurementLineBreakdown, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		received := s.receivedByLine[line.ID]
		breakdown.Lines = append(breakdown.Lines, domain.ProcurementLineBreakdown{
			ProcurementLineID: line.ID,
			ItemID:            line.ItemID,
			Ordered:           line.Quantity,
			Received:          received,
			Remaining:         line.Quantity - received,
			UnitPriceAmount:   line.UnitPriceAmount,
		})
	}
	return breakdown, nil
}

func (s *Store) Receive(ctx context.Context, event domain.ReceivingEvent, lines []store.ReceiptLine) (*domain.ReceivingEvent, domain.ProcurementStatus, error) {
	if len(lines) == 0 {
		return nil, "", store.ErrEmptySubmission
	}

	order, err := s.GetProcurement(ctx, event.OrderID)
	if err != nil {
		return nil, "", err
	}
	keys := []string{"order:" + order.ID}
	for _, line := range order.Lines {
		keys = append(keys, itemKey(line.ItemID))
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return nil, "", err
	}
	defer release()

	s.mu.RLock()
	current := s.orders[order.ID]
	if !current.Status.Open() {
		s.mu.RUnlock()
		return nil, "", fmt.Errorf("%w: procurement %s is %s", store.ErrInvalidState, order.ID, current.Status)
	}
	byID := make(map[string]domain.ProcurementLine, len(current.Lines))
	for _, line := range current.Lines {
		byID[line.ID] = line
	}
	pending := make(map[string]int, len(lines))
	received := make([]domain.ReceivingLine, 0, len(lines))
	for _, req := range lines {
		line, ok := byID[req.ProcurementLineID]
		if !ok {
			s.mu.RUnlock()
			return nil, "", fmt.Errorf("%w: line %s does not belong to procurement %s", store.ErrValidation, req.ProcurementLineID, order.ID)
		}
		remaining := line.Quantity - s.receivedByLine[line.ID] - pending[line.ID]
		if req.Quantity > remaining {
			s.mu.RUnlock()
			return nil, "", &store.LineError{Kind: store.ErrQuantityExceeded, LineID: line.ID, ItemID: line.ItemID, Requested: req.Quantity, Remaining: remaining}
		}
		subtotal, err := pricing.LineSubtotal(req.Quantity, req.UnitPriceAmount)
		if err != nil {
			s.mu.RUnlock()
			return nil, "", fmt.Errorf("%w: line %s: %v", store.ErrValidation, line.ID, err)
		}
		pending[line.ID] += req.Quantity
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
	s.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Lines = received

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range received {
		s.receivedByLine[line.ProcurementLineID] += line.Quantity
		s.receivingLines[line.ID] = line
		s.appendLedgerLocked(line.ItemID, domain.LedgerSourceReceiving, line.ID, event.ID, line.Quantity, event.CreatedAt)
	}
	s.receivings[event.ID] = cloneReceiving(event)

	progress := make([]domain.LineProgress, 0, len(current.Lines))
	for _, line := range current.Lines {
		progress = append(progress, domain.LineProgress{Ordered: line.Quantity, Received: s.receivedByLine[line.ID]})
	}
	current.Status = domain.DeriveProcurementStatus(current.Status, progress)
	s.orders[current.ID] = current

	out := cloneReceiving(event)
	return &out, current.Status, nil
}

func (s *Store) GetReceiving(_ context.Context, eventID string) (*domain.ReceivingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.receivings[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneReceiving(event)
	return &out, nil
}

func (s *Store) ListReceivings(_ context.Context, orderID string) ([]domain.ReceivingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orders[orderID]; !ok {
		return nil, store.ErrNotFound
	}
	events := make([]domain.ReceivingEvent, 0, 4)
	for _, event := range s.receivings {
		if event.OrderID == orderID {
			events = append(events, cloneReceiving(event))
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (s *Store) ReturnGoods(ctx context.Context, event domain.ReturnEvent, lines []store.ReturnLine) (*domain.ReturnEvent, error) {
	if len(lines) == 0 {
		return nil, store.ErrEmptySubmission
	}

	receiving, err := s.GetReceiving(ctx, event.ReceivingEventID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.ReceivingLine, len(receiving.Lines))
	keys := []string{"receiving:" + receiving.ID}
	for _, line := range receiving.Lines {
		byID[line.ID] = line
		keys = append(keys, itemKey(line.ItemID))
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	pendingLine := make(map[string]int, len(lines))
	pendingItem := make(map[string]int, len(lines))
	returned := make([]domain.ReturnLine, 0, len(lines))
	for _, req := range lines {
		line, ok := byID[req.ReceivingLineID]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: line %s does not belong to receiving %s", store.ErrValidation, req.ReceivingLineID, receiving.ID)
		}
		remaining := line.Quantity - s.returnedByLine[line.ID] - pendingLine[line.ID]
		if req.Quantity > remaining {
			s.mu.RUnlock()
			return nil, &store.LineError{Kind: store.ErrQuantityExceeded, LineID: line.ID, ItemID: line.ItemID, Requested: req.Quantity, Remaining: remaining}
		}
		available := s.balances[line.ItemID] - pendingItem[line.ItemID]
		if req.Quantity > available {
			s.mu.RUnlock()
			return nil, &store.LineError{Kind: store.ErrInsufficientStock, ItemID: line.ItemID, Requested: req.Quantity, Remaining: available}
		}
		pendingLine[line.ID] += req.Quantity
		pendingItem[line.ItemID] += req.Quantity
		returned = append(returned, domain.ReturnLine{
			ID:              xid.New("retl"),
			EventID:         event.ID,
			ReceivingLineID: line.ID,
			ItemID:          line.ItemID,
			Quantity:        req.Quantity,
			Reason:          req.Reason,
		})
	}
	s.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Lines = returned

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range returned {
		s.returnedByLine[line.ReceivingLineID] += line.Quantity
		s.appendLedgerLocked(line.ItemID, domain.LedgerSourceReturn, line.ID, event.ID, -line.Quantity, event.CreatedAt)
	}
	s.returns[event.ID] = cloneReturn(event)

	out := cloneReturn(event)
	return &out, nil
}

func (s *Store) GetReturn(_ context.Context, eventID string) (*domain.ReturnEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.returns[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneReturn(event)
	return &out, nil
}

func (s *Store) ReturnBreakdown(_ context.Context, receivingEventID string) (*domain.ReturnBreakdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.receivings[receivingEventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	breakdown := &domain.ReturnBreakdown{
		ReceivingEventID: event.ID,
		OrderID:          event.OrderID,
		Lines:            make([]domain.ReturnLineBreakdown, 0, len(event.Lines)),
	}
	for _, line := range event.Lines {
		returned := s.returnedByLine[line.ID]
		breakdown.Lines = append(breakdown.Lines, domain.ReturnLineBreakdown{
			ReceivingLineID:     line.ID,
			ItemID:              line.ItemID,
			Received:            line.Quantity,
			Returned:            returned,
			RemainingReturnable: line.Quantity - returned,
		})
	}
	return breakdown, nil
}

func (s *Store) Sell(ctx context.Context, order domain.SaleOrder) (*domain.SaleOrder, error) {
	if order.ID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}

	keys := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		keys = append(keys, itemKey(line.ItemID))
	}
	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	pending := make(map[string]int, len(order.Lines))
	for i := range order.Lines {
		line := &order.Lines[i]
		if _, ok := s.items[line.ItemID]; !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		available := s.balances[line.ItemID] - pending[line.ItemID]
		if line.Quantity > available {
			s.mu.RUnlock()
			return nil, &store.LineError{Kind: store.ErrInsufficientStock, ItemID: line.ItemID, Requested: line.Quantity, Remaining: available}
		}
		pending[line.ItemID] += line.Quantity
		if line.ID == "" {
			line.ID = xid.New("sl")
		}
		line.OrderID = order.ID
	}
	s.mu.RUnlock()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sales[order.ID]; exists {
		return nil, fmt.Errorf("%w: sale %s already exists", store.ErrValidation, order.ID)
	}
	for _, line := range order.Lines {
		s.appendLedgerLocked(line.ItemID, domain.LedgerSourceSale, line.ID, order.ID, -line.Quantity, order.CreatedAt)
	}
	s.sales[order.ID] = cloneSale(order)

	out := cloneSale(order)
	return &out, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.SaleOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) Availability(_ context.Context, itemID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return 0, store.ErrNotFound
	}
	return s.balances[itemID], nil
}

func (s *Store) ItemLedger(_ context.Context, itemID string, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return nil, store.ErrNotFound
	}
	indexes := s.ledgerByItem[itemID]
	entries := make([]domain.LedgerEntry, 0, min(limit, len(indexes)))
	for i := len(indexes) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, s.ledger[indexes[i]])
	}
	return entries, nil
}

func (s *Store) LedgerSum(_ context.Context, itemID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return 0, store.ErrNotFound
	}
	sum := 0
	for _, idx := range s.ledgerByItem[itemID] {
		sum += s.ledger[idx].Delta
	}
	return sum, nil
}

func (s *Store) MovementTotals(_ context.Context, itemID string) (domain.ItemMovementTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return domain.ItemMovementTotals{}, store.ErrNotFound
	}
	var totals domain.ItemMovementTotals
	for _, event := range s.receivings {
		for _, line := range event.Lines {
			if line.ItemID == itemID {
				totals.Received += line.Quantity
			}
		}
	}
	for _, event := range s.returns {
		for _, line := range event.Lines {
			if line.ItemID == itemID {
				totals.Returned += line.Quantity
			}
		}
	}
	for _, sale := range s.sales {
		for _, line := range sale.Lines {
			if line.ItemID == itemID {
				totals.Sold += line.Quantity
			}
		}
	}
	return totals, nil
}

// appendLedgerLocked must be called with mu held for writing and with the
// item's keyed lock held.
func (s *Store) appendLedgerLocked(itemID string, source domain.LedgerSource, sourceID string, eventID string, delta int, at time.Time) {
	balance := s.balances[itemID] + delta
	s.balances[itemID] = balance
	entry := domain.LedgerEntry{
		ID:           int64(len(s.ledger) + 1),
		ItemID:       itemID,
		SourceType:   source,
		SourceID:     sourceID,
		EventID:      eventID,
		Delta:        delta,
		BalanceAfter: balance,
		CreatedAt:    at,
	}
	s.ledger = append(s.ledger, entry)
	s.ledgerByItem[itemID] = append(s.ledgerByItem[itemID], len(s.ledger)-1)
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.AuditLog, 0, min(limit, len(s.auditLogs)))
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		switch {
		case a.Username < b.Username:
			return -1
		case a.Username > b.Username:
			return 1
		}
		return 0
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneOrder(src domain.ProcurementOrder) domain.ProcurementOrder {
	out := src
	out.Lines = slices.Clone(src.Lines)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		out.CancelledAt = &at
	}
	return out
}

func cloneReceiving(src domain.ReceivingEvent) domain.ReceivingEvent {
	out := src
	out.Lines = slices.Clone(src.Lines)
	return out
}

func cloneReturn(src domain.ReturnEvent) domain.ReturnEvent {
	out := src
	out.Lines = slices.Clone(src.Lines)
	return out
}

func cloneSale(src domain.SaleOrder) domain.SaleOrder {
	out := src
	out.Lines = slices.Clone(src.Lines)
	return out
}
