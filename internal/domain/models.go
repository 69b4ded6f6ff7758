package domain

import "time"

type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Item struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UnitID     string    `json:"unit_id"`
	CostAmount int64     `json:"cost_amount"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	UnitID     string `json:"unit_id" validate:"required"`
	CostAmount int64  `json:"cost_amount" validate:"gte=0,lte=1000000000000"`
}

type ItemUpdateRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	UnitID     *string `json:"unit_id,omitempty" validate:"omitempty,min=1"`
	CostAmount *int64  `json:"cost_amount,omitempty" validate:"omitempty,gte=0,lte=1000000000000"`
	Active     *bool   `json:"active,omitempty"`
}

type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type VendorCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"max=32"`
}

// MarginConfig is the markup applied to item cost at sale time. At most one
// config is active; sales reference it explicitly by ID.
type MarginConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Percent   float64   `json:"percent"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type MarginCreateRequest struct {
	Name    string  `json:"name" validate:"required,max=80"`
	Percent float64 `json:"percent" validate:"gte=0,lte=1000"`
}

type ProcurementOrder struct {
	ID             string            `json:"id"`
	VendorID       string            `json:"vendor_id"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	Status         ProcurementStatus `json:"status"`
	SubtotalAmount int64             `json:"subtotal_amount"`
	TaxAmount      int64             `json:"tax_amount"`
	TotalAmount    int64             `json:"total_amount"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	Lines          []ProcurementLine `json:"lines"`
}

type ProcurementLine struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	ItemID          string `json:"item_id"`
	Quantity        int    `json:"quantity"`
	UnitPriceAmount int64  `json:"unit_price_amount"`
	SubtotalAmount  int64  `json:"subtotal_amount"`
}

// Quantities stay within the INTEGER column range and amounts are capped at
// 10^12 minor units.
type ProcurementLineRequest struct {
	ItemID          string `json:"item_id" validate:"required"`
	Quantity        int    `json:"quantity" validate:"gt=0,lte=2147483647"`
	UnitPriceAmount int64  `json:"unit_price_amount" validate:"gte=0,lte=1000000000000"`
}

type ProcurementCreateRequest struct {
	VendorID  string                   `json:"vendor_id" validate:"required"`
	TaxAmount int64                    `json:"tax_amount" validate:"gte=0,lte=1000000000000"`
	Lines     []ProcurementLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type ProcurementResponse struct {
	Order ProcurementOrder `json:"procurement_order"`
}

type ProcurementListResponse struct {
	Orders []ProcurementOrder `json:"procurement_orders"`
}

type ProcurementLineBreakdown struct {
	ProcurementLineID string `json:"procurement_line_id"`
	ItemID            string `json:"item_id"`
	Ordered           int    `json:"ordered"`
	Received          int    `json:"received"`
	Remaining         int    `json:"remaining"`
	UnitPriceAmount   int64  `json:"unit_price_amount"`
}

type ProcurementBreakdown struct {
	OrderID string                     `json:"order_id"`
	Status  ProcurementStatus          `json:"status"`
	Lines   []ProcurementLineBreakdown `json:"lines"`
}

type ReceivingEvent struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	ReceivedBy string          `json:"received_by"`
	CreatedAt  time.Time       `json:"created_at"`
	Lines      []ReceivingLine `json:"lines"`
}

type ReceivingLine struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	ProcurementLineID string `json:"procurement_line_id"`
	ItemID            string `json:"item_id"`
	Quantity          int    `json:"quantity"`
	UnitPriceAmount   int64  `json:"unit_price_amount"`
	SubtotalAmount    int64  `json:"subtotal_amount"`
}

type ReceiveLineRequest struct {
	ProcurementLineID string `json:"procurement_line_id" validate:"required"`
	Quantity          int    `json:"quantity" validate:"gte=0,lte=2147483647"`
	UnitPriceAmount   int64  `json:"unit_price_amount" validate:"gte=0,lte=1000000000000"`
}

type ReceiveRequest struct {
	Lines []ReceiveLineRequest `json:"lines" validate:"dive"`
}

type ReceiveResponse struct {
	Event       ReceivingEvent    `json:"receiving_event"`
	OrderStatus ProcurementStatus `json:"order_status"`
}

type ReturnEvent struct {
	ID               string       `json:"id"`
	ReceivingEventID string       `json:"receiving_event_id"`
	RequestedBy      string       `json:"requested_by"`
	CreatedAt        time.Time    `json:"created_at"`
	Lines            []ReturnLine `json:"lines"`
}

type ReturnLine struct {
	ID              string `json:"id"`
	EventID         string `json:"event_id"`
	ReceivingLineID string `json:"receiving_line_id"`
	ItemID          string `json:"item_id"`
	Quantity        int    `json:"quantity"`
	Reason          string `json:"reason"`
}

type ReturnLineRequest struct {
	ReceivingLineID string `json:"receiving_line_id" validate:"required"`
	Quantity        int    `json:"quantity" validate:"gte=0,lte=2147483647"`
	Reason          string `json:"reason" validate:"max=255"`
}

type ReturnRequest struct {
	Lines []ReturnLineRequest `json:"lines" validate:"dive"`
}

type ReturnResponse struct {
	Event ReturnEvent `json:"return_event"`
}

type ReturnLineBreakdown struct {
	ReceivingLineID     string `json:"receiving_line_id"`
	ItemID              string `json:"item_id"`
	Received            int    `json:"received"`
	Returned            int    `json:"returned"`
	RemainingReturnable int    `json:"remaining_returnable"`
}

type ReturnBreakdown struct {
	ReceivingEventID string                `json:"receiving_event_id"`
	OrderID          string                `json:"order_id"`
	Lines            []ReturnLineBreakdown `json:"lines"`
}

type SaleOrder struct {
	ID             string     `json:"id"`
	MarginConfigID string     `json:"margin_config_id"`
	MarginPercent  float64    `json:"margin_percent"`
	SoldBy         string     `json:"sold_by"`
	CreatedAt      time.Time  `json:"created_at"`
	SubtotalAmount int64      `json:"subtotal_amount"`
	TaxPercent     float64    `json:"tax_percent"`
	TaxAmount      int64      `json:"tax_amount"`
	TotalAmount    int64      `json:"total_amount"`
	Lines          []SaleLine `json:"lines"`
}

type SaleLine struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	ItemID          string `json:"item_id"`
	Quantity        int    `json:"quantity"`
	UnitPriceAmount int64  `json:"unit_price_amount"`
	SubtotalAmount  int64  `json:"subtotal_amount"`
}

type SaleLineRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0,lte=2147483647"`
}

type SaleRequest struct {
	MarginConfigID string            `json:"margin_config_id" validate:"required"`
	TaxPercent     float64           `json:"tax_percent" validate:"gte=0,lte=100"`
	Lines          []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type SaleResponse struct {
	Order SaleOrder `json:"sale_order"`
}

type LedgerEntry struct {
	ID           int64        `json:"id"`
	ItemID       string       `json:"item_id"`
	SourceType   LedgerSource `json:"source_type"`
	SourceID     string       `json:"source_id"`
	EventID      string       `json:"event_id"`
	Delta        int          `json:"delta"`
	BalanceAfter int          `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}

type AvailabilityResponse struct {
	ItemID    string `json:"item_id"`
	Available int    `json:"available"`
}

// Reconciliation compares the ledger balance with totals recomputed from the
// receiving, return and sale lines of one item.
type Reconciliation struct {
	ItemID        string `json:"item_id"`
	LedgerBalance int    `json:"ledger_balance"`
	LedgerSum     int    `json:"ledger_sum"`
	Received      int    `json:"received"`
	Returned      int    `json:"returned"`
	Sold          int    `json:"sold"`
	Expected      int    `json:"expected"`
	Consistent    bool   `json:"consistent"`
}

// ItemMovementTotals is the per-item aggregate of committed event lines.
type ItemMovementTotals struct {
	Received int
	Returned int
	Sold     int
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin      = "admin"
	RolePurchasing = "purchasing"
	RoleWarehouse  = "warehouse"
	RoleCashier    = "cashier"
)
