package domain

import "time"

const (
	OrderTypeDineIn  = "dine-in"
	OrderTypeTakeOut = "take-out"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusPreparing = "preparing"
	ItemStatusReady     = "ready"
	ItemStatusServed    = "served"
)

const (
	PayMethodCash  = "cash"
	PayMethodGcash = "gcash"
	PayMethodSplit = "split"
)

const (
	WithdrawalTypeWithdrawal = "withdrawal"
	WithdrawalTypePurchase   = "purchase"

	// ChargedToAll splits a cash movement 50/50 between the two owners.
	ChargedToAll = "all"
)

// SplitEpsilon is the tolerance, in currency units, for split-payment
// exact-sum validation. Half a cent absorbs rounding artifacts while a full
// one-cent shortfall is still rejected.
const SplitEpsilon = 0.005

// OrderItem is a line on an order. Price is a frozen copy of the menu price at
// order time; menu price changes never touch historical orders.
type OrderItem struct {
	ID         string  `json:"id"`
	MenuItemID string  `json:"menu_item_id,omitempty"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Status     string  `json:"status"`
	Owner      string  `json:"owner,omitempty"`
	Category   string  `json:"category,omitempty"`

	PreparingAtMs int64 `json:"preparing_at_ms,omitempty"`
	ReadyAtMs     int64 `json:"ready_at_ms,omitempty"`
	ServedAtMs    int64 `json:"served_at_ms,omitempty"`

	PreparedBy string `json:"prepared_by,omitempty"`
	ServedBy   string `json:"served_by,omitempty"`
}

// Payment is the shared payment state of a main order or an appended order.
// When IsPaid is false every other field is zero.
type Payment struct {
	IsPaid         bool    `json:"is_paid"`
	PaymentMethod  string  `json:"payment_method,omitempty"`
	CashAmount     float64 `json:"cash_amount,omitempty"`
	GcashAmount    float64 `json:"gcash_amount,omitempty"`
	PaidAmount     float64 `json:"paid_amount,omitempty"`
	AmountReceived float64 `json:"amount_received,omitempty"`
}

// AppendedOrder is a late addition to an existing bill, paid independently of
// the main order. Unpaid appended orders contribute nothing to revenue.
type AppendedOrder struct {
	ID          string      `json:"id"`
	Items       []OrderItem `json:"items"`
	CreatedAtMs int64       `json:"created_at_ms"`
	Payment
}

// Order is the aggregate root. CreatedAtMs is authoritative for business-day
// bucketing; AllItemsServedAtMs is set exactly once, when every item across the
// main order and all appended orders is served.
type Order struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	OrderNumber   int64           `json:"order_number"`
	CustomerName  string          `json:"customer_name,omitempty"`
	OrderType     string          `json:"order_type"`
	Items         []OrderItem     `json:"items"`
	AppendedOrders []AppendedOrder `json:"appended_orders,omitempty"`
	CreatedAtMs   int64           `json:"created_at_ms"`
	UpdatedAtMs   int64           `json:"updated_at_ms"`
	Payment
	AllItemsServedAtMs int64    `json:"all_items_served_at_ms,omitempty"`
	Notes              []string `json:"notes,omitempty"`
}

// ItemsTotal sums price*quantity over items.
func ItemsTotal(items []OrderItem) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// MainTotal is the item total of the main order only.
func (o *Order) MainTotal() float64 {
	return ItemsTotal(o.Items)
}

// PaidTotal is the financial total of the order: main items plus every paid
// appended order. Unpaid appended orders contribute zero.
func (o *Order) PaidTotal() float64 {
	total := ItemsTotal(o.Items)
	for _, app := range o.AppendedOrders {
		if app.IsPaid {
			total += ItemsTotal(app.Items)
		}
	}
	return total
}

// UnpaidAppendedTotal sums the item totals of appended orders not yet paid.
func (o *Order) UnpaidAppendedTotal() float64 {
	total := 0.0
	for _, app := range o.AppendedOrders {
		if !app.IsPaid {
			total += ItemsTotal(app.Items)
		}
	}
	return total
}

// AllServed reports whether every item, main and appended, is served. An order
// with no items at all is not considered served.
func (o *Order) AllServed() bool {
	count := 0
	for _, item := range o.Items {
		count++
		if item.Status != ItemStatusServed {
			return false
		}
	}
	for _, app := range o.AppendedOrders {
		for _, item := range app.Items {
			count++
			if item.Status != ItemStatusServed {
				return false
			}
		}
	}
	return count > 0
}

// DerivedStatus is the order-level status used by list filters: served once
// AllItemsServedAtMs is set, otherwise the least-advanced item status.
func (o *Order) DerivedStatus() string {
	if o.AllItemsServedAtMs > 0 {
		return ItemStatusServed
	}
	least := ItemStatusServed
	walk := func(items []OrderItem) {
		for _, item := range items {
			if statusRank(item.Status) < statusRank(least) {
				least = item.Status
			}
		}
	}
	walk(o.Items)
	for _, app := range o.AppendedOrders {
		walk(app.Items)
	}
	return least
}

func statusRank(status string) int {
	switch status {
	case ItemStatusPending:
		return 0
	case ItemStatusPreparing:
		return 1
	case ItemStatusReady:
		return 2
	case ItemStatusServed:
		return 3
	default:
		return 0
	}
}

// Withdrawal is a cash movement netted out of a day's gross receipts.
type Withdrawal struct {
	ID            string  `json:"id"`
	BranchID      string  `json:"branch_id"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	ChargedTo     string  `json:"charged_to"`
	Note          string  `json:"note,omitempty"`
	CreatedAtMs   int64   `json:"created_at_ms"`
}

// MenuItem backs category/owner attribution and price snapshots at order time.
type MenuItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Owner    string  `json:"owner"`
	Price    float64 `json:"price"`
	Active   bool    `json:"active"`
}

// BranchStats is the running wait-time aggregate, updated incrementally at the
// served-once transition and rebuilt only by an explicit recalculation.
type BranchStats struct {
	BranchID        string `json:"branch_id"`
	TotalWaitTimeMs int64  `json:"total_wait_time_ms"`
	CompletedOrders int64  `json:"completed_orders"`
	AvgWaitTimeMs   int64  `json:"avg_wait_time_ms"`
}

// DayValidation locks a business day's figures after manual reconciliation.
type DayValidation struct {
	BranchID      string `json:"branch_id"`
	Date          string `json:"date"`
	Validated     bool   `json:"validated"`
	ValidatedBy   string `json:"validated_by,omitempty"`
	ValidatedAtMs int64  `json:"validated_at_ms,omitempty"`
}

type OrderItemInput struct {
	ID         string  `json:"id,omitempty"`
	MenuItemID string  `json:"menu_item_id,omitempty"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Owner      string  `json:"owner,omitempty"`
	Category   string  `json:"category,omitempty"`
}

type OrderCreateRequest struct {
	ID           string           `json:"id,omitempty"`
	BranchID     string           `json:"branch_id,omitempty"`
	CustomerName string           `json:"customer_name,omitempty"`
	OrderType    string           `json:"order_type"`
	Items        []OrderItemInput `json:"items"`
	Notes        []string         `json:"notes,omitempty"`
	CreatedAtMs  int64            `json:"created_at_ms,omitempty"`
}

type OrderUpdateRequest struct {
	CustomerName *string           `json:"customer_name,omitempty"`
	OrderType    *string           `json:"order_type,omitempty"`
	Items        *[]OrderItemInput `json:"items,omitempty"`
	Notes        *[]string         `json:"notes,omitempty"`
	// IsPaid is a blunt toggle used by offline clients replaying local edits.
	// Settling with a method or a split goes through the payment endpoints.
	IsPaid         *bool            `json:"is_paid,omitempty"`
	AppendedOrders *[]AppendedOrder `json:"appended_orders,omitempty"`
}

type AppendOrderRequest struct {
	Items []OrderItemInput `json:"items"`
}

type ItemStatusRequest struct {
	Status   string `json:"status"`
	CrewName string `json:"crew_name,omitempty"`
}

type PaymentRequest struct {
	IsPaid         bool    `json:"is_paid"`
	PaymentMethod  string  `json:"payment_method,omitempty"`
	CashAmount     float64 `json:"cash_amount,omitempty"`
	GcashAmount    float64 `json:"gcash_amount,omitempty"`
	AmountReceived float64 `json:"amount_received,omitempty"`
	WholeOrder     bool    `json:"whole_order,omitempty"`
}

type WithdrawalCreateRequest struct {
	BranchID      string  `json:"branch_id,omitempty"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	ChargedTo     string  `json:"charged_to"`
	Note          string  `json:"note,omitempty"`
}

type MenuItemCreateRequest struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Owner    string  `json:"owner"`
	Price    float64 `json:"price"`
}

type MenuItemUpdateRequest struct {
	Name     *string  `json:"name,omitempty"`
	Category *string  `json:"category,omitempty"`
	Owner    *string  `json:"owner,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Active   *bool    `json:"active,omitempty"`
}

// OrderFilter drives GET /orders. Status matches the order's derived status.
type OrderFilter struct {
	BranchID     string
	IsPaid       *bool
	Status       string
	CustomerName string
	Limit        int
	Sort         string // "asc" or "desc" by created_at_ms
}

type SyncRequest struct {
	BranchID string  `json:"branch_id,omitempty"`
	Orders   []Order `json:"orders"`
}

type SyncStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // created | merged | rejected
	Reason  string `json:"reason,omitempty"`
}

type SyncResponse struct {
	Statuses []SyncStatus `json:"statuses"`
}

// Daily sales report types (derived, per business day).

type CategoryItemSales struct {
	Quantity int     `json:"quantity"`
	Total    float64 `json:"total"`
}

type OwnerSales struct {
	Revenue     float64 `json:"revenue"`
	Withdrawals float64 `json:"withdrawals"`
	Purchases   float64 `json:"purchases"`
	Net         float64 `json:"net"`
}

type DailySales struct {
	Date             string                                  `json:"date"`
	BranchID         string                                  `json:"branch_id"`
	OrderCount       int                                     `json:"order_count"`
	TotalSales       float64                                 `json:"total_sales"`
	GrossCash        float64                                 `json:"gross_cash"`
	GrossGcash       float64                                 `json:"gross_gcash"`
	TotalCash        float64                                 `json:"total_cash"`
	TotalGcash       float64                                 `json:"total_gcash"`
	TotalWithdrawals float64                                 `json:"total_withdrawals"`
	TotalPurchases   float64                                 `json:"total_purchases"`
	NetSales         float64                                 `json:"net_sales"`
	ItemsByCategory  map[string]map[string]CategoryItemSales `json:"items_by_category"`
	ByOwner          map[string]OwnerSales                   `json:"by_owner"`
	Validated        bool                                    `json:"validated"`
	ValidatedBy      string                                  `json:"validated_by,omitempty"`
}

type DailySalesPage struct {
	Days      []DailySales `json:"days"`
	Page      int          `json:"page"`
	PerPage   int          `json:"per_page"`
	TotalDays int          `json:"total_days"`
}

// Insights report types (90-day window).

const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendSteady = "steady"
)

type ItemInsight struct {
	Key           string  `json:"key"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Revenue       float64 `json:"revenue"`
	AvgPrepTimeMs int64   `json:"avg_prep_time_ms,omitempty"`
	TrendPct      float64 `json:"trend_pct"`
	Trend         string  `json:"trend"`
}

type HourBucket struct {
	Hour    int     `json:"hour"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

type DayOfWeekBucket struct {
	Day     string  `json:"day"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

type CustomerInsight struct {
	Name        string  `json:"name"`
	Orders      int     `json:"orders"`
	Revenue     float64 `json:"revenue"`
	UniqueItems int     `json:"unique_items"`
	Segment     string  `json:"segment"` // regular | repeat | new
}

type ItemPair struct {
	ItemA string `json:"item_a"`
	ItemB string `json:"item_b"`
	Count int    `json:"count"`
}

type InsightAlert struct {
	Code        string  `json:"code"`
	Severity    string  `json:"severity"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	MetricValue float64 `json:"metric_value"`
	Threshold   float64 `json:"threshold"`
}

type InsightRecommendation struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type InsightsReport struct {
	BranchID        string                  `json:"branch_id"`
	From            string                  `json:"from"`
	To              string                  `json:"to"`
	WindowDays      int                     `json:"window_days"`
	OrderCount      int                     `json:"order_count"`
	Revenue         float64                 `json:"revenue"`
	AvgOrderValue   float64                 `json:"avg_order_value"`
	AvgPrepTimeMs   int64                   `json:"avg_prep_time_ms"`
	RevenueTrendPct float64                 `json:"revenue_trend_pct"`
	Items           []ItemInsight           `json:"items"`
	TopByRevenue    []ItemInsight           `json:"top_by_revenue"`
	TopByQuantity   []ItemInsight           `json:"top_by_quantity"`
	BottomByRevenue []ItemInsight           `json:"bottom_by_revenue"`
	Hourly          []HourBucket            `json:"hourly"`
	PeakHour        int                     `json:"peak_hour"`
	DayOfWeek       []DayOfWeekBucket       `json:"day_of_week"`
	Customers       []CustomerInsight       `json:"customers"`
	FrequentPairs   []ItemPair              `json:"frequent_pairs"`
	Alerts          []InsightAlert          `json:"alerts"`
	Recommendations []InsightRecommendation `json:"recommendations"`
	GeneratedAt     string                  `json:"generated_at"`
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

type CrewCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CrewUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
