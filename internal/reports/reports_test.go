package reports

import (
	"encoding/json"
	"testing"
	"time"

	"kapehan/backend/internal/domain"
)

var testMenu = NewMenuIndex([]domain.MenuItem{
	{ID: "americano", Name: "Americano", Category: "coffee", Owner: "mara", Price: 100},
	{ID: "spanish-latte", Name: "Spanish Latte", Category: "coffee", Owner: "mara", Price: 130},
	{ID: "clubhouse", Name: "Clubhouse Sandwich", Category: "sandwich", Owner: "jojo", Price: 165},
})

var owners = [2]string{"mara", "jojo"}

func ms(value string) int64 {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t.UnixMilli()
}

func paidOrder(id string, createdAt string, items []domain.OrderItem, p domain.Payment) domain.Order {
	return domain.Order{
		ID:          id,
		BranchID:    "main",
		OrderType:   domain.OrderTypeDineIn,
		Items:       items,
		CreatedAtMs: ms(createdAt),
		Payment:     p,
	}
}

func TestSplitPaymentKeepsItemTotalAsSales(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 1, Status: domain.ItemStatusServed}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 60, GcashAmount: 40, PaidAmount: 100},
	)

	days := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})
	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(days))
	}
	day := days[0]
	if day.TotalSales != 100 {
		t.Fatalf("expected totalSales 100, got %v", day.TotalSales)
	}
	if day.GrossCash != 60 || day.GrossGcash != 40 {
		t.Fatalf("expected 60/40 split routing, got %v/%v", day.GrossCash, day.GrossGcash)
	}
}

func TestSalesDerivedFromItemsNotPayments(t *testing.T) {
	// A split whose recorded amounts drift a cent from the item total must
	// still report the item total as sales.
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 1, Status: domain.ItemStatusServed}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 60, GcashAmount: 39.99},
	)

	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})[0]
	if day.TotalSales != 100 {
		t.Fatalf("expected items-based totalSales 100, got %v", day.TotalSales)
	}
	sum := 0.0
	for _, byItem := range day.ItemsByCategory {
		for _, entry := range byItem {
			sum += entry.Total
		}
	}
	if sum != day.TotalSales {
		t.Fatalf("category totals %v should equal totalSales %v", sum, day.TotalSales)
	}
}

func TestUnpaidAppendedOrderExcluded(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 50, Quantity: 1, Status: domain.ItemStatusServed}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash, PaidAmount: 50},
	)
	order.AppendedOrders = []domain.AppendedOrder{{
		ID:          "app1",
		Items:       []domain.OrderItem{{ID: "clubhouse-1-a", Name: "Clubhouse Sandwich", Price: 30, Quantity: 1}},
		CreatedAtMs: ms("2026-03-10T12:30:00Z"),
	}}

	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})[0]
	if day.TotalSales != 50 {
		t.Fatalf("expected only the paid main order, got totalSales %v", day.TotalSales)
	}
}

func TestPaidAppendedOrderCounted(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 50, Quantity: 1}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)
	order.AppendedOrders = []domain.AppendedOrder{{
		ID:          "app1",
		Items:       []domain.OrderItem{{ID: "clubhouse-1-a", Name: "Clubhouse Sandwich", Price: 30, Quantity: 1}},
		CreatedAtMs: ms("2026-03-10T12:30:00Z"),
		Payment:     domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodGcash},
	}}

	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})[0]
	if day.TotalSales != 80 {
		t.Fatalf("expected 80, got %v", day.TotalSales)
	}
	if day.GrossCash != 50 || day.GrossGcash != 30 {
		t.Fatalf("expected cash 50 gcash 30, got %v/%v", day.GrossCash, day.GrossGcash)
	}
}

func TestUnpaidMainOrderExcluded(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 1}},
		domain.Payment{},
	)
	days := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})
	if len(days) != 0 {
		t.Fatalf("expected no day buckets for an unpaid order, got %d", len(days))
	}
}

func TestLegacyMissingMethodCountsAsCash(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 2}},
		domain.Payment{IsPaid: true},
	)
	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})[0]
	if day.GrossCash != 200 || day.GrossGcash != 0 {
		t.Fatalf("legacy orders should route to cash, got %v/%v", day.GrossCash, day.GrossGcash)
	}
}

func TestPastMidnightOrderBucketsToPreviousDay(t *testing.T) {
	evening := paidOrder("o1", "2026-01-01T22:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 1}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)
	lateNight := paidOrder("o2", "2026-01-02T00:30:00Z",
		[]domain.OrderItem{{ID: "americano-2-a", Name: "Americano", Price: 100, Quantity: 1}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)

	days := Build(Inputs{BranchID: "main", Orders: []domain.Order{evening, lateNight}, Menu: testMenu, Owners: owners})
	if len(days) != 1 {
		t.Fatalf("expected both orders on one business day, got %d days", len(days))
	}
	if days[0].Date != "2026-01-01" {
		t.Fatalf("expected 2026-01-01, got %s", days[0].Date)
	}
	if days[0].TotalSales != 200 {
		t.Fatalf("expected 200, got %v", days[0].TotalSales)
	}
}

func TestWithdrawalNetting(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 500, Quantity: 1}},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)
	withdrawals := []domain.Withdrawal{
		{ID: "w1", BranchID: "main", Type: domain.WithdrawalTypeWithdrawal, Amount: 100, PaymentMethod: domain.PayMethodCash, ChargedTo: "mara", CreatedAtMs: ms("2026-03-10T15:00:00Z")},
		{ID: "w2", BranchID: "main", Type: domain.WithdrawalTypePurchase, Amount: 50, PaymentMethod: domain.PayMethodGcash, ChargedTo: "jojo", CreatedAtMs: ms("2026-03-10T16:00:00Z")},
	}

	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Withdrawals: withdrawals, Menu: testMenu, Owners: owners})[0]
	if day.TotalWithdrawals != 100 || day.TotalPurchases != 50 {
		t.Fatalf("expected withdrawals 100 purchases 50, got %v/%v", day.TotalWithdrawals, day.TotalPurchases)
	}
	if day.NetSales != 350 {
		t.Fatalf("expected netSales 350, got %v", day.NetSales)
	}
	if day.GrossCash != 500 || day.TotalCash != 400 {
		t.Fatalf("expected cash 500 gross 400 net, got %v/%v", day.GrossCash, day.TotalCash)
	}
	if day.TotalGcash != -50 {
		t.Fatalf("expected gcash -50 after purchase deduction, got %v", day.TotalGcash)
	}
}

func TestChargedToAllSplitsBetweenOwners(t *testing.T) {
	withdrawals := []domain.Withdrawal{
		{ID: "w1", BranchID: "main", Type: domain.WithdrawalTypeWithdrawal, Amount: 100, PaymentMethod: domain.PayMethodCash, ChargedTo: domain.ChargedToAll, CreatedAtMs: ms("2026-03-10T15:00:00Z")},
	}
	day := Build(Inputs{BranchID: "main", Withdrawals: withdrawals, Menu: testMenu, Owners: owners})[0]
	if day.ByOwner["mara"].Withdrawals != 50 || day.ByOwner["jojo"].Withdrawals != 50 {
		t.Fatalf("expected 50/50 owner split, got %+v", day.ByOwner)
	}
}

func TestOwnerAttributionAndNets(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{
			{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 1},
			{ID: "clubhouse-1-a", Name: "Clubhouse Sandwich", Price: 165, Quantity: 2},
		},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)
	withdrawals := []domain.Withdrawal{
		{ID: "w1", BranchID: "main", Type: domain.WithdrawalTypePurchase, Amount: 30, PaymentMethod: domain.PayMethodCash, ChargedTo: "jojo", CreatedAtMs: ms("2026-03-10T15:00:00Z")},
	}

	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Withdrawals: withdrawals, Menu: testMenu, Owners: owners})[0]
	if day.ByOwner["mara"].Revenue != 100 {
		t.Fatalf("expected mara revenue 100, got %v", day.ByOwner["mara"].Revenue)
	}
	jojo := day.ByOwner["jojo"]
	if jojo.Revenue != 330 || jojo.Purchases != 30 || jojo.Net != 300 {
		t.Fatalf("unexpected jojo line: %+v", jojo)
	}
}

func TestAttributionFallsBackThroughIDPrefixAndName(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{
			// No explicit fields, no menu FK: resolve via the id prefix.
			{ID: "americano-1760000000-ab12", Name: "Americano", Price: 100, Quantity: 1},
			// Dashed menu id: the prefix must survive id-suffix stripping.
			// The display name matches nothing, so only the prefix resolves it.
			{ID: "spanish-latte-1760000000-cd34", Name: "Sp. Latte", Price: 130, Quantity: 1},
			// Unparseable id: resolve via case-insensitive name.
			{ID: "legacy9", Name: "CLUBHOUSE SANDWICH", Price: 165, Quantity: 1},
			// Resolves nowhere: uncategorized, default owner.
			{ID: "mystery", Name: "Off Menu Special", Price: 50, Quantity: 1},
		},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)

	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})[0]
	if day.ItemsByCategory["coffee"]["Americano"].Total != 100 {
		t.Fatalf("id-prefix attribution failed: %+v", day.ItemsByCategory)
	}
	if day.ItemsByCategory["coffee"]["Sp. Latte"].Total != 130 {
		t.Fatalf("dashed-id-prefix attribution failed: %+v", day.ItemsByCategory)
	}
	if day.ItemsByCategory["sandwich"]["CLUBHOUSE SANDWICH"].Total != 165 {
		t.Fatalf("name attribution failed: %+v", day.ItemsByCategory)
	}
	if day.ItemsByCategory[Uncategorized]["Off Menu Special"].Total != 50 {
		t.Fatalf("unresolved item should be uncategorized: %+v", day.ItemsByCategory)
	}
	if day.ByOwner["mara"].Revenue != 280 {
		t.Fatalf("expected mara to absorb her items plus unresolved revenue, got %v", day.ByOwner["mara"].Revenue)
	}
}

func TestExplicitItemFieldsWinOverMenu(t *testing.T) {
	order := paidOrder("o1", "2026-03-10T12:00:00Z",
		[]domain.OrderItem{
			{ID: "americano-1-a", Name: "Americano", Price: 100, Quantity: 1, Category: "promo", Owner: "jojo"},
		},
		domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodCash},
	)
	day := Build(Inputs{BranchID: "main", Orders: []domain.Order{order}, Menu: testMenu, Owners: owners})[0]
	if day.ItemsByCategory["promo"]["Americano"].Total != 100 {
		t.Fatalf("explicit category should win, got %+v", day.ItemsByCategory)
	}
	if day.ByOwner["jojo"].Revenue != 100 {
		t.Fatalf("explicit owner should win, got %+v", day.ByOwner)
	}
}

func TestRebuildIsDeterministic(t *testing.T) {
	orders := []domain.Order{
		paidOrder("o1", "2026-03-10T12:00:00Z",
			[]domain.OrderItem{{ID: "americano-1-a", Name: "Americano", Price: 95.5, Quantity: 3}},
			domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 186.5, GcashAmount: 100}),
		paidOrder("o2", "2026-03-11T12:00:00Z",
			[]domain.OrderItem{{ID: "clubhouse-1-a", Name: "Clubhouse Sandwich", Price: 165, Quantity: 1}},
			domain.Payment{IsPaid: true, PaymentMethod: domain.PayMethodGcash}),
	}
	withdrawals := []domain.Withdrawal{
		{ID: "w1", BranchID: "main", Type: domain.WithdrawalTypeWithdrawal, Amount: 33.33, PaymentMethod: domain.PayMethodCash, ChargedTo: domain.ChargedToAll, CreatedAtMs: ms("2026-03-10T15:00:00Z")},
	}

	in := Inputs{BranchID: "main", Orders: orders, Withdrawals: withdrawals, Menu: testMenu, Owners: owners}
	first, err := json.Marshal(Build(in))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(Build(in))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("rebuilding over unchanged inputs should be byte-identical")
	}
	if Build(in)[0].Date != "2026-03-11" {
		t.Fatal("days should sort newest first")
	}
}
