package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kapehan/backend/internal/cache"
	"kapehan/backend/internal/domain"
	"kapehan/backend/internal/events"
	"kapehan/backend/internal/store"
	"kapehan/backend/internal/store/memory"
)

type recordingCache struct {
	cache.NoopReportCache
	mu       sync.Mutex
	prefixes []string
}

func (c *recordingCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes = append(c.prefixes, prefix)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingCache, *recordingNotifier) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin")
	t.Setenv("SEED_CREW_PASSWORD", "test-crew")
	rc := &recordingCache{}
	rn := &recordingNotifier{}
	svc := New(memory.NewSeeded(), rc, rn, "main", 30*time.Second, [2]string{"mara", "jojo"})
	return svc, rc, rn
}

func crewCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "crew", Role: "crew"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func createOrder(t *testing.T, svc *Service, items ...domain.OrderItemInput) domain.Order {
	t.Helper()
	if len(items) == 0 {
		items = []domain.OrderItemInput{{MenuItemID: "americano", Name: "Americano", Price: 95, Quantity: 1}}
	}
	order, err := svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{
		OrderType: domain.OrderTypeDineIn,
		Items:     items,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateOrderAssignsNumberAndFreezesItems(t *testing.T) {
	svc, _, _ := newTestService(t)

	first := createOrder(t, svc)
	second := createOrder(t, svc)
	if first.OrderNumber != 1 || second.OrderNumber != 2 {
		t.Fatalf("expected sequential order numbers, got %d and %d", first.OrderNumber, second.OrderNumber)
	}
	if first.BranchID != "main" {
		t.Fatalf("expected default branch, got %s", first.BranchID)
	}

	item := first.Items[0]
	if item.Status != domain.ItemStatusPending {
		t.Fatalf("new items should be pending, got %s", item.Status)
	}
	if item.Owner != "mara" || item.Category != "coffee" {
		t.Fatalf("menu attribution not captured: %+v", item)
	}
	if !strings.HasPrefix(item.ID, "americano-") {
		t.Fatalf("item id should embed the menu item id, got %s", item.ID)
	}

	// A later menu price change must not touch the stored snapshot.
	newPrice := 200.0
	if _, err := svc.UpdateMenuItem(adminCtx(), "americano", domain.MenuItemUpdateRequest{Price: &newPrice}); err != nil {
		t.Fatalf("update menu: %v", err)
	}
	reloaded, err := svc.GetOrder(crewCtx(), first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Items[0].Price != 95 {
		t.Fatalf("item price should stay frozen at 95, got %v", reloaded.Items[0].Price)
	}
}

func TestCreateOrderDuplicateIDConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := domain.OrderCreateRequest{
		ID:        "ord-fixed",
		OrderType: domain.OrderTypeTakeOut,
		Items:     []domain.OrderItemInput{{Name: "Americano", Price: 95, Quantity: 1}},
	}
	if _, err := svc.CreateOrder(crewCtx(), req); err != nil {
		t.Fatal(err)
	}
	_, err := svc.CreateOrder(crewCtx(), req)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{OrderType: "delivery", Items: []domain.OrderItemInput{{Name: "Americano", Price: 95, Quantity: 1}}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad order type, got %v", err)
	}
	_, err = svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{OrderType: domain.OrderTypeDineIn})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty items, got %v", err)
	}
	_, err = svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{OrderType: domain.OrderTypeDineIn, Items: []domain.OrderItemInput{{Name: "Americano", Price: 95, Quantity: 0}}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
}

func TestItemStatusTimestampsAreFirstWriteWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)
	itemID := order.Items[0].ID

	order, err := svc.UpdateItemStatus(crewCtx(), order.ID, itemID, domain.ItemStatusRequest{Status: domain.ItemStatusPreparing, CrewName: "bea"})
	if err != nil {
		t.Fatal(err)
	}
	firstStamp := order.Items[0].PreparingAtMs
	if firstStamp == 0 || order.Items[0].PreparedBy != "bea" {
		t.Fatalf("preparing stamp missing: %+v", order.Items[0])
	}

	// Walk backwards and forwards again: status follows, stamp does not move.
	if _, err := svc.UpdateItemStatus(crewCtx(), order.ID, itemID, domain.ItemStatusRequest{Status: domain.ItemStatusPending}); err != nil {
		t.Fatal(err)
	}
	order, err = svc.UpdateItemStatus(crewCtx(), order.ID, itemID, domain.ItemStatusRequest{Status: domain.ItemStatusPreparing, CrewName: "cai"})
	if err != nil {
		t.Fatal(err)
	}
	if order.Items[0].PreparingAtMs != firstStamp || order.Items[0].PreparedBy != "bea" {
		t.Fatalf("timestamps must be first-write-wins: %+v", order.Items[0])
	}
}

func TestServedOnceAcrossAppendedItems(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)

	order, err := svc.AppendOrder(crewCtx(), order.ID, domain.AppendOrderRequest{
		Items: []domain.OrderItemInput{{MenuItemID: "fries", Name: "Classic Fries", Price: 90, Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	mainItem := order.Items[0].ID
	appendedItem := order.AppendedOrders[0].Items[0].ID

	order, err = svc.UpdateItemStatus(crewCtx(), order.ID, mainItem, domain.ItemStatusRequest{Status: domain.ItemStatusServed})
	if err != nil {
		t.Fatal(err)
	}
	if order.AllItemsServedAtMs != 0 {
		t.Fatal("order must not be complete while an appended item is unserved")
	}

	order, err = svc.UpdateItemStatus(crewCtx(), order.ID, appendedItem, domain.ItemStatusRequest{Status: domain.ItemStatusServed})
	if err != nil {
		t.Fatal(err)
	}
	if order.AllItemsServedAtMs == 0 {
		t.Fatal("order should be complete once every item is served")
	}
	servedAt := order.AllItemsServedAtMs

	// Serving again must not move the completion stamp or recount stats.
	order, err = svc.UpdateItemStatus(crewCtx(), order.ID, mainItem, domain.ItemStatusRequest{Status: domain.ItemStatusServed})
	if err != nil {
		t.Fatal(err)
	}
	if order.AllItemsServedAtMs != servedAt {
		t.Fatal("completion stamp must be set exactly once")
	}

	stats, err := svc.BranchStats(crewCtx(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if stats.CompletedOrders != 1 {
		t.Fatalf("expected 1 completed order, got %d", stats.CompletedOrders)
	}
}

func TestSplitPaymentRejectsMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc, domain.OrderItemInput{Name: "Americano", Price: 100, Quantity: 1})

	_, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 60, GcashAmount: 39.99,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "99.99") || !strings.Contains(err.Error(), "100.00") {
		t.Fatalf("error should cite both totals: %v", err)
	}

	// The order stays in its prior state.
	reloaded, err := svc.GetOrder(crewCtx(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.IsPaid {
		t.Fatal("rejected payment must not mark the order paid")
	}
}

func TestSplitPaymentWithinEpsilonAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc, domain.OrderItemInput{Name: "Americano", Price: 100, Quantity: 1})

	paid, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 60.005, GcashAmount: 40,
	})
	if err != nil {
		t.Fatalf("a 0.005 difference is within tolerance: %v", err)
	}
	if !paid.IsPaid || paid.PaidAmount != 100 {
		t.Fatalf("unexpected payment state: %+v", paid.Payment)
	}
}

func TestWholeOrderSplitCoversUnpaidAppended(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc, domain.OrderItemInput{Name: "Americano", Price: 100, Quantity: 1})
	order, err := svc.AppendOrder(crewCtx(), order.ID, domain.AppendOrderRequest{
		Items: []domain.OrderItemInput{{Name: "Classic Fries", Price: 90, Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// 100 main + 90 appended: a split against only the main total fails.
	_, err = svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 100, GcashAmount: 90,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected mismatch without whole_order, got %v", err)
	}

	paid, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 100, GcashAmount: 90, WholeOrder: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !paid.AppendedOrders[0].IsPaid {
		t.Fatal("whole-order payment should settle unpaid appended orders")
	}
	if paid.AppendedOrders[0].PaidAmount != 90 {
		t.Fatalf("appended paidAmount should snapshot its own total, got %v", paid.AppendedOrders[0].PaidAmount)
	}
	if paid.CashAmount != 100 || paid.GcashAmount != 90 {
		t.Fatalf("split breakdown should live on the main order, got %+v", paid.Payment)
	}
}

func TestMarkUnpaidClearsPaymentFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc, domain.OrderItemInput{Name: "Americano", Price: 100, Quantity: 1})

	if _, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodCash, AmountReceived: 150,
	}); err != nil {
		t.Fatal(err)
	}
	cleared, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{IsPaid: false})
	if err != nil {
		t.Fatal(err)
	}
	if cleared.Payment != (domain.Payment{}) {
		t.Fatalf("unpaid must clear every payment field: %+v", cleared.Payment)
	}
}

func TestAmountReceivedMayExceedTotal(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc, domain.OrderItemInput{Name: "Americano", Price: 100, Quantity: 1})

	paid, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodCash, AmountReceived: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if paid.PaidAmount != 100 || paid.AmountReceived != 500 {
		t.Fatalf("paidAmount snapshots the item total, amountReceived records the tender: %+v", paid.Payment)
	}
}

func TestSetAppendedPaymentValidatesOwnTotal(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)
	order, err := svc.AppendOrder(crewCtx(), order.ID, domain.AppendOrderRequest{
		Items: []domain.OrderItemInput{{Name: "Classic Fries", Price: 90, Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	appID := order.AppendedOrders[0].ID

	_, err = svc.SetAppendedPayment(crewCtx(), order.ID, appID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 50, GcashAmount: 30,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected mismatch against the appended total, got %v", err)
	}

	paid, err := svc.SetAppendedPayment(crewCtx(), order.ID, appID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 50, GcashAmount: 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !paid.AppendedOrders[0].IsPaid || paid.IsPaid {
		t.Fatal("appended payment must not touch the main order's payment state")
	}
}

func TestDeleteOrderRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)

	if err := svc.DeleteOrder(crewCtx(), order.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("crew must not delete orders, got %v", err)
	}
	if err := svc.DeleteOrder(adminCtx(), order.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetOrder(adminCtx(), order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeleteAppendedOrderPaidNeedsAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)
	order, err := svc.AppendOrder(crewCtx(), order.ID, domain.AppendOrderRequest{
		Items: []domain.OrderItemInput{{Name: "Classic Fries", Price: 90, Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	appID := order.AppendedOrders[0].ID
	if _, err := svc.SetAppendedPayment(crewCtx(), order.ID, appID, domain.PaymentRequest{IsPaid: true, PaymentMethod: domain.PayMethodCash}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.DeleteAppendedOrder(crewCtx(), order.ID, appID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("crew must not remove a paid appended order, got %v", err)
	}
	order, err = svc.DeleteAppendedOrder(adminCtx(), order.ID, appID)
	if err != nil {
		t.Fatal(err)
	}
	if len(order.AppendedOrders) != 0 {
		t.Fatal("appended order should be gone")
	}
}

func TestWithdrawalsRequireAdminAndValidate(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateWithdrawal(crewCtx(), domain.WithdrawalCreateRequest{
		Type: domain.WithdrawalTypeWithdrawal, Amount: 100, PaymentMethod: domain.PayMethodCash, ChargedTo: "mara",
	})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for crew, got %v", err)
	}

	_, err = svc.CreateWithdrawal(adminCtx(), domain.WithdrawalCreateRequest{
		Type: domain.WithdrawalTypeWithdrawal, Amount: 100, PaymentMethod: domain.PayMethodCash, ChargedTo: "somebody",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown owner, got %v", err)
	}

	w, err := svc.CreateWithdrawal(adminCtx(), domain.WithdrawalCreateRequest{
		Type: domain.WithdrawalTypePurchase, Amount: 250, PaymentMethod: domain.PayMethodGcash, ChargedTo: domain.ChargedToAll,
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.BranchID != "main" || w.CreatedAtMs == 0 {
		t.Fatalf("unexpected withdrawal: %+v", w)
	}
}

func TestDailySalesEndToEnd(t *testing.T) {
	svc, _, _ := newTestService(t)

	order, err := svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		Items:       []domain.OrderItemInput{{MenuItemID: "americano", Name: "Americano", Price: 100, Quantity: 1}},
		CreatedAtMs: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{
		IsPaid: true, PaymentMethod: domain.PayMethodSplit, CashAmount: 60, GcashAmount: 40,
	}); err != nil {
		t.Fatal(err)
	}

	page, err := svc.DailySales(crewCtx(), "main", "2026-03-10", "2026-03-10", 1, 14)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Days) != 1 {
		t.Fatalf("expected one day, got %+v", page)
	}
	day := page.Days[0]
	if day.TotalSales != 100 || day.GrossCash != 60 || day.GrossGcash != 40 {
		t.Fatalf("unexpected day: %+v", day)
	}
	if day.ByOwner["mara"].Revenue != 100 {
		t.Fatalf("expected mara attribution, got %+v", day.ByOwner)
	}
}

func TestValidateDayLocksFigures(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.ValidateDay(crewCtx(), "main", "2026-03-10", true); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for crew, got %v", err)
	}
	if _, err := svc.ValidateDay(adminCtx(), "main", "10-03-2026", true); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for malformed date, got %v", err)
	}

	order, err := svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		Items:       []domain.OrderItemInput{{Name: "Americano", Price: 100, Quantity: 1}},
		CreatedAtMs: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{IsPaid: true, PaymentMethod: domain.PayMethodCash}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateDay(adminCtx(), "main", "2026-03-10", true); err != nil {
		t.Fatal(err)
	}

	page, err := svc.DailySales(crewCtx(), "main", "2026-03-10", "2026-03-10", 1, 14)
	if err != nil {
		t.Fatal(err)
	}
	if !page.Days[0].Validated || page.Days[0].ValidatedBy != "admin" {
		t.Fatalf("expected validated day, got %+v", page.Days[0])
	}
}

func TestPurgeDayDeletesOrdersAndWithdrawals(t *testing.T) {
	svc, _, _ := newTestService(t)

	createdAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	if _, err := svc.CreateOrder(crewCtx(), domain.OrderCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		Items:       []domain.OrderItemInput{{Name: "Americano", Price: 100, Quantity: 1}},
		CreatedAtMs: createdAt,
	}); err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.PurgeDay(crewCtx(), "main", "2026-03-10"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for crew, got %v", err)
	}
	orders, _, err := svc.PurgeDay(adminCtx(), "main", "2026-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if orders != 1 {
		t.Fatalf("expected 1 purged order, got %d", orders)
	}

	remaining, err := svc.ListOrders(crewCtx(), domain.OrderFilter{BranchID: "main"})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty branch after purge, got %d orders", len(remaining))
	}
}

func TestSyncCreatesAndMerges(t *testing.T) {
	svc, _, _ := newTestService(t)
	existing := createOrder(t, svc)

	incoming := existing
	incoming.CustomerName = "Offline Edit"
	incoming.OrderNumber = 0
	incoming.CreatedAtMs = 0

	resp, err := svc.SyncOrders(crewCtx(), domain.SyncRequest{Orders: []domain.Order{
		incoming,
		{ID: "offline-1", OrderType: domain.OrderTypeTakeOut, Items: []domain.OrderItem{{ID: "i1", Name: "Americano", Price: 95, Quantity: 1, Status: domain.ItemStatusPending}}},
		{},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %+v", resp)
	}
	if resp.Statuses[0].Status != "merged" || resp.Statuses[1].Status != "created" || resp.Statuses[2].Status != "rejected" {
		t.Fatalf("unexpected statuses: %+v", resp.Statuses)
	}

	merged, err := svc.GetOrder(crewCtx(), existing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if merged.CustomerName != "Offline Edit" {
		t.Fatal("incoming document should win")
	}
	if merged.OrderNumber != existing.OrderNumber || merged.CreatedAtMs != existing.CreatedAtMs {
		t.Fatal("server-assigned number and creation time must survive the merge")
	}

	created, err := svc.GetOrder(crewCtx(), "offline-1")
	if err != nil {
		t.Fatal(err)
	}
	if created.OrderNumber == 0 || created.BranchID != "main" {
		t.Fatalf("synced creation should get a number and branch: %+v", created)
	}
}

func TestOrdersUpdatedSince(t *testing.T) {
	svc, _, _ := newTestService(t)
	before := time.Now().UTC().UnixMilli() - 1

	order := createOrder(t, svc)
	updated, err := svc.OrdersUpdatedSince(crewCtx(), "main", before)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated) != 1 || updated[0].ID != order.ID {
		t.Fatalf("expected the new order past the watermark, got %+v", updated)
	}

	later, err := svc.OrdersUpdatedSince(crewCtx(), "main", updated[0].UpdatedAtMs)
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 0 {
		t.Fatalf("expected nothing past the latest watermark, got %+v", later)
	}
}

func TestMutationsInvalidateBranchPrefixSynchronously(t *testing.T) {
	svc, rc, _ := newTestService(t)

	order := createOrder(t, svc)
	rc.mu.Lock()
	count := len(rc.prefixes)
	rc.mu.Unlock()
	if count == 0 || rc.prefixes[0] != "orders:main:" {
		t.Fatalf("create should invalidate the branch prefix, got %+v", rc.prefixes)
	}

	if _, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{IsPaid: true, PaymentMethod: domain.PayMethodCash}); err != nil {
		t.Fatal(err)
	}
	rc.mu.Lock()
	after := len(rc.prefixes)
	rc.mu.Unlock()
	if after != count+1 {
		t.Fatalf("payment should invalidate exactly once more, got %d -> %d", count, after)
	}
}

func TestOrderEventsPublished(t *testing.T) {
	svc, _, rn := newTestService(t)

	order := createOrder(t, svc)
	if _, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{IsPaid: true, PaymentMethod: domain.PayMethodCash}); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteOrder(adminCtx(), order.ID); err != nil {
		t.Fatal(err)
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if len(rn.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rn.events))
	}
	types := []string{rn.events[0].Type, rn.events[1].Type, rn.events[2].Type}
	if types[0] != events.OrderCreated || types[1] != events.OrderUpdated || types[2] != events.OrderDeleted {
		t.Fatalf("unexpected event types: %v", types)
	}
	if rn.events[0].Order.ID != order.ID {
		t.Fatal("events should carry the full order document")
	}
}

func TestInsightsOverServiceData(t *testing.T) {
	svc, _, _ := newTestService(t)

	order := createOrder(t, svc, domain.OrderItemInput{MenuItemID: "americano", Name: "Americano", Price: 95, Quantity: 2})
	if _, err := svc.SetOrderPayment(crewCtx(), order.ID, domain.PaymentRequest{IsPaid: true, PaymentMethod: domain.PayMethodCash}); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Insights(crewCtx(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if report.OrderCount != 1 || report.Revenue != 190 {
		t.Fatalf("unexpected insights: orders=%d revenue=%v", report.OrderCount, report.Revenue)
	}
	if len(report.Items) != 1 || report.Items[0].Key != "americano" {
		t.Fatalf("unexpected items: %+v", report.Items)
	}
}

func TestRecalculateStatsReplaysCompletedOrders(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)
	if _, err := svc.UpdateItemStatus(crewCtx(), order.ID, order.Items[0].ID, domain.ItemStatusRequest{Status: domain.ItemStatusServed}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RecalculateStats(crewCtx(), "main"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for crew, got %v", err)
	}
	stats, err := svc.RecalculateStats(adminCtx(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if stats.CompletedOrders != 1 {
		t.Fatalf("expected 1 completed order, got %+v", stats)
	}
}

func TestUpdateOrderPaidToggleAndAppendedReplace(t *testing.T) {
	svc, _, _ := newTestService(t)
	order := createOrder(t, svc)

	paid := true
	updated, err := svc.UpdateOrder(crewCtx(), order.ID, domain.OrderUpdateRequest{IsPaid: &paid})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.IsPaid || updated.PaymentMethod != domain.PayMethodCash {
		t.Fatalf("paid toggle should default to cash, got %+v", updated.Payment)
	}
	if updated.PaidAmount != updated.MainTotal() {
		t.Fatalf("paid amount should be the item total, got %v", updated.PaidAmount)
	}

	// Toggling a paid order again must not clobber the recorded payment.
	settled, err := svc.UpdateOrder(crewCtx(), order.ID, domain.OrderUpdateRequest{IsPaid: &paid})
	if err != nil {
		t.Fatal(err)
	}
	if settled.Payment != updated.Payment {
		t.Fatalf("repeated toggle changed the payment: %+v", settled.Payment)
	}

	unpaid := false
	cleared, err := svc.UpdateOrder(crewCtx(), order.ID, domain.OrderUpdateRequest{IsPaid: &unpaid})
	if err != nil {
		t.Fatal(err)
	}
	if cleared.Payment != (domain.Payment{}) {
		t.Fatalf("unpaid toggle should clear the payment, got %+v", cleared.Payment)
	}

	replacement := []domain.AppendedOrder{{
		ID:    "app-replay-1",
		Items: []domain.OrderItem{{ID: "itm-x", Name: "Banana Bread", Price: 75, Quantity: 1, Status: domain.ItemStatusPending}},
	}}
	withAppended, err := svc.UpdateOrder(crewCtx(), order.ID, domain.OrderUpdateRequest{AppendedOrders: &replacement})
	if err != nil {
		t.Fatal(err)
	}
	if len(withAppended.AppendedOrders) != 1 || withAppended.AppendedOrders[0].ID != "app-replay-1" {
		t.Fatalf("appended orders not replaced: %+v", withAppended.AppendedOrders)
	}
}

func TestRecalculateStatsCountsZeroWaitOrders(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin")
	t.Setenv("SEED_CREW_PASSWORD", "test-crew")
	repo := memory.NewSeeded()
	svc := New(repo, &recordingCache{}, &recordingNotifier{}, "main", 30*time.Second, [2]string{"mara", "jojo"})

	// Served within the same millisecond it was created.
	at := time.Now().UTC().UnixMilli()
	order := domain.Order{
		ID:          "ord-instant",
		BranchID:    "main",
		OrderNumber: 1,
		OrderType:   domain.OrderTypeDineIn,
		Items: []domain.OrderItem{
			{ID: "itm-1", Name: "Americano", Price: 95, Quantity: 1, Status: domain.ItemStatusServed, ServedAtMs: at},
		},
		CreatedAtMs:        at,
		UpdatedAtMs:        at,
		AllItemsServedAtMs: at,
	}
	if err := repo.CreateOrder(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.RecalculateStats(adminCtx(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if stats.CompletedOrders != 1 {
		t.Fatalf("zero-wait order must still count, got %+v", stats)
	}
	if stats.TotalWaitTimeMs != 0 || stats.AvgWaitTimeMs != 0 {
		t.Fatalf("expected zero wait, got %+v", stats)
	}
}

func TestSyncInvalidatesEveryTouchedBranch(t *testing.T) {
	svc, rc, _ := newTestService(t)

	resp, err := svc.SyncOrders(crewCtx(), domain.SyncRequest{Orders: []domain.Order{
		{
			ID:          "ord-b2-1",
			BranchID:    "branch-2",
			OrderType:   domain.OrderTypeDineIn,
			Items:       []domain.OrderItem{{ID: "itm-1", Name: "Americano", Price: 95, Quantity: 1, Status: domain.ItemStatusPending}},
			CreatedAtMs: time.Now().UTC().UnixMilli(),
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Statuses[0].Status != "created" {
		t.Fatalf("expected created, got %+v", resp.Statuses)
	}

	seen := map[string]bool{}
	for _, prefix := range rc.prefixes {
		seen[prefix] = true
	}
	if !seen["orders:branch-2:"] {
		t.Fatalf("branch the order landed in was not invalidated: %v", rc.prefixes)
	}
	if !seen["orders:main:"] {
		t.Fatalf("request branch should be invalidated too: %v", rc.prefixes)
	}
}
