package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"kapehan/backend/internal/busday"
	"kapehan/backend/internal/cache"
	"kapehan/backend/internal/domain"
	"kapehan/backend/internal/events"
	"kapehan/backend/internal/insights"
	"kapehan/backend/internal/reports"
	"kapehan/backend/internal/store"
	"kapehan/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	reportCache     cache.ReportCache
	notifier        events.Notifier
	defaultBranchID string
	cacheTTL        time.Duration
	owners          [2]string
}

func New(repo store.Repository, reportCache cache.ReportCache, notifier events.Notifier, defaultBranchID string, cacheTTL time.Duration, owners [2]string) *Service {
	if defaultBranchID == "" {
		defaultBranchID = "main"
	}
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if notifier == nil {
		notifier = events.NoopNotifier{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if owners[0] == "" {
		owners[0] = "owner-a"
	}
	if owners[1] == "" {
		owners[1] = "owner-b"
	}

	return &Service{
		repo:            repo,
		reportCache:     reportCache,
		notifier:        notifier,
		defaultBranchID: defaultBranchID,
		cacheTTL:        cacheTTL,
		owners:          owners,
	}
}

func (s *Service) DefaultBranchID() string {
	return s.defaultBranchID
}

// --- orders ---

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.OrderType = strings.TrimSpace(req.OrderType)
	if req.OrderType != domain.OrderTypeDineIn && req.OrderType != domain.OrderTypeTakeOut {
		return domain.Order{}, fmt.Errorf("%w: order_type must be dine-in or take-out", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order needs at least one item", store.ErrValidation)
	}

	items, err := s.buildItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC().UnixMilli()
	createdAt := req.CreatedAtMs
	if createdAt == 0 {
		createdAt = now
	}

	number, err := s.repo.NextOrderNumber(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:           req.ID,
		BranchID:     req.BranchID,
		OrderNumber:  number,
		CustomerName: strings.TrimSpace(req.CustomerName),
		OrderType:    req.OrderType,
		Items:        items,
		Notes:        req.Notes,
		CreatedAtMs:  createdAt,
		UpdatedAtMs:  now,
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderCreated, order)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, store.ErrNotFound
	}
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.BranchID == "" {
		filter.BranchID = s.defaultBranchID
	}

	key := s.cacheKey(filter.BranchID, "list", fmt.Sprintf("%v|%s|%s|%d|%s", ptrBool(filter.IsPaid), filter.Status, filter.CustomerName, filter.Limit, filter.Sort))
	if payload, ok := s.cacheGet(ctx, key); ok {
		var orders []domain.Order
		if err := json.Unmarshal(payload, &orders); err == nil {
			return orders, nil
		}
	}

	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, orders)
	return orders, nil
}

func (s *Service) UpdateOrder(ctx context.Context, id string, req domain.OrderUpdateRequest) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if req.CustomerName != nil {
		order.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.OrderType != nil {
		orderType := strings.TrimSpace(*req.OrderType)
		if orderType != domain.OrderTypeDineIn && orderType != domain.OrderTypeTakeOut {
			return domain.Order{}, fmt.Errorf("%w: order_type must be dine-in or take-out", store.ErrValidation)
		}
		order.OrderType = orderType
	}
	if req.Items != nil {
		if len(*req.Items) == 0 {
			return domain.Order{}, fmt.Errorf("%w: order needs at least one item", store.ErrValidation)
		}
		items, err := s.rebuildItems(ctx, order.Items, *req.Items)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = items
	}
	if req.Notes != nil {
		order.Notes = *req.Notes
	}
	if req.AppendedOrders != nil {
		order.AppendedOrders = *req.AppendedOrders
	}
	if req.IsPaid != nil {
		if !*req.IsPaid {
			order.Payment = domain.Payment{}
		} else if !order.IsPaid {
			method := order.PaymentMethod
			if method == "" {
				method = domain.PayMethodCash
			}
			order.Payment = domain.Payment{
				IsPaid:        true,
				PaymentMethod: method,
				PaidAmount:    round2(order.MainTotal()),
			}
		}
	}
	order.UpdatedAtMs = time.Now().UTC().UnixMilli()

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderUpdated, order)
	return order, nil
}

func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}

	actor, _ := ActorFromContext(ctx)
	log.Printf("[service] order %s deleted by %s", id, actor.Username)
	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderDeleted, order)
	return nil
}

func (s *Service) AppendOrder(ctx context.Context, orderID string, req domain.AppendOrderRequest) (domain.Order, error) {
	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: appended order needs at least one item", store.ErrValidation)
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	items, err := s.buildItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC().UnixMilli()
	order.AppendedOrders = append(order.AppendedOrders, domain.AppendedOrder{
		ID:          xid.New("app"),
		Items:       items,
		CreatedAtMs: now,
	})
	// Late additions reopen the bill: the all-served stamp only exists once
	// every item including the new ones is served, and it is set exactly once.
	order.UpdatedAtMs = now

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderUpdated, order)
	return order, nil
}

func (s *Service) DeleteAppendedOrder(ctx context.Context, orderID string, appendedID string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	idx := -1
	for i, app := range order.AppendedOrders {
		if app.ID == appendedID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Order{}, fmt.Errorf("%w: appended order %s", store.ErrNotFound, appendedID)
	}
	if order.AppendedOrders[idx].IsPaid {
		if err := s.requireAdmin(ctx); err != nil {
			return domain.Order{}, fmt.Errorf("%w: paid appended orders can only be removed by an admin", store.ErrForbidden)
		}
	}

	order.AppendedOrders = append(order.AppendedOrders[:idx], order.AppendedOrders[idx+1:]...)
	order.UpdatedAtMs = time.Now().UTC().UnixMilli()

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderUpdated, order)
	return order, nil
}

func (s *Service) UpdateItemStatus(ctx context.Context, orderID string, itemID string, req domain.ItemStatusRequest) (domain.Order, error) {
	status := strings.TrimSpace(req.Status)
	switch status {
	case domain.ItemStatusPending, domain.ItemStatusPreparing, domain.ItemStatusReady, domain.ItemStatusServed:
	default:
		return domain.Order{}, fmt.Errorf("%w: unknown item status %q", store.ErrValidation, req.Status)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	crew := strings.TrimSpace(req.CrewName)
	if crew == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			crew = actor.Username
		}
	}
	now := time.Now().UTC().UnixMilli()

	item := findItem(&order, itemID)
	if item == nil {
		return domain.Order{}, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}

	// Status itself is an overwrite; the timestamps are first-write-wins so
	// walking an item backwards never rewrites history.
	item.Status = status
	switch status {
	case domain.ItemStatusPreparing:
		if item.PreparingAtMs == 0 {
			item.PreparingAtMs = now
		}
		if item.PreparedBy == "" {
			item.PreparedBy = crew
		}
	case domain.ItemStatusReady:
		if item.ReadyAtMs == 0 {
			item.ReadyAtMs = now
		}
	case domain.ItemStatusServed:
		if item.ServedAtMs == 0 {
			item.ServedAtMs = now
		}
		if item.ServedBy == "" {
			item.ServedBy = crew
		}
	}

	if order.AllItemsServedAtMs == 0 && order.AllServed() {
		order.AllItemsServedAtMs = now
		s.recordCompletion(ctx, order.BranchID, now-order.CreatedAtMs)
	}
	order.UpdatedAtMs = now

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderUpdated, order)
	return order, nil
}

// findItem locates an item across the main order and every appended order,
// returning a pointer into the order document.
func findItem(order *domain.Order, itemID string) *domain.OrderItem {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return &order.Items[i]
		}
	}
	for a := range order.AppendedOrders {
		items := order.AppendedOrders[a].Items
		for i := range items {
			if items[i].ID == itemID {
				return &items[i]
			}
		}
	}
	return nil
}

// --- payments ---

func (s *Service) SetOrderPayment(ctx context.Context, orderID string, req domain.PaymentRequest) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !req.IsPaid {
		order.Payment = domain.Payment{}
	} else {
		validationTotal := order.MainTotal()
		if req.WholeOrder {
			validationTotal += order.UnpaidAppendedTotal()
		}
		payment, err := buildPayment(req, order.MainTotal(), validationTotal)
		if err != nil {
			return domain.Order{}, err
		}
		order.Payment = payment
		if req.WholeOrder {
			for i := range order.AppendedOrders {
				app := &order.AppendedOrders[i]
				if app.IsPaid {
					continue
				}
				app.Payment = domain.Payment{
					IsPaid:        true,
					PaymentMethod: payment.PaymentMethod,
					PaidAmount:    round2(domain.ItemsTotal(app.Items)),
				}
			}
		}
	}
	order.UpdatedAtMs = time.Now().UTC().UnixMilli()

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderUpdated, order)
	return order, nil
}

func (s *Service) SetAppendedPayment(ctx context.Context, orderID string, appendedID string, req domain.PaymentRequest) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var app *domain.AppendedOrder
	for i := range order.AppendedOrders {
		if order.AppendedOrders[i].ID == appendedID {
			app = &order.AppendedOrders[i]
			break
		}
	}
	if app == nil {
		return domain.Order{}, fmt.Errorf("%w: appended order %s", store.ErrNotFound, appendedID)
	}

	if !req.IsPaid {
		app.Payment = domain.Payment{}
	} else {
		total := domain.ItemsTotal(app.Items)
		payment, err := buildPayment(req, total, total)
		if err != nil {
			return domain.Order{}, err
		}
		app.Payment = payment
	}
	order.UpdatedAtMs = time.Now().UTC().UnixMilli()

	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.invalidate(ctx, order.BranchID)
	s.publish(ctx, events.OrderUpdated, order)
	return order, nil
}

// buildPayment validates a mark-paid request. itemTotal becomes paidAmount;
// validationTotal is what a split breakdown must add up to, which exceeds
// itemTotal only for whole-order payments covering unpaid appended orders.
func buildPayment(req domain.PaymentRequest, itemTotal float64, validationTotal float64) (domain.Payment, error) {
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = domain.PayMethodCash
	}

	payment := domain.Payment{
		IsPaid:        true,
		PaymentMethod: method,
		PaidAmount:    round2(itemTotal),
	}
	if req.AmountReceived > 0 {
		payment.AmountReceived = req.AmountReceived
	}

	switch method {
	case domain.PayMethodCash, domain.PayMethodGcash:
		return payment, nil
	case domain.PayMethodSplit:
		split := req.CashAmount + req.GcashAmount
		// Measured in tenths of a cent so float noise in the sum can neither
		// mask a one-cent shortfall nor reject a half-cent rounding artifact.
		if math.Round(math.Abs(split-validationTotal)*1000) > domain.SplitEpsilon*1000 {
			return domain.Payment{}, fmt.Errorf("%w: split amounts total %.2f but order total is %.2f", store.ErrValidation, split, validationTotal)
		}
		payment.CashAmount = req.CashAmount
		payment.GcashAmount = req.GcashAmount
		return payment, nil
	default:
		return domain.Payment{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}
}

// --- withdrawals ---

func (s *Service) CreateWithdrawal(ctx context.Context, req domain.WithdrawalCreateRequest) (domain.Withdrawal, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Withdrawal{}, err
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.Type != domain.WithdrawalTypeWithdrawal && req.Type != domain.WithdrawalTypePurchase {
		return domain.Withdrawal{}, fmt.Errorf("%w: type must be withdrawal or purchase", store.ErrValidation)
	}
	if req.PaymentMethod != domain.PayMethodCash && req.PaymentMethod != domain.PayMethodGcash {
		return domain.Withdrawal{}, fmt.Errorf("%w: payment_method must be cash or gcash", store.ErrValidation)
	}
	if req.Amount <= 0 {
		return domain.Withdrawal{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	chargedTo := strings.TrimSpace(req.ChargedTo)
	if chargedTo != domain.ChargedToAll && chargedTo != s.owners[0] && chargedTo != s.owners[1] {
		return domain.Withdrawal{}, fmt.Errorf("%w: charged_to must be %s, %s or %s", store.ErrValidation, s.owners[0], s.owners[1], domain.ChargedToAll)
	}

	w := domain.Withdrawal{
		ID:            xid.New("wd"),
		BranchID:      req.BranchID,
		Type:          req.Type,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		ChargedTo:     chargedTo,
		Note:          strings.TrimSpace(req.Note),
		CreatedAtMs:   time.Now().UTC().UnixMilli(),
	}
	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return domain.Withdrawal{}, err
	}

	actor, _ := ActorFromContext(ctx)
	log.Printf("[service] %s of %.2f (%s) charged to %s recorded by %s", w.Type, w.Amount, w.PaymentMethod, w.ChargedTo, actor.Username)
	s.invalidate(ctx, w.BranchID)
	return w, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, branchID string, fromDate, toDate string) ([]domain.Withdrawal, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	fromMs, toMs, err := dateRangeBounds(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawalsBetween(ctx, branchID, fromMs, toMs)
}

// --- daily sales ---

func (s *Service) DailySales(ctx context.Context, branchID string, fromDate, toDate string, page, perPage int) (domain.DailySalesPage, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 60 {
		perPage = 14
	}

	key := s.cacheKey(branchID, "daily", fmt.Sprintf("%s|%s|%d|%d", fromDate, toDate, page, perPage))
	if payload, ok := s.cacheGet(ctx, key); ok {
		var cached domain.DailySalesPage
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	days, err := s.buildDailySales(ctx, branchID, fromDate, toDate)
	if err != nil {
		return domain.DailySalesPage{}, err
	}

	total := len(days)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	result := domain.DailySalesPage{
		Days:      days[start:end],
		Page:      page,
		PerPage:   perPage,
		TotalDays: total,
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// DailySalesRange returns every day in the range unpaginated, for the CSV
// export.
func (s *Service) DailySalesRange(ctx context.Context, branchID string, fromDate, toDate string) ([]domain.DailySales, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.buildDailySales(ctx, branchID, fromDate, toDate)
}

func (s *Service) buildDailySales(ctx context.Context, branchID string, fromDate, toDate string) ([]domain.DailySales, error) {
	fromMs, toMs, err := dateRangeBounds(fromDate, toDate)
	if err != nil {
		return nil, err
	}

	orders, err := s.repo.ListOrdersBetween(ctx, branchID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	withdrawals, err := s.repo.ListWithdrawalsBetween(ctx, branchID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	menuIndex, err := s.menuIndex(ctx)
	if err != nil {
		return nil, err
	}

	days := reports.Build(reports.Inputs{
		BranchID:    branchID,
		Orders:      orders,
		Withdrawals: withdrawals,
		Menu:        menuIndex,
		Owners:      s.owners,
	})

	dates := make([]string, 0, len(days))
	for _, day := range days {
		dates = append(dates, day.Date)
	}
	validations, err := s.repo.GetDayValidations(ctx, branchID, dates)
	if err != nil {
		return nil, err
	}
	for i := range days {
		if v, ok := validations[days[i].Date]; ok {
			days[i].Validated = v.Validated
			days[i].ValidatedBy = v.ValidatedBy
		}
	}
	return days, nil
}

func (s *Service) ValidateDay(ctx context.Context, branchID string, date string, validated bool) (domain.DayValidation, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.DayValidation{}, err
	}
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if _, ok := busday.StartOfDate(date); !ok {
		return domain.DayValidation{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}

	actor, _ := ActorFromContext(ctx)
	v := domain.DayValidation{
		BranchID:      branchID,
		Date:          date,
		Validated:     validated,
		ValidatedBy:   actor.Username,
		ValidatedAtMs: time.Now().UTC().UnixMilli(),
	}
	if err := s.repo.SetDayValidation(ctx, v); err != nil {
		return domain.DayValidation{}, err
	}

	log.Printf("[service] day %s/%s validated=%t by %s", branchID, date, validated, actor.Username)
	s.invalidate(ctx, branchID)
	return v, nil
}

// PurgeDay deletes every order and withdrawal of one business day. The two
// deletes are not atomic with each other; a failure in between leaves the
// withdrawals in place, which the caller sees in the returned error.
func (s *Service) PurgeDay(ctx context.Context, branchID string, date string) (int, int, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return 0, 0, err
	}
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	fromMs, toMs, ok := busday.Bounds(date)
	if !ok {
		return 0, 0, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}

	orders, err := s.repo.DeleteOrdersBetween(ctx, branchID, fromMs, toMs)
	if err != nil {
		return 0, 0, err
	}
	withdrawals, err := s.repo.DeleteWithdrawalsBetween(ctx, branchID, fromMs, toMs)
	if err != nil {
		return orders, 0, err
	}

	actor, _ := ActorFromContext(ctx)
	log.Printf("[service] day %s/%s purged by %s: %d orders, %d withdrawals", branchID, date, actor.Username, orders, withdrawals)
	s.invalidate(ctx, branchID)
	return orders, withdrawals, nil
}

// --- insights ---

func (s *Service) Insights(ctx context.Context, branchID string) (domain.InsightsReport, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	key := s.cacheKey(branchID, "insights", "90d")
	if payload, ok := s.cacheGet(ctx, key); ok {
		var cached domain.InsightsReport
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	now := time.Now().UTC().UnixMilli()
	windowStart := now - int64(insights.WindowDays)*24*3600*1000
	orders, err := s.repo.ListOrdersBetween(ctx, branchID, windowStart, now+1)
	if err != nil {
		return domain.InsightsReport{}, err
	}

	report := insights.Build(insights.Inputs{BranchID: branchID, Orders: orders, NowMs: now})
	s.cacheSet(ctx, key, report)
	return report, nil
}

// --- stats ---

func (s *Service) BranchStats(ctx context.Context, branchID string) (domain.BranchStats, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	stats, err := s.repo.GetBranchStats(ctx, branchID)
	if err != nil {
		return domain.BranchStats{}, err
	}
	if stats.CompletedOrders > 0 {
		stats.AvgWaitTimeMs = stats.TotalWaitTimeMs / stats.CompletedOrders
	}
	return stats, nil
}

// RecalculateStats rebuilds the wait-time aggregate from scratch by replaying
// every completed order, for when the incremental counters have drifted.
func (s *Service) RecalculateStats(ctx context.Context, branchID string) (domain.BranchStats, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.BranchStats{}, err
	}
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{BranchID: branchID})
	if err != nil {
		return domain.BranchStats{}, err
	}

	stats := domain.BranchStats{BranchID: branchID}
	for _, order := range orders {
		if order.AllItemsServedAtMs == 0 {
			continue
		}
		// Clamp like recordCompletion does, so an order served within the
		// same millisecond it was created still counts as completed.
		wait := order.AllItemsServedAtMs - order.CreatedAtMs
		if wait < 0 {
			wait = 0
		}
		stats.TotalWaitTimeMs += wait
		stats.CompletedOrders++
	}
	if err := s.repo.PutBranchStats(ctx, stats); err != nil {
		return domain.BranchStats{}, err
	}
	if stats.CompletedOrders > 0 {
		stats.AvgWaitTimeMs = stats.TotalWaitTimeMs / stats.CompletedOrders
	}

	actor, _ := ActorFromContext(ctx)
	log.Printf("[service] stats recalculated for %s by %s: %d completed orders", branchID, actor.Username, stats.CompletedOrders)
	return stats, nil
}

func (s *Service) recordCompletion(ctx context.Context, branchID string, waitMs int64) {
	if waitMs < 0 {
		waitMs = 0
	}
	stats, err := s.repo.GetBranchStats(ctx, branchID)
	if err != nil {
		log.Printf("[service] WARN: failed to load branch stats for %s: %v", branchID, err)
		return
	}
	stats.TotalWaitTimeMs += waitMs
	stats.CompletedOrders++
	if err := s.repo.PutBranchStats(ctx, stats); err != nil {
		log.Printf("[service] WARN: failed to save branch stats for %s: %v", branchID, err)
	}
}

// --- offline sync ---

// SyncOrders applies a batch of offline-created or offline-mutated orders.
// The last writer's document wins: an incoming order whose id already exists
// replaces the stored document wholesale, keeping only the server-assigned
// order number and creation time when the payload omits them.
func (s *Service) SyncOrders(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error) {
	branchID := req.BranchID
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	resp := domain.SyncResponse{Statuses: make([]domain.SyncStatus, 0, len(req.Orders))}
	now := time.Now().UTC().UnixMilli()
	// Accepted orders may carry branch ids other than the request's; every
	// touched branch gets invalidated before the response returns.
	touched := map[string]struct{}{branchID: {}}

	for _, incoming := range req.Orders {
		if incoming.ID == "" {
			resp.Statuses = append(resp.Statuses, domain.SyncStatus{Status: "rejected", Reason: "missing order id"})
			continue
		}
		if incoming.BranchID == "" {
			incoming.BranchID = branchID
		}
		if incoming.CreatedAtMs == 0 {
			incoming.CreatedAtMs = now
		}
		incoming.UpdatedAtMs = now

		existing, err := s.repo.GetOrder(ctx, incoming.ID)
		if err == nil {
			if incoming.OrderNumber == 0 {
				incoming.OrderNumber = existing.OrderNumber
			}
			incoming.CreatedAtMs = existing.CreatedAtMs
			if err := s.repo.UpdateOrder(ctx, incoming); err != nil {
				resp.Statuses = append(resp.Statuses, domain.SyncStatus{OrderID: incoming.ID, Status: "rejected", Reason: err.Error()})
				continue
			}
			resp.Statuses = append(resp.Statuses, domain.SyncStatus{OrderID: incoming.ID, Status: "merged"})
			touched[incoming.BranchID] = struct{}{}
			s.publish(ctx, events.OrderUpdated, incoming)
			continue
		}

		if incoming.OrderNumber == 0 {
			number, err := s.repo.NextOrderNumber(ctx)
			if err != nil {
				resp.Statuses = append(resp.Statuses, domain.SyncStatus{OrderID: incoming.ID, Status: "rejected", Reason: err.Error()})
				continue
			}
			incoming.OrderNumber = number
		}
		if err := s.repo.CreateOrder(ctx, incoming); err != nil {
			resp.Statuses = append(resp.Statuses, domain.SyncStatus{OrderID: incoming.ID, Status: "rejected", Reason: err.Error()})
			continue
		}
		resp.Statuses = append(resp.Statuses, domain.SyncStatus{OrderID: incoming.ID, Status: "created"})
		touched[incoming.BranchID] = struct{}{}
		s.publish(ctx, events.OrderCreated, incoming)
	}

	for branch := range touched {
		s.invalidate(ctx, branch)
	}
	return resp, nil
}

func (s *Service) OrdersUpdatedSince(ctx context.Context, branchID string, sinceMs int64) ([]domain.Order, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.repo.ListOrdersUpdatedSince(ctx, branchID, sinceMs)
}

// --- menu ---

func (s *Service) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	return s.repo.ListMenuItems(ctx)
}

func (s *Service) CreateMenuItem(ctx context.Context, req domain.MenuItemCreateRequest) (domain.MenuItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MenuItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Owner = strings.TrimSpace(req.Owner)
	if req.Name == "" || req.Category == "" || req.Owner == "" || req.Price < 0 {
		return domain.MenuItem{}, fmt.Errorf("%w: name, category, owner and a non-negative price are required", store.ErrValidation)
	}
	if req.Owner != s.owners[0] && req.Owner != s.owners[1] {
		return domain.MenuItem{}, fmt.Errorf("%w: owner must be %s or %s", store.ErrValidation, s.owners[0], s.owners[1])
	}

	item := domain.MenuItem{
		ID:       req.ID,
		Name:     req.Name,
		Category: req.Category,
		Owner:    req.Owner,
		Price:    req.Price,
		Active:   true,
	}
	if item.ID == "" {
		item.ID = slug(req.Name)
	}
	if err := s.repo.CreateMenuItem(ctx, item); err != nil {
		return domain.MenuItem{}, err
	}
	return item, nil
}

func (s *Service) UpdateMenuItem(ctx context.Context, id string, req domain.MenuItemUpdateRequest) (domain.MenuItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MenuItem{}, err
	}

	item, err := s.repo.GetMenuItem(ctx, id)
	if err != nil {
		return domain.MenuItem{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.MenuItem{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		item.Name = name
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.Owner != nil {
		owner := strings.TrimSpace(*req.Owner)
		if owner != s.owners[0] && owner != s.owners[1] {
			return domain.MenuItem{}, fmt.Errorf("%w: owner must be %s or %s", store.ErrValidation, s.owners[0], s.owners[1])
		}
		item.Owner = owner
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return domain.MenuItem{}, fmt.Errorf("%w: price must not be negative", store.ErrValidation)
		}
		item.Price = *req.Price
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	// Menu price changes apply to new orders only; item prices on existing
	// orders are frozen snapshots.
	if err := s.repo.UpdateMenuItem(ctx, item); err != nil {
		return domain.MenuItem{}, err
	}
	return item, nil
}

// --- helpers ---

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return nil
}

// buildItems turns request lines into order items with frozen prices. A line
// that names a known menu item inherits the menu category, owner and, when
// the request omits one, the current menu price.
func (s *Service) buildItems(ctx context.Context, inputs []domain.OrderItemInput) ([]domain.OrderItem, error) {
	menuIndex, err := s.menuIndex(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(inputs))
	for _, input := range inputs {
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: item name is required", store.ErrValidation)
		}
		if input.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %s needs a positive quantity", store.ErrValidation, name)
		}
		if input.Price < 0 {
			return nil, fmt.Errorf("%w: item %s price must not be negative", store.ErrValidation, name)
		}

		item := domain.OrderItem{
			ID:         input.ID,
			MenuItemID: input.MenuItemID,
			Name:       name,
			Price:      input.Price,
			Quantity:   input.Quantity,
			Status:     domain.ItemStatusPending,
			Owner:      strings.TrimSpace(input.Owner),
			Category:   strings.TrimSpace(input.Category),
		}
		resolved := menuIndex.Lookup(item.MenuItemID, item.ID, name)
		if resolved != nil {
			if item.MenuItemID == "" {
				item.MenuItemID = resolved.ID
			}
			if item.Owner == "" {
				item.Owner = resolved.Owner
			}
			if item.Category == "" {
				item.Category = resolved.Category
			}
			if item.Price == 0 && resolved.Price > 0 {
				item.Price = resolved.Price
			}
		}
		if item.ID == "" {
			prefix := item.MenuItemID
			if prefix == "" {
				prefix = "itm"
			}
			item.ID = xid.New(prefix)
		}
		items = append(items, item)
	}
	return items, nil
}

// rebuildItems replaces an order's item list, carrying over status, crew
// attribution and timestamps for lines whose id survives the edit.
func (s *Service) rebuildItems(ctx context.Context, existing []domain.OrderItem, inputs []domain.OrderItemInput) ([]domain.OrderItem, error) {
	items, err := s.buildItems(ctx, inputs)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.OrderItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}
	for i := range items {
		prev, ok := byID[items[i].ID]
		if !ok {
			continue
		}
		items[i].Status = prev.Status
		items[i].PreparingAtMs = prev.PreparingAtMs
		items[i].ReadyAtMs = prev.ReadyAtMs
		items[i].ServedAtMs = prev.ServedAtMs
		items[i].PreparedBy = prev.PreparedBy
		items[i].ServedBy = prev.ServedBy
	}
	return items, nil
}

func (s *Service) menuIndex(ctx context.Context) (*reports.MenuIndex, error) {
	menu, err := s.repo.ListMenuItems(ctx)
	if err != nil {
		return nil, err
	}
	return reports.NewMenuIndex(menu), nil
}

func dateRangeBounds(fromDate, toDate string) (int64, int64, error) {
	if fromDate == "" || toDate == "" {
		// Default to the trailing 30 business days.
		now := time.Now().UTC()
		toDate = busday.DateOf(now.UnixMilli())
		fromDate = busday.DateOf(now.AddDate(0, 0, -30).UnixMilli())
	}
	fromMs, _, ok := busday.Bounds(fromDate)
	if !ok {
		return 0, 0, fmt.Errorf("%w: from date must be YYYY-MM-DD", store.ErrValidation)
	}
	_, toMs, ok := busday.Bounds(toDate)
	if !ok {
		return 0, 0, fmt.Errorf("%w: to date must be YYYY-MM-DD", store.ErrValidation)
	}
	if toMs <= fromMs {
		return 0, 0, fmt.Errorf("%w: date range is empty", store.ErrValidation)
	}
	return fromMs, toMs, nil
}

// invalidate drops every cached read model of the branch. It runs
// synchronously inside the mutation so the next read is guaranteed fresh.
func (s *Service) invalidate(ctx context.Context, branchID string) {
	if err := s.reportCache.DeletePrefix(ctx, "orders:"+branchID+":"); err != nil {
		log.Printf("[service] WARN: cache invalidation failed for %s: %v", branchID, err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, order domain.Order) {
	err := s.notifier.Publish(ctx, events.Event{
		Type:     eventType,
		BranchID: order.BranchID,
		Order:    order,
		AtMs:     time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		log.Printf("[service] WARN: event publish failed for order %s: %v", order.ID, err)
	}
}

func (s *Service) cacheKey(branchID, view, params string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(params))
	return "orders:" + branchID + ":" + view + ":" + strconv.FormatUint(h.Sum64(), 16)
}

func (s *Service) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	payload, ok, err := s.reportCache.Get(ctx, key)
	if err != nil {
		log.Printf("[service] WARN: cache read failed for %s: %v", key, err)
		return nil, false
	}
	return payload, ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.reportCache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: cache write failed for %s: %v", key, err)
	}
}

func ptrBool(b *bool) string {
	if b == nil {
		return "any"
	}
	return strconv.FormatBool(*b)
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
