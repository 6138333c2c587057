// Package reports builds daily sales figures from raw orders and withdrawals.
// It is pure compute: callers fetch the inputs, the engine never touches the
// store, so a rebuild over unchanged inputs is exactly reproducible.
package reports

import (
	"math"
	"sort"
	"strings"

	"kapehan/backend/internal/busday"
	"kapehan/backend/internal/domain"
	"kapehan/backend/internal/xid"
)

const Uncategorized = "uncategorized"

// MenuIndex resolves an order item to its menu entry for category and owner
// attribution. Lookup order: explicit menu-item reference on the item, the
// menu-item id embedded as the item id prefix, then a case-insensitive name
// match. Items that resolve nowhere stay uncategorized under the default
// owner so one unknown item never fails a whole report.
type MenuIndex struct {
	byID   map[string]domain.MenuItem
	byName map[string]domain.MenuItem
}

func NewMenuIndex(items []domain.MenuItem) *MenuIndex {
	idx := &MenuIndex{
		byID:   make(map[string]domain.MenuItem, len(items)),
		byName: make(map[string]domain.MenuItem, len(items)),
	}
	for _, item := range items {
		idx.byID[item.ID] = item
		idx.byName[strings.ToLower(item.Name)] = item
	}
	return idx
}

// Lookup finds a menu entry by explicit reference, item-id prefix, or
// case-insensitive name. Returns nil when nothing matches.
func (idx *MenuIndex) Lookup(menuItemID, itemID, name string) *domain.MenuItem {
	if menuItemID != "" {
		if menu, ok := idx.byID[menuItemID]; ok {
			return &menu
		}
	}
	if itemID != "" {
		if menu, ok := idx.byID[xid.Prefix(itemID)]; ok {
			return &menu
		}
	}
	if menu, ok := idx.byName[strings.ToLower(name)]; ok {
		return &menu
	}
	return nil
}

// Resolve returns the category and owner of an order item.
func (idx *MenuIndex) Resolve(item domain.OrderItem, defaultOwner string) (string, string) {
	category := item.Category
	owner := item.Owner
	if category != "" && owner != "" {
		return category, owner
	}

	var menu domain.MenuItem
	found := false
	if item.MenuItemID != "" {
		menu, found = idx.byID[item.MenuItemID]
	}
	if !found {
		menu, found = idx.byID[xid.Prefix(item.ID)]
	}
	if !found {
		menu, found = idx.byName[strings.ToLower(item.Name)]
	}

	if category == "" {
		category = menu.Category
		if category == "" {
			category = Uncategorized
		}
	}
	if owner == "" {
		owner = menu.Owner
		if owner == "" {
			owner = defaultOwner
		}
	}
	return category, owner
}

// Inputs is everything one Build call consumes.
type Inputs struct {
	BranchID    string
	Orders      []domain.Order
	Withdrawals []domain.Withdrawal
	Menu        *MenuIndex
	// Owners are the two proprietors sharing the branch. A withdrawal
	// charged to "all" splits 50/50 between them. Owners[0] is the default
	// attribution when an item resolves to no owner at all.
	Owners [2]string
}

// Build aggregates per business day, newest day first. Total sales is always
// the sum of item totals of paid orders and paid appended orders; payment
// amounts only drive the cash/gcash routing, never the sales figure itself.
func Build(in Inputs) []domain.DailySales {
	days := make(map[string]*domain.DailySales)

	bucket := func(date string) *domain.DailySales {
		day, ok := days[date]
		if !ok {
			day = &domain.DailySales{
				Date:            date,
				BranchID:        in.BranchID,
				ItemsByCategory: make(map[string]map[string]domain.CategoryItemSales),
				ByOwner:         make(map[string]domain.OwnerSales),
			}
			days[date] = day
		}
		return day
	}

	for _, order := range in.Orders {
		date := busday.DateOf(order.CreatedAtMs)
		if order.IsPaid {
			day := bucket(date)
			day.OrderCount++
			addPaidItems(day, order.Items, in.Menu, in.Owners[0])
			routePayment(day, order.Payment, domain.ItemsTotal(order.Items))
		}
		// Appended orders settle on the parent order's bill, so they land in
		// the parent's business day even when paid after midnight.
		for _, app := range order.AppendedOrders {
			if !app.IsPaid {
				continue
			}
			day := bucket(date)
			addPaidItems(day, app.Items, in.Menu, in.Owners[0])
			routePayment(day, app.Payment, domain.ItemsTotal(app.Items))
		}
	}

	for _, w := range in.Withdrawals {
		day := bucket(busday.DateOf(w.CreatedAtMs))
		switch w.Type {
		case domain.WithdrawalTypePurchase:
			day.TotalPurchases += w.Amount
		default:
			day.TotalWithdrawals += w.Amount
		}
		if w.PaymentMethod == domain.PayMethodGcash {
			day.TotalGcash -= w.Amount
		} else {
			day.TotalCash -= w.Amount
		}
		chargeOwners(day, w, in.Owners)
	}

	result := make([]domain.DailySales, 0, len(days))
	for _, day := range days {
		finalize(day)
		result = append(result, *day)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date > result[j].Date
	})
	return result
}

// addPaidItems accumulates item totals into totalSales, the category map and
// the per-owner revenue lines.
func addPaidItems(day *domain.DailySales, items []domain.OrderItem, menu *MenuIndex, defaultOwner string) {
	for _, item := range items {
		lineTotal := item.Price * float64(item.Quantity)
		day.TotalSales += lineTotal

		category, owner := menu.Resolve(item, defaultOwner)
		byItem, ok := day.ItemsByCategory[category]
		if !ok {
			byItem = make(map[string]domain.CategoryItemSales)
			day.ItemsByCategory[category] = byItem
		}
		entry := byItem[item.Name]
		entry.Quantity += item.Quantity
		entry.Total += lineTotal
		byItem[item.Name] = entry

		ownerLine := day.ByOwner[owner]
		ownerLine.Revenue += lineTotal
		day.ByOwner[owner] = ownerLine
	}
}

// routePayment credits the cash/gcash buckets. Split payments use the
// recorded breakdown; cash and gcash route the item total whole. Orders
// predating method tracking have an empty method and count as cash.
func routePayment(day *domain.DailySales, p domain.Payment, itemTotal float64) {
	switch p.PaymentMethod {
	case domain.PayMethodSplit:
		day.TotalCash += p.CashAmount
		day.GrossCash += p.CashAmount
		day.TotalGcash += p.GcashAmount
		day.GrossGcash += p.GcashAmount
	case domain.PayMethodGcash:
		day.TotalGcash += itemTotal
		day.GrossGcash += itemTotal
	default:
		day.TotalCash += itemTotal
		day.GrossCash += itemTotal
	}
}

func chargeOwners(day *domain.DailySales, w domain.Withdrawal, owners [2]string) {
	apply := func(owner string, amount float64) {
		line := day.ByOwner[owner]
		if w.Type == domain.WithdrawalTypePurchase {
			line.Purchases += amount
		} else {
			line.Withdrawals += amount
		}
		day.ByOwner[owner] = line
	}
	if w.ChargedTo == domain.ChargedToAll {
		apply(owners[0], w.Amount/2)
		apply(owners[1], w.Amount/2)
		return
	}
	apply(w.ChargedTo, w.Amount)
}

func finalize(day *domain.DailySales) {
	day.NetSales = round2(day.TotalSales - day.TotalWithdrawals - day.TotalPurchases)
	day.TotalSales = round2(day.TotalSales)
	day.GrossCash = round2(day.GrossCash)
	day.GrossGcash = round2(day.GrossGcash)
	day.TotalCash = round2(day.TotalCash)
	day.TotalGcash = round2(day.TotalGcash)
	day.TotalWithdrawals = round2(day.TotalWithdrawals)
	day.TotalPurchases = round2(day.TotalPurchases)

	for category, byItem := range day.ItemsByCategory {
		for name, entry := range byItem {
			entry.Total = round2(entry.Total)
			byItem[name] = entry
		}
		day.ItemsByCategory[category] = byItem
	}
	for owner, line := range day.ByOwner {
		line.Revenue = round2(line.Revenue)
		line.Withdrawals = round2(line.Withdrawals)
		line.Purchases = round2(line.Purchases)
		line.Net = round2(line.Revenue - line.Withdrawals - line.Purchases)
		day.ByOwner[owner] = line
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
