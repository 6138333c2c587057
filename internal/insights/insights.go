// Package insights computes the 90-day business intelligence report: item
// performance, trade histograms, customer segments, co-occurrence pairs and
// rule-based alerts and recommendations. Pure compute over paid orders.
package insights

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"kapehan/backend/internal/busday"
	"kapehan/backend/internal/domain"
	"kapehan/backend/internal/xid"
)

const (
	WindowDays = 90

	trendThresholdPct    = 20
	salesDropAlertPct    = 15
	prepOutlierFactor    = 1.5
	aovDropAlertPct      = 10
	regularCustomerMin   = 5
	topListSize          = 5
	frequentPairsListLen = 5
)

type Inputs struct {
	BranchID string
	// Orders already filtered to the window; unpaid main orders still carry
	// paid appended orders, so they are passed through and filtered here.
	Orders []domain.Order
	NowMs  int64
}

type itemAccum struct {
	name         string
	quantity     int
	revenue      float64
	firstHalf    float64
	secondHalf   float64
	prepTotalMs  int64
	prepSamples  int64
}

// Build computes the report. Revenue follows the same items-based rule as the
// daily sales engine: paid main orders and paid appended orders count, by
// their item totals.
func Build(in Inputs) domain.InsightsReport {
	now := in.NowMs
	if now == 0 {
		now = time.Now().UTC().UnixMilli()
	}
	windowStart := now - int64(WindowDays)*24*3600*1000
	halfPoint := now - int64(WindowDays/2)*24*3600*1000
	recentStart := now - 7*24*3600*1000
	priorStart := now - 14*24*3600*1000

	items := make(map[string]*itemAccum)
	hourly := make(map[int]*domain.HourBucket)
	byWeekday := make(map[time.Weekday]*domain.DayOfWeekBucket)
	customers := make(map[string]*customerAccum)
	pairCounts := make(map[string]int)

	orderCount := 0
	totalRevenue := 0.0
	recentRevenue, priorRevenue := 0.0, 0.0
	recentOrders, priorOrders := 0, 0
	var prepTotalMs, prepSamples int64

	for _, order := range in.Orders {
		if order.CreatedAtMs < windowStart || order.CreatedAtMs > now {
			continue
		}

		orderRevenue := 0.0
		orderItems := make([]domain.OrderItem, 0, len(order.Items))
		if order.IsPaid {
			orderItems = append(orderItems, order.Items...)
		}
		for _, app := range order.AppendedOrders {
			if app.IsPaid {
				orderItems = append(orderItems, app.Items...)
			}
		}
		if len(orderItems) == 0 {
			continue
		}

		secondHalf := order.CreatedAtMs >= halfPoint
		seenKeys := make([]string, 0, len(orderItems))
		for _, item := range orderItems {
			key := itemKey(item)
			accum, ok := items[key]
			if !ok {
				accum = &itemAccum{name: item.Name}
				items[key] = accum
			}
			lineTotal := item.Price * float64(item.Quantity)
			accum.quantity += item.Quantity
			accum.revenue += lineTotal
			if secondHalf {
				accum.secondHalf += lineTotal
			} else {
				accum.firstHalf += lineTotal
			}
			if item.PreparingAtMs > 0 && item.ReadyAtMs > item.PreparingAtMs {
				prep := item.ReadyAtMs - item.PreparingAtMs
				accum.prepTotalMs += prep
				accum.prepSamples++
				prepTotalMs += prep
				prepSamples++
			}
			orderRevenue += lineTotal
			if !contains(seenKeys, key) {
				seenKeys = append(seenKeys, key)
			}
		}

		orderCount++
		totalRevenue += orderRevenue

		hour := busday.HourOf(order.CreatedAtMs)
		hb, ok := hourly[hour]
		if !ok {
			hb = &domain.HourBucket{Hour: hour}
			hourly[hour] = hb
		}
		hb.Orders++
		hb.Revenue += orderRevenue

		weekday := busday.StartOf(order.CreatedAtMs).Weekday()
		wb, ok := byWeekday[weekday]
		if !ok {
			wb = &domain.DayOfWeekBucket{Day: weekday.String()}
			byWeekday[weekday] = wb
		}
		wb.Orders++
		wb.Revenue += orderRevenue

		if name := strings.TrimSpace(order.CustomerName); name != "" {
			cust, ok := customers[strings.ToLower(name)]
			if !ok {
				cust = &customerAccum{name: name, items: make(map[string]struct{})}
				customers[strings.ToLower(name)] = cust
			}
			cust.orders++
			cust.revenue += orderRevenue
			for _, key := range seenKeys {
				cust.items[key] = struct{}{}
			}
		}

		sort.Strings(seenKeys)
		for i := 0; i < len(seenKeys); i++ {
			for j := i + 1; j < len(seenKeys); j++ {
				pairCounts[seenKeys[i]+"|"+seenKeys[j]]++
			}
		}

		if order.CreatedAtMs >= recentStart {
			recentRevenue += orderRevenue
			recentOrders++
		} else if order.CreatedAtMs >= priorStart {
			priorRevenue += orderRevenue
			priorOrders++
		}
	}

	report := domain.InsightsReport{
		BranchID:      in.BranchID,
		From:          busday.DateOf(windowStart),
		To:            busday.DateOf(now),
		WindowDays:    WindowDays,
		OrderCount:    orderCount,
		Revenue:       round2(totalRevenue),
		GeneratedAt:   time.UnixMilli(now).UTC().Format(time.RFC3339),
	}
	if orderCount > 0 {
		report.AvgOrderValue = round2(totalRevenue / float64(orderCount))
	}
	if prepSamples > 0 {
		report.AvgPrepTimeMs = prepTotalMs / prepSamples
	}
	report.RevenueTrendPct = trendPct(recentRevenue/7, priorRevenue/7)

	report.Items = buildItemInsights(items)
	report.TopByRevenue = topBy(report.Items, topListSize, func(a, b domain.ItemInsight) bool { return a.Revenue > b.Revenue })
	report.TopByQuantity = topBy(report.Items, topListSize, func(a, b domain.ItemInsight) bool { return a.Quantity > b.Quantity })
	report.BottomByRevenue = topBy(report.Items, topListSize, func(a, b domain.ItemInsight) bool { return a.Revenue < b.Revenue })
	report.Hourly = collectHourly(hourly)
	report.PeakHour = peakHour(report.Hourly)
	report.DayOfWeek = collectWeekdays(byWeekday)
	report.Customers = collectCustomers(customers)
	report.FrequentPairs = collectPairs(pairCounts, items)
	report.Alerts = buildAlerts(report, recentRevenue, priorRevenue, recentOrders, priorOrders)
	report.Recommendations = buildRecommendations(report)
	return report
}

type customerAccum struct {
	name    string
	orders  int
	revenue float64
	items   map[string]struct{}
}

// itemKey groups order lines that refer to the same menu item even across
// the id-convention generations.
func itemKey(item domain.OrderItem) string {
	if item.MenuItemID != "" {
		return item.MenuItemID
	}
	if prefix := xid.Prefix(item.ID); prefix != item.ID {
		return prefix
	}
	return strings.ToLower(item.Name)
}

func buildItemInsights(items map[string]*itemAccum) []domain.ItemInsight {
	result := make([]domain.ItemInsight, 0, len(items))
	for key, accum := range items {
		insight := domain.ItemInsight{
			Key:      key,
			Name:     accum.name,
			Quantity: accum.quantity,
			Revenue:  round2(accum.revenue),
			Trend:    domain.TrendSteady,
		}
		if accum.prepSamples > 0 {
			insight.AvgPrepTimeMs = accum.prepTotalMs / accum.prepSamples
		}
		// Trending needs real second-half trade; a discontinued item with
		// zero recent revenue is not "trending down", it is gone.
		if accum.secondHalf > 0 {
			insight.TrendPct = trendPct(accum.secondHalf, accum.firstHalf)
			switch {
			case insight.TrendPct > trendThresholdPct:
				insight.Trend = domain.TrendUp
			case insight.TrendPct < -trendThresholdPct:
				insight.Trend = domain.TrendDown
			}
		}
		result = append(result, insight)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Revenue == result[j].Revenue {
			return result[i].Key < result[j].Key
		}
		return result[i].Revenue > result[j].Revenue
	})
	return result
}

func topBy(items []domain.ItemInsight, n int, less func(a, b domain.ItemInsight) bool) []domain.ItemInsight {
	sorted := make([]domain.ItemInsight, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func collectHourly(hourly map[int]*domain.HourBucket) []domain.HourBucket {
	result := make([]domain.HourBucket, 0, len(hourly))
	for _, hb := range hourly {
		hb.Revenue = round2(hb.Revenue)
		result = append(result, *hb)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Hour < result[j].Hour })
	return result
}

func peakHour(hourly []domain.HourBucket) int {
	peak, best := 0, -1
	for _, hb := range hourly {
		if hb.Orders > best {
			best = hb.Orders
			peak = hb.Hour
		}
	}
	return peak
}

func collectWeekdays(buckets map[time.Weekday]*domain.DayOfWeekBucket) []domain.DayOfWeekBucket {
	result := make([]domain.DayOfWeekBucket, 0, len(buckets))
	for day := time.Sunday; day <= time.Saturday; day++ {
		if wb, ok := buckets[day]; ok {
			wb.Revenue = round2(wb.Revenue)
			result = append(result, *wb)
		}
	}
	return result
}

func collectCustomers(customers map[string]*customerAccum) []domain.CustomerInsight {
	result := make([]domain.CustomerInsight, 0, len(customers))
	for _, cust := range customers {
		segment := "new"
		switch {
		case cust.orders >= regularCustomerMin:
			segment = "regular"
		case cust.orders > 1:
			segment = "repeat"
		}
		result = append(result, domain.CustomerInsight{
			Name:        cust.name,
			Orders:      cust.orders,
			Revenue:     round2(cust.revenue),
			UniqueItems: len(cust.items),
			Segment:     segment,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Revenue == result[j].Revenue {
			return result[i].Name < result[j].Name
		}
		return result[i].Revenue > result[j].Revenue
	})
	return result
}

func collectPairs(pairCounts map[string]int, items map[string]*itemAccum) []domain.ItemPair {
	result := make([]domain.ItemPair, 0, len(pairCounts))
	for key, count := range pairCounts {
		if count < 2 {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		result = append(result, domain.ItemPair{
			ItemA: itemDisplayName(items, parts[0]),
			ItemB: itemDisplayName(items, parts[1]),
			Count: count,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count == result[j].Count {
			if result[i].ItemA == result[j].ItemA {
				return result[i].ItemB < result[j].ItemB
			}
			return result[i].ItemA < result[j].ItemA
		}
		return result[i].Count > result[j].Count
	})
	if len(result) > frequentPairsListLen {
		result = result[:frequentPairsListLen]
	}
	return result
}

func itemDisplayName(items map[string]*itemAccum, key string) string {
	if accum, ok := items[key]; ok && accum.name != "" {
		return accum.name
	}
	return key
}

func buildAlerts(report domain.InsightsReport, recentRevenue, priorRevenue float64, recentOrders, priorOrders int) []domain.InsightAlert {
	alerts := make([]domain.InsightAlert, 0, 4)

	if priorRevenue > 0 && report.RevenueTrendPct < -salesDropAlertPct {
		alerts = append(alerts, domain.InsightAlert{
			Code:        "sales_drop",
			Severity:    "high",
			Title:       "Sales are dropping",
			Description: fmt.Sprintf("Average daily revenue fell %.1f%% versus the prior week.", -report.RevenueTrendPct),
			MetricValue: round2(report.RevenueTrendPct),
			Threshold:   -salesDropAlertPct,
		})
	}

	for _, item := range report.Items {
		if item.Trend == domain.TrendUp {
			alerts = append(alerts, domain.InsightAlert{
				Code:        "high_growth_item",
				Severity:    "info",
				Title:       item.Name + " is growing fast",
				Description: fmt.Sprintf("%s revenue grew %.1f%% in the recent half of the window.", item.Name, item.TrendPct),
				MetricValue: round2(item.TrendPct),
				Threshold:   trendThresholdPct,
			})
		}
	}

	if report.AvgPrepTimeMs > 0 {
		limit := int64(float64(report.AvgPrepTimeMs) * prepOutlierFactor)
		for _, item := range report.Items {
			if item.AvgPrepTimeMs > limit {
				alerts = append(alerts, domain.InsightAlert{
					Code:        "slow_prep",
					Severity:    "medium",
					Title:       item.Name + " is slow to prepare",
					Description: fmt.Sprintf("%s averages %ds prep against a %ds overall average.", item.Name, item.AvgPrepTimeMs/1000, report.AvgPrepTimeMs/1000),
					MetricValue: float64(item.AvgPrepTimeMs),
					Threshold:   float64(limit),
				})
			}
		}
	}

	if recentOrders > 0 && priorOrders > 0 {
		recentAOV := recentRevenue / float64(recentOrders)
		priorAOV := priorRevenue / float64(priorOrders)
		if change := trendPct(recentAOV, priorAOV); change < -aovDropAlertPct {
			alerts = append(alerts, domain.InsightAlert{
				Code:        "aov_drop",
				Severity:    "medium",
				Title:       "Average order value is falling",
				Description: fmt.Sprintf("Average order value fell %.1f%% versus the prior week.", -change),
				MetricValue: round2(change),
				Threshold:   -aovDropAlertPct,
			})
		}
	}

	severityRank := map[string]int{"high": 0, "medium": 1, "info": 2}
	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank[alerts[i].Severity] < severityRank[alerts[j].Severity]
	})
	return alerts
}

func buildRecommendations(report domain.InsightsReport) []domain.InsightRecommendation {
	recs := make([]domain.InsightRecommendation, 0, 5)

	if len(report.BottomByRevenue) > 0 && len(report.Items) > topListSize {
		slow := report.BottomByRevenue[0]
		recs = append(recs, domain.InsightRecommendation{
			Code:        "promote_slow_mover",
			Title:       "Promote " + slow.Name,
			Description: fmt.Sprintf("%s sold only %d in the last %d days. Consider a promo or pairing.", slow.Name, slow.Quantity, report.WindowDays),
		})
	}
	if len(report.TopByRevenue) > 0 {
		top := report.TopByRevenue[0]
		recs = append(recs, domain.InsightRecommendation{
			Code:        "protect_top_seller",
			Title:       "Keep " + top.Name + " stocked",
			Description: fmt.Sprintf("%s drives the most revenue. Stock-outs here hurt the most.", top.Name),
		})
	}
	for _, item := range report.Items {
		if item.Trend == domain.TrendUp {
			recs = append(recs, domain.InsightRecommendation{
				Code:        "ride_the_trend",
				Title:       "Capitalize on " + item.Name,
				Description: fmt.Sprintf("%s is trending up %.1f%%. Feature it while demand is hot.", item.Name, item.TrendPct),
			})
			break
		}
	}
	if report.OrderCount > 0 {
		recs = append(recs, domain.InsightRecommendation{
			Code:        "staff_peak_hour",
			Title:       fmt.Sprintf("Staff up around %02d:00", report.PeakHour%24),
			Description: fmt.Sprintf("Hour %02d:00 takes the most orders. Schedule crew accordingly.", report.PeakHour%24),
		})
	}
	if len(report.FrequentPairs) > 0 {
		pair := report.FrequentPairs[0]
		recs = append(recs, domain.InsightRecommendation{
			Code:        "bundle_pair",
			Title:       "Bundle " + pair.ItemA + " + " + pair.ItemB,
			Description: fmt.Sprintf("Ordered together %d times. A bundle price could lift both.", pair.Count),
		})
	}
	return recs
}

// trendPct is the percentage change from prior to recent. A zero prior with
// nonzero recent reports +100.
func trendPct(recent, prior float64) float64 {
	if prior == 0 {
		if recent == 0 {
			return 0
		}
		return 100
	}
	return round2((recent - prior) / prior * 100)
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
