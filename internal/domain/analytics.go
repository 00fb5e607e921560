package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalyticsRange задаёт интервал аналитики. Пустые границы заменяются последними 30 днями.
type AnalyticsRange struct {
	Start *time.Time
	End   *time.Time
}

// AnalyticsSummary агрегирует все заказы интервала.
type AnalyticsSummary struct {
	TotalOrders       int                 `json:"total_orders"`
	TotalRevenue      decimal.Decimal     `json:"total_revenue"`
	AverageOrderValue decimal.Decimal     `json:"average_order_value"`
	StatusCounts      map[OrderStatus]int `json:"status_counts"`
}

// ProductSales — строка рейтинга товаров.
type ProductSales struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Quantity  int64           `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// DailyTrend считает заказы и выручку за календарный день (UTC).
type DailyTrend struct {
	Date    string          `json:"date"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Analytics собирает сводку, рейтинг товаров и дневной тренд.
type Analytics struct {
	BusinessID  string           `json:"business_id"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Summary     AnalyticsSummary `json:"summary"`
	TopProducts []ProductSales   `json:"top_products"`
	DailyTrends []DailyTrend     `json:"daily_trends"`
}
