// Package analytics считает отчёт по заказам магазина за период. Только чтение.
package analytics

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/auth"
	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

const (
	// DefaultWindow — период по умолчанию, если границы не заданы.
	DefaultWindow = 30 * 24 * time.Hour
	// TopProductsLimit ограничивает длину рейтинга товаров.
	TopProductsLimit = 10

	dayLayout = "2006-01-02"
)

// Aggregator строит аналитику поверх OrderRepository.ListByBusiness.
type Aggregator struct {
	orders domain.OrderRepository
	authz  domain.Authorizer
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Aggregator.
type Option func(*Aggregator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator создаёт агрегатор. authz по умолчанию ролевой.
func NewAggregator(orders domain.OrderRepository, authz domain.Authorizer, opts ...Option) (*Aggregator, error) {
	if orders == nil {
		return nil, errors.New("order repository is required")
	}
	if authz == nil {
		authz = auth.NewRoleAuthorizer()
	}
	a := &Aggregator{
		orders: orders,
		authz:  authz,
		logger: log.New().WithField("component", "analytics"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// GetOrderAnalytics возвращает сводку, рейтинг товаров и дневную динамику за период.
func (a *Aggregator) GetOrderAnalytics(ctx context.Context, caller domain.Caller, businessID string, r domain.AnalyticsRange) (domain.Analytics, error) {
	if businessID == "" {
		return domain.Analytics{}, domain.BadRequest("business id is required")
	}
	if !a.authz.Authorize(caller, domain.ActionViewAnalytics, domain.Resource{BusinessID: businessID}) {
		return domain.Analytics{}, domain.WrapError(domain.KindForbidden, domain.ErrForbidden, "analytics of business %s", businessID)
	}

	from, to := a.resolveRange(r)
	if from.After(to) {
		return domain.Analytics{}, domain.BadRequest("start must not be after end")
	}

	orders, err := a.orders.ListByBusiness(ctx, businessID, from, to)
	if err != nil {
		a.logger.WithError(err).WithField("business_id", businessID).Error("failed to load orders for analytics")
		return domain.Analytics{}, domain.WrapError(domain.KindInternal, err, "load orders")
	}

	return domain.Analytics{
		BusinessID:  businessID,
		From:        from,
		To:          to,
		Summary:     summarize(orders),
		TopProducts: topProducts(orders, TopProductsLimit),
		DailyTrends: dailyTrends(orders),
	}, nil
}

func (a *Aggregator) resolveRange(r domain.AnalyticsRange) (time.Time, time.Time) {
	to := a.now()
	if r.End != nil {
		to = r.End.UTC()
	}
	from := to.Add(-DefaultWindow)
	if r.Start != nil {
		from = r.Start.UTC()
	}
	return from, to
}

func summarize(orders []domain.Order) domain.AnalyticsSummary {
	summary := domain.AnalyticsSummary{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		StatusCounts:      make(map[domain.OrderStatus]int, len(domain.AllOrderStatuses)),
	}
	for _, st := range domain.AllOrderStatuses {
		summary.StatusCounts[st] = 0
	}

	for _, o := range orders {
		summary.TotalOrders++
		summary.TotalRevenue = summary.TotalRevenue.Add(o.Pricing.Total)
		summary.StatusCounts[o.Status]++
	}
	if summary.TotalOrders > 0 {
		summary.AverageOrderValue = summary.TotalRevenue.
			Div(decimal.NewFromInt(int64(summary.TotalOrders))).
			Round(2)
	}
	return summary
}

// topProducts группирует позиции проданных заказов по товару.
// orders идут от старых к новым, поэтому при равном количестве раньше стоит товар, встреченный первым.
func topProducts(orders []domain.Order, limit int) []domain.ProductSales {
	index := make(map[string]int)
	sales := make([]domain.ProductSales, 0)

	for _, o := range orders {
		if !o.Status.CountsAsSale() {
			continue
		}
		for _, item := range o.Items {
			i, ok := index[item.ProductID]
			if !ok {
				i = len(sales)
				index[item.ProductID] = i
				sales = append(sales, domain.ProductSales{
					ProductID: item.ProductID,
					Name:      item.Name,
					SKU:       item.SKU,
					Revenue:   decimal.Zero,
				})
			}
			sales[i].Quantity += int64(item.Qty)
			sales[i].Revenue = sales[i].Revenue.Add(item.Total)
		}
	}

	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].Quantity > sales[j].Quantity
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales
}

func dailyTrends(orders []domain.Order) []domain.DailyTrend {
	index := make(map[string]int)
	trends := make([]domain.DailyTrend, 0)

	for _, o := range orders {
		day := o.CreatedAt.UTC().Format(dayLayout)
		i, ok := index[day]
		if !ok {
			i = len(trends)
			index[day] = i
			trends = append(trends, domain.DailyTrend{Date: day, Revenue: decimal.Zero})
		}
		trends[i].Orders++
		trends[i].Revenue = trends[i].Revenue.Add(o.Pricing.Total)
	}

	sort.Slice(trends, func(i, j int) bool {
		return trends[i].Date < trends[j].Date
	})
	return trends
}
