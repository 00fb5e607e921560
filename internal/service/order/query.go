package ordersvc

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	// maxPage держит (page-1)*limit далеко от переполнения int.
	maxPage = 1_000_000
)

// ListFilter задаёт параметры выборки заказов.
type ListFilter struct {
	Scope         domain.ListScope
	BusinessID    string
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

// Page содержит одну страницу заказов и общее число подходящих.
type Page struct {
	Items []domain.Order `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Pages int            `json:"pages"`
}

// TrackedItem — позиция в ответе отслеживания.
type TrackedItem struct {
	Name string `json:"name"`
	SKU  string `json:"sku,omitempty"`
	Qty  int32  `json:"qty"`
}

// TrackingView содержит публичное представление отправления по номеру заказа.
type TrackingView struct {
	OrderNumber    string             `json:"order_number"`
	Status         domain.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	Carrier        string             `json:"carrier,omitempty"`
	ShippedAt      *time.Time         `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time         `json:"delivered_at,omitempty"`
	Items          []TrackedItem      `json:"items"`
}

// GetOrder возвращает заказ владельцу, сотруднику магазина или администратору.
func (s *Service) GetOrder(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID, "get")
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(caller, domain.ActionViewOrder, domain.Resource{BusinessID: order.BusinessID, CustomerID: order.CustomerID}); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает заказы покупателя или магазина от новых к старым.
func (s *Service) ListOrders(ctx context.Context, caller domain.Caller, filter ListFilter) (Page, error) {
	query, page, err := s.buildQuery(caller, filter)
	if err != nil {
		return Page{}, err
	}

	items, total, err := s.orders.List(ctx, query)
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return Page{}, domain.WrapError(domain.KindInternal, err, "list orders")
	}
	if items == nil {
		items = []domain.Order{}
	}

	pages := 0
	if total > 0 {
		pages = (total + query.Limit - 1) / query.Limit
	}
	return Page{Items: items, Total: total, Page: page, Limit: query.Limit, Pages: pages}, nil
}

func (s *Service) buildQuery(caller domain.Caller, filter ListFilter) (domain.OrderQuery, int, error) {
	scope := filter.Scope
	if scope == "" {
		scope = domain.ListScopeCustomer
		if filter.BusinessID != "" {
			scope = domain.ListScopeBusiness
		}
	}

	var (
		query    domain.OrderQuery
		resource domain.Resource
	)
	switch scope {
	case domain.ListScopeCustomer:
		query.CustomerID = caller.UserID
		query.BusinessID = filter.BusinessID
		resource = domain.Resource{CustomerID: caller.UserID}
	case domain.ListScopeBusiness:
		if filter.BusinessID == "" {
			return domain.OrderQuery{}, 0, domain.BadRequest("business_id is required for business scope")
		}
		query.BusinessID = filter.BusinessID
		resource = domain.Resource{BusinessID: filter.BusinessID}
	default:
		return domain.OrderQuery{}, 0, domain.BadRequest("unknown scope %q", scope)
	}
	if err := s.authorize(caller, domain.ActionListOrders, resource); err != nil {
		return domain.OrderQuery{}, 0, err
	}

	if filter.Status != "" && !filter.Status.Valid() {
		return domain.OrderQuery{}, 0, domain.BadRequest("unknown order status %q", filter.Status)
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return domain.OrderQuery{}, 0, domain.BadRequest("unknown payment status %q", filter.PaymentStatus)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return domain.OrderQuery{}, 0, domain.BadRequest("from must not be after to")
	}
	query.Status = filter.Status
	query.PaymentStatus = filter.PaymentStatus
	query.From = filter.From
	query.To = filter.To

	page := filter.Page
	switch {
	case page < 1:
		page = 1
	case page > maxPage:
		return domain.OrderQuery{}, 0, domain.BadRequest("page must not exceed %d", maxPage)
	}
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	query.Limit = limit
	query.Offset = (page - 1) * limit
	return query, page, nil
}

// TrackOrder ищет заказ по номеру и отдаёт данные отправления.
func (s *Service) TrackOrder(ctx context.Context, caller domain.Caller, number string) (TrackingView, error) {
	if number == "" {
		return TrackingView{}, domain.BadRequest("order number is required")
	}
	order, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return TrackingView{}, err
		}
		s.logger.WithError(err).WithField("order_number", number).Error("failed to load order by number")
		return TrackingView{}, domain.WrapError(domain.KindInternal, err, "load order")
	}
	if err := s.authorize(caller, domain.ActionTrackOrder, domain.Resource{BusinessID: order.BusinessID, CustomerID: order.CustomerID}); err != nil {
		return TrackingView{}, err
	}

	view := TrackingView{
		OrderNumber:    order.Number,
		Status:         order.Status,
		TrackingNumber: order.Tracking.Number,
		Carrier:        order.Tracking.Carrier,
		ShippedAt:      order.Timestamps.ShippedAt,
		DeliveredAt:    order.Timestamps.DeliveredAt,
		Items:          make([]TrackedItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, TrackedItem{Name: item.Name, SKU: item.SKU, Qty: item.Qty})
	}
	return view, nil
}
