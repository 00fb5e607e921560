package ordersvc

import (
	"context"
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	"github.com/vladislavdragonenkov/settlement/internal/pricing"
)

// CartItem — строка корзины.
type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

// CreateOrderRequest собирает корзину, адреса и способ оплаты нового заказа.
type CreateOrderRequest struct {
	BusinessID      string          `json:"business_id"`
	Items           []CartItem      `json:"items"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	CouponCode      string          `json:"coupon_code,omitempty"`
}

type reservation struct {
	productID string
	qty       int64
}

// CreateOrder резервирует остатки по всем позициям, считает цену и сохраняет заказ.
// Любая ошибка после первого резерва откатывает все резервы этого вызова.
func (s *Service) CreateOrder(ctx context.Context, caller domain.Caller, req CreateOrderRequest) (domain.Order, error) {
	s.metrics.CreationStarted()
	defer s.metrics.CreationFinished()

	order, err := s.createOrder(ctx, caller, req)
	if err != nil {
		s.metrics.RecordOrderFailed(string(domain.KindOf(err)))
		return domain.Order{}, err
	}
	s.metrics.RecordOrderCreated()
	s.notify(domain.EventOrderCreated, order, "")

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"business_id":  order.BusinessID,
		"total":        order.Pricing.Total.StringFixed(2),
	}).Info("order created")
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, caller domain.Caller, req CreateOrderRequest) (domain.Order, error) {
	if err := validateCreateRequest(req); err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(caller, domain.ActionCreateOrder, domain.Resource{BusinessID: req.BusinessID, CustomerID: caller.UserID}); err != nil {
		return domain.Order{}, err
	}

	if s.tx == nil {
		return s.placeOrder(ctx, caller, req, domain.TxStores{Ledger: s.ledger, Orders: s.orders}, s.releaseReservations)
	}

	// Резервы и заказ фиксируются одной транзакцией, откат делает хранилище.
	var order domain.Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx domain.TxStores) error {
		var err error
		order, err = s.placeOrder(ctx, caller, req, tx, nil)
		return err
	})
	if err != nil {
		return domain.Order{}, s.txError(err, "create_order", "")
	}
	return order, nil
}

// placeOrder резервирует остатки, считает цену и сохраняет заказ через stores.
// rollback вызывается с уже сделанными резервами при любой ошибке; nil, если откат делает транзакция.
func (s *Service) placeOrder(ctx context.Context, caller domain.Caller, req CreateOrderRequest, stores domain.TxStores, rollback func(context.Context, []reservation)) (domain.Order, error) {
	reserved := make([]reservation, 0, len(req.Items))
	fail := func(err error) (domain.Order, error) {
		if rollback != nil {
			rollback(ctx, reserved)
		}
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	lines := make([]pricing.Line, 0, len(req.Items))
	for _, line := range req.Items {
		if err := ctx.Err(); err != nil {
			return fail(domain.WrapError(domain.KindInternal, err, "create order interrupted"))
		}

		product, err := s.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return fail(s.catalogError(err, line.ProductID))
		}
		if product.BusinessID != req.BusinessID {
			return fail(domain.BadRequest("product %s does not belong to business %s", product.ID, req.BusinessID))
		}
		if !product.Active {
			return fail(domain.BadRequest("product %s is not available for sale", product.ID))
		}

		unit := product.UnitPrice()
		lines = append(lines, pricing.Line{UnitPrice: unit, Qty: line.Qty, Weight: product.Weight})
		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			SKU:       product.SKU,
			Qty:       line.Qty,
			UnitPrice: unit,
		})
	}

	// Резервы идут в порядке ID товара: две корзины с общими товарами берут блокировки
	// строк в одном порядке и не взаимоблокируются.
	for _, it := range reservationOrder(items) {
		if err := ctx.Err(); err != nil {
			return fail(domain.WrapError(domain.KindInternal, err, "create order interrupted"))
		}
		if err := stores.Ledger.Reserve(ctx, it.ProductID, int64(it.Qty)); err != nil {
			return fail(s.reserveError(err, it.ProductID))
		}
		reserved = append(reserved, reservation{productID: it.ProductID, qty: int64(it.Qty)})
	}

	hookCtx, cancel := s.external(ctx)
	quote, err := s.pricing.Quote(hookCtx, pricing.Request{
		BusinessID: req.BusinessID,
		CouponCode: req.CouponCode,
		Address:    req.ShippingAddress,
		Lines:      lines,
	})
	cancel()
	if err != nil {
		return fail(domain.WrapError(domain.KindInternal, err, "price order"))
	}
	for i := range items {
		items[i].Total = quote.LineTotals[i]
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return fail(domain.WrapError(domain.KindInternal, err, "allocate order number"))
	}

	now := s.now()
	billing := req.ShippingAddress
	if req.BillingAddress != nil && !req.BillingAddress.IsZero() {
		billing = *req.BillingAddress
	}
	order := domain.Order{
		ID:              newOrderID(),
		Number:          number,
		BusinessID:      req.BusinessID,
		CustomerID:      caller.UserID,
		Items:           items,
		Pricing:         quote.Pricing,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      req.CouponCode,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return fail(domain.WrapError(domain.KindInternal, errors.Join(errs...), "order invariants violated"))
	}

	if err := ctx.Err(); err != nil {
		return fail(domain.WrapError(domain.KindInternal, err, "create order interrupted"))
	}
	if err := stores.Orders.Create(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_number", number).Error("failed to persist order")
		return fail(domain.WrapError(domain.KindInternal, err, "persist order"))
	}
	return order, nil
}

func reservationOrder(items []domain.OrderItem) []domain.OrderItem {
	sorted := append([]domain.OrderItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}

func validateCreateRequest(req CreateOrderRequest) error {
	if req.BusinessID == "" {
		return domain.BadRequest("business_id is required")
	}
	if len(req.Items) == 0 {
		return domain.ErrEmptyCart
	}
	seen := make(map[string]struct{}, len(req.Items))
	for i, item := range req.Items {
		if item.ProductID == "" {
			return domain.BadRequest("item[%d].product_id is required", i)
		}
		if item.Qty <= 0 {
			return domain.WrapError(domain.KindBadRequest, domain.ErrQtyInvalid, "item[%d].qty must be > 0", i)
		}
		if _, dup := seen[item.ProductID]; dup {
			return domain.BadRequest("item[%d]: product %s is listed twice", i, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	if req.ShippingAddress.IsZero() {
		return domain.BadRequest("shipping_address is required")
	}
	if req.PaymentMethod == "" {
		return domain.BadRequest("payment_method is required")
	}
	return nil
}

func (s *Service) catalogError(err error, productID string) error {
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.WrapError(domain.KindNotFound, err, "product %s", productID)
	}
	s.logger.WithError(err).WithField("product_id", productID).Error("failed to load product")
	return domain.WrapError(domain.KindInternal, err, "load product %s", productID)
}

func (s *Service) reserveError(err error, productID string) error {
	switch {
	case errors.Is(err, domain.ErrOutOfStock):
		return domain.WrapError(domain.KindConflict, err, "product %s", productID)
	case errors.Is(err, domain.ErrProductNotFound):
		return domain.WrapError(domain.KindNotFound, err, "product %s", productID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.KindInternal, err, "reserve product %s", productID)
	default:
		if domain.KindOf(err) != domain.KindInternal {
			return err
		}
		return domain.WrapError(domain.KindInternal, err, "reserve product %s", productID)
	}
}

// releaseReservations откатывает резервы в обратном порядке. Контекст вызова может быть уже отменён,
// поэтому компенсация идёт на отдельном таймауте.
func (s *Service) releaseReservations(ctx context.Context, reserved []reservation) {
	if len(reserved) == 0 {
		return
	}
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := s.ledger.Release(compCtx, r.productID, r.qty); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"product_id": r.productID,
				"qty":        r.qty,
			}).Error("failed to release reservation")
		}
	}
}
