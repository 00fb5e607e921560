package ordersvc_test

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	"github.com/vladislavdragonenkov/settlement/internal/pricing"
	"github.com/vladislavdragonenkov/settlement/internal/service/inventory"
	ordersvc "github.com/vladislavdragonenkov/settlement/internal/service/order"
	"github.com/vladislavdragonenkov/settlement/internal/service/payment"
	"github.com/vladislavdragonenkov/settlement/internal/storage/memory"
)

var (
	customer = domain.Caller{UserID: "cust-1", Role: domain.RoleCustomer}
	stranger = domain.Caller{UserID: "cust-2", Role: domain.RoleCustomer}
	owner    = domain.Caller{UserID: "owner-1", Role: domain.RoleBusinessOwner, Businesses: []string{"biz-1"}}
	address  = domain.Address{Line1: "Main st. 1", City: "Berlin", Country: "DE"}
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// zeroCostCalculator убирает доставку и налог, чтобы итог совпадал с subtotal.
func zeroCostCalculator() *pricing.Calculator {
	return pricing.NewCalculator(
		pricing.WithShipping(func(context.Context, decimal.Decimal, domain.Address) (decimal.Decimal, error) {
			return decimal.Zero, nil
		}),
		pricing.WithTaxPolicy(pricing.FixedTaxRate(decimal.Zero)),
	)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event domain.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type failingNumbers struct{}

func (failingNumbers) Next(context.Context) (string, error) {
	return "", errors.New("sequence unavailable")
}

type OrderServiceSuite struct {
	suite.Suite

	ctx      context.Context
	products *memory.ProductRepository
	ledger   *inventory.RecordingLedger
	orders   domain.OrderRepository
	gateway  *payment.MockGateway
	notifier *recordingNotifier
	svc      *ordersvc.Service
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.products = memory.NewProductRepository()
	s.ledger = inventory.NewRecordingLedger(s.products)
	s.orders = memory.NewOrderRepository()
	s.gateway = payment.NewMockGateway()
	s.notifier = &recordingNotifier{}
	s.svc = s.newService(zeroCostCalculator(), memory.NewSequenceGenerator(0))

	s.seed("p-1", "biz-1", 5, "100")
	s.seed("p-2", "biz-1", 10, "25.50")
}

func (s *OrderServiceSuite) newService(calc *pricing.Calculator, numbers domain.OrderNumberGenerator, opts ...ordersvc.Option) *ordersvc.Service {
	opts = append([]ordersvc.Option{ordersvc.WithLogger(loggerForTests())}, opts...)
	svc, err := ordersvc.NewService(ordersvc.Dependencies{
		Catalog:  s.products,
		Ledger:   s.ledger,
		Orders:   s.orders,
		Numbers:  numbers,
		Pricing:  calc,
		Payments: s.gateway,
		Notifier: s.notifier,
	}, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *OrderServiceSuite) seed(id, businessID string, available int64, price string) {
	s.Require().NoError(s.products.Create(s.ctx, domain.Product{
		ID:         id,
		BusinessID: businessID,
		Name:       "Product " + id,
		SKU:        "SKU-" + id,
		Price:      decimal.RequireFromString(price),
		Weight:     decimal.RequireFromString("1"),
		Available:  available,
		Active:     true,
	}))
}

func (s *OrderServiceSuite) stock(id string) (available, reserved int64) {
	p, err := s.products.Get(s.ctx, id)
	s.Require().NoError(err)
	return p.Available, p.Reserved
}

func (s *OrderServiceSuite) requireStock(id string, available, reserved int64) {
	gotAvailable, gotReserved := s.stock(id)
	s.Require().Equal(available, gotAvailable, "available of %s", id)
	s.Require().Equal(reserved, gotReserved, "reserved of %s", id)
}

func (s *OrderServiceSuite) create(items ...ordersvc.CartItem) domain.Order {
	order, err := s.svc.CreateOrder(s.ctx, customer, s.request(items...))
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) request(items ...ordersvc.CartItem) ordersvc.CreateOrderRequest {
	return ordersvc.CreateOrderRequest{
		BusinessID:      "biz-1",
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   "card",
	}
}

func (s *OrderServiceSuite) advance(orderID string, statuses ...domain.OrderStatus) domain.Order {
	var order domain.Order
	for _, st := range statuses {
		var err error
		order, err = s.svc.UpdateStatus(s.ctx, owner, orderID, ordersvc.UpdateStatusRequest{Status: st})
		s.Require().NoError(err, "transition to %s", st)
	}
	return order
}

func item(productID string, qty int32) ordersvc.CartItem {
	return ordersvc.CartItem{ProductID: productID, Qty: qty}
}

func (s *OrderServiceSuite) TestCreateOrder_ReservesStockAndPrices() {
	order := s.create(item("p-1", 3))

	s.requireStock("p-1", 2, 3)
	s.Require().Equal(domain.OrderStatusPending, order.Status)
	s.Require().Equal(domain.PaymentStatusPending, order.PaymentStatus)
	s.Require().Equal("ORD-00000001", order.Number)
	s.Require().Equal("cust-1", order.CustomerID)
	s.Require().Equal(address, order.BillingAddress)
	s.Require().True(order.Pricing.Subtotal.Equal(decimal.RequireFromString("300")))
	s.Require().True(order.Pricing.Total.Equal(decimal.RequireFromString("300")))
	s.Require().Empty(order.ValidateInvariants())

	stored, err := s.orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Equal(order.Number, stored.Number)
	s.Require().Equal(order.Version, stored.Version)

	s.Require().Eventually(func() bool {
		types := s.notifier.types()
		return len(types) == 1 && types[0] == domain.EventOrderCreated
	}, time.Second, 10*time.Millisecond)
}

func (s *OrderServiceSuite) TestCreateOrder_DefaultPricingWithSalePriceAndCoupon() {
	s.Require().NoError(s.products.Create(s.ctx, domain.Product{
		ID:         "p-sale",
		BusinessID: "biz-1",
		Name:       "Sale",
		Price:      decimal.RequireFromString("100"),
		SalePrice:  decimal.NewNullDecimal(decimal.RequireFromString("80")),
		Weight:     decimal.RequireFromString("2"),
		Available:  10,
		Active:     true,
	}))
	coupons := func(_ context.Context, businessID, code string, _ decimal.Decimal) (decimal.Decimal, error) {
		if businessID == "biz-1" && code == "TEN" {
			return decimal.RequireFromString("10"), nil
		}
		return decimal.Zero, errors.New("unknown coupon")
	}
	svc := s.newService(pricing.NewCalculator(pricing.WithCoupons(coupons)), memory.NewSequenceGenerator(100))

	req := s.request(item("p-sale", 2))
	order, err := svc.CreateOrder(s.ctx, customer, req)
	s.Require().NoError(err)
	// 160 + доставка 5 + 0.5*4 + налог 8% от 160
	s.Require().Equal("160.00", order.Pricing.Subtotal.StringFixed(2))
	s.Require().Equal("7.00", order.Pricing.Shipping.StringFixed(2))
	s.Require().Equal("12.80", order.Pricing.Tax.StringFixed(2))
	s.Require().Equal("179.80", order.Pricing.Total.StringFixed(2))
	s.Require().Equal("80", order.Items[0].UnitPrice.String())

	req.CouponCode = "TEN"
	order, err = svc.CreateOrder(s.ctx, customer, req)
	s.Require().NoError(err)
	s.Require().Equal("10.00", order.Pricing.Discount.StringFixed(2))
	s.Require().Equal("12.00", order.Pricing.Tax.StringFixed(2))
	s.Require().Equal("169.00", order.Pricing.Total.StringFixed(2))

	req.CouponCode = "BOGUS"
	order, err = svc.CreateOrder(s.ctx, customer, req)
	s.Require().NoError(err)
	s.Require().True(order.Pricing.Discount.IsZero())
}

func (s *OrderServiceSuite) TestCreateOrder_ConcurrentOversellHasOneWinner() {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 3)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case domain.IsKind(err, domain.KindConflict):
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Require().Equal(1, successes)
	s.Require().Equal(1, conflicts)
	s.requireStock("p-1", 2, 3)
}

func (s *OrderServiceSuite) TestCreateOrder_AllOrNothing() {
	s.seed("p-low", "biz-1", 1, "5")

	_, err := s.svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 2), item("p-2", 4), item("p-low", 2)))
	s.Require().Error(err)
	s.Require().True(domain.IsKind(err, domain.KindConflict))
	s.Require().ErrorIs(err, domain.ErrOutOfStock)

	s.requireStock("p-1", 5, 0)
	s.requireStock("p-2", 10, 0)
	s.requireStock("p-low", 1, 0)

	releases := s.ledger.CallsOf("release")
	s.Require().Len(releases, 2)
	s.Require().Equal("p-2", releases[0].ProductID, "rollback runs in reverse order")
	s.Require().Equal("p-1", releases[1].ProductID)

	_, total, err := s.orders.List(s.ctx, domain.OrderQuery{})
	s.Require().NoError(err)
	s.Require().Zero(total)
}

func (s *OrderServiceSuite) TestCreateOrder_RollbackAfterReservation() {
	s.Run("numbering fails", func() {
		svc := s.newService(zeroCostCalculator(), failingNumbers{})
		_, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 2), item("p-2", 1)))
		s.Require().True(domain.IsKind(err, domain.KindInternal))
		s.requireStock("p-1", 5, 0)
		s.requireStock("p-2", 10, 0)
	})

	s.Run("shipping hook times out", func() {
		slow := pricing.NewCalculator(pricing.WithShipping(func(ctx context.Context, _ decimal.Decimal, _ domain.Address) (decimal.Decimal, error) {
			<-ctx.Done()
			return decimal.Zero, ctx.Err()
		}))
		svc := s.newService(slow, memory.NewSequenceGenerator(0), ordersvc.WithExternalCallTimeout(20*time.Millisecond))
		_, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 2)))
		s.Require().ErrorIs(err, context.DeadlineExceeded)
		s.requireStock("p-1", 5, 0)
	})

	s.Run("caller cancelled", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := s.svc.CreateOrder(ctx, customer, s.request(item("p-1", 2)))
		s.Require().Error(err)
		s.requireStock("p-1", 5, 0)
	})
}

func (s *OrderServiceSuite) TestCreateOrder_Validation() {
	s.seed("p-foreign", "biz-2", 5, "10")
	s.Require().NoError(s.products.Create(s.ctx, domain.Product{ID: "p-off", BusinessID: "biz-1", Price: decimal.NewFromInt(1), Available: 5}))

	tests := []struct {
		name string
		req  ordersvc.CreateOrderRequest
		kind domain.ErrorKind
	}{
		{"empty cart", s.request(), domain.KindBadRequest},
		{"zero qty", s.request(item("p-1", 0)), domain.KindBadRequest},
		{"negative qty", s.request(item("p-1", -1)), domain.KindBadRequest},
		{"duplicate line", s.request(item("p-1", 1), item("p-1", 1)), domain.KindBadRequest},
		{"foreign product", s.request(item("p-1", 1), item("p-foreign", 1)), domain.KindBadRequest},
		{"inactive product", s.request(item("p-off", 1)), domain.KindBadRequest},
		{"unknown product", s.request(item("p-1", 1), item("ghost", 1)), domain.KindNotFound},
		{"no address", ordersvc.CreateOrderRequest{BusinessID: "biz-1", Items: []ordersvc.CartItem{item("p-1", 1)}, PaymentMethod: "card"}, domain.KindBadRequest},
		{"no payment method", ordersvc.CreateOrderRequest{BusinessID: "biz-1", Items: []ordersvc.CartItem{item("p-1", 1)}, ShippingAddress: address}, domain.KindBadRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.svc.CreateOrder(s.ctx, customer, tt.req)
			s.Require().Error(err)
			s.Require().Equal(tt.kind, domain.KindOf(err), err.Error())
			s.requireStock("p-1", 5, 0)
		})
	}

	_, err := s.svc.CreateOrder(s.ctx, domain.Caller{}, s.request(item("p-1", 1)))
	s.Require().True(domain.IsKind(err, domain.KindForbidden))
}

func (s *OrderServiceSuite) TestUpdateStatus_CancelFromConfirmedRestoresStock() {
	order := s.create(item("p-1", 3), item("p-2", 2))
	s.advance(order.ID, domain.OrderStatusConfirmed)
	s.requireStock("p-1", 2, 3)

	cancelled, err := s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{
		Status: domain.OrderStatusCancelled,
		Notes:  "customer changed mind",
	})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Require().NotNil(cancelled.Timestamps.CancelledAt)
	s.Require().Len(cancelled.Notes, 1)
	s.Require().Equal("owner-1", cancelled.Notes[0].AddedBy)

	s.requireStock("p-1", 5, 0)
	s.requireStock("p-2", 10, 0)

	_, err = s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusConfirmed})
	s.Require().True(domain.IsKind(err, domain.KindInvalidTransition))
	s.requireStock("p-1", 5, 0)
}

func (s *OrderServiceSuite) TestUpdateStatus_InvalidTransition() {
	order := s.create(item("p-1", 1))

	_, err := s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusShipped})
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)
	s.Require().Contains(err.Error(), "from pending to shipped")

	_, err = s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusRefunded})
	s.Require().True(domain.IsKind(err, domain.KindInvalidTransition))

	_, err = s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: "lost"})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	stored, err := s.orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusPending, stored.Status)
}

func (s *OrderServiceSuite) TestUpdateStatus_DeliveredConsumesOncePerItem() {
	order := s.create(item("p-1", 3), item("p-2", 2))
	s.ledger.Reset()

	delivered := s.advance(order.ID,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	)
	s.Require().NotNil(delivered.Timestamps.ConfirmedAt)
	s.Require().NotNil(delivered.Timestamps.ProcessingAt)
	s.Require().NotNil(delivered.Timestamps.ShippedAt)
	s.Require().NotNil(delivered.Timestamps.DeliveredAt)

	consumes := s.ledger.CallsOf("consume")
	s.Require().Len(consumes, 2)
	s.Require().Equal(inventory.Call{Op: "consume", ProductID: "p-1", Qty: 3}, consumes[0])
	s.Require().Equal(inventory.Call{Op: "consume", ProductID: "p-2", Qty: 2}, consumes[1])
	s.Require().Len(s.ledger.Calls(), 2, "no other stock operations along the happy path")

	s.requireStock("p-1", 2, 0)
	s.requireStock("p-2", 8, 0)
}

func (s *OrderServiceSuite) TestUpdateStatus_TrackingAndAuthorization() {
	order := s.create(item("p-1", 1))

	_, err := s.svc.UpdateStatus(s.ctx, customer, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusConfirmed})
	s.Require().ErrorIs(err, domain.ErrForbidden)

	foreign := domain.Caller{UserID: "owner-2", Role: domain.RoleBusinessOwner, Businesses: []string{"biz-2"}}
	_, err = s.svc.UpdateStatus(s.ctx, foreign, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusConfirmed})
	s.Require().True(domain.IsKind(err, domain.KindForbidden))

	_, err = s.svc.UpdateStatus(s.ctx, owner, "missing", ordersvc.UpdateStatusRequest{Status: domain.OrderStatusConfirmed})
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)

	s.advance(order.ID, domain.OrderStatusConfirmed, domain.OrderStatusProcessing)
	admin := domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}
	shipped, err := s.svc.UpdateStatus(s.ctx, admin, order.ID, ordersvc.UpdateStatusRequest{
		Status:         domain.OrderStatusShipped,
		TrackingNumber: "TRACK-1",
		Carrier:        "DHL",
	})
	s.Require().NoError(err)
	s.Require().Equal(domain.Tracking{Number: "TRACK-1", Carrier: "DHL"}, shipped.Tracking)
	s.Require().Equal(int64(3), shipped.Version)
}

func (s *OrderServiceSuite) TestUpdateStatus_ConcurrentTransitionsSerialize() {
	order := s.create(item("p-1", 2))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, target := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusCancelled, domain.OrderStatusCancelled} {
		wg.Add(1)
		go func(st domain.OrderStatus) {
			defer wg.Done()
			if _, err := s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: st}); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	s.Require().Equal(1, success)
	s.Require().Len(s.ledger.CallsOf("release"), 1)
	s.requireStock("p-1", 5, 0)
}

func (s *OrderServiceSuite) TestProcessRefund_CapScenario() {
	order := s.create(item("p-1", 3))
	s.Require().Equal("300", order.Pricing.Total.String())

	refunded, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(100), Reason: "late"})
	s.Require().NoError(err)
	s.Require().Equal("100", refunded.Refunds.TotalRefunded.String())
	s.Require().Equal(domain.OrderStatusPending, refunded.Status)
	s.Require().Equal(domain.PaymentStatusPartiallyRefunded, refunded.PaymentStatus)

	_, err = s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(250)})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))
	s.Require().Contains(err.Error(), "200.00")

	refunded, err = s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(200)})
	s.Require().NoError(err)
	s.Require().True(refunded.Refunds.TotalRefunded.Equal(refunded.Pricing.Total))
	s.Require().Equal(domain.OrderStatusRefunded, refunded.Status)
	s.Require().Equal(domain.PaymentStatusRefunded, refunded.PaymentStatus)
	s.Require().NotNil(refunded.Timestamps.RefundedAt)
	s.Require().Len(refunded.Refunds.History, 2)
	s.Require().Contains(refunded.Refunds.History[0].ID, "REF-")

	_, err = s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.RequireFromString("0.01")})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	s.Require().True(s.gateway.Refunded[order.ID].Equal(decimal.NewFromInt(300)))
}

func (s *OrderServiceSuite) TestProcessRefund_RestocksItems() {
	order := s.create(item("p-1", 3), item("p-2", 2))
	s.advance(order.ID, domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered)
	s.requireStock("p-1", 2, 0)

	refunded, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{
		Amount: decimal.NewFromInt(100),
		Reason: "damaged",
		Items:  []domain.RefundItem{{ProductID: "p-1", Qty: 1}},
	})
	s.Require().NoError(err)
	s.requireStock("p-1", 3, 0)
	line, ok := refunded.Item("p-1")
	s.Require().True(ok)
	s.Require().Equal(int32(1), line.RefundedQty)
	s.Require().Equal(domain.OrderStatusDelivered, refunded.Status)

	tests := []struct {
		name  string
		items []domain.RefundItem
		kind  domain.ErrorKind
	}{
		{"more than left", []domain.RefundItem{{ProductID: "p-1", Qty: 3}}, domain.KindBadRequest},
		{"split over limit", []domain.RefundItem{{ProductID: "p-2", Qty: 1}, {ProductID: "p-2", Qty: 2}}, domain.KindBadRequest},
		{"not on order", []domain.RefundItem{{ProductID: "ghost", Qty: 1}}, domain.KindNotFound},
		{"zero qty", []domain.RefundItem{{ProductID: "p-1", Qty: 0}}, domain.KindBadRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(1), Items: tt.items})
			s.Require().Equal(tt.kind, domain.KindOf(err))
		})
	}
	s.requireStock("p-1", 3, 0)
	s.requireStock("p-2", 8, 0)
}

func (s *OrderServiceSuite) TestProcessRefund_TerminalOrderRejectsItems() {
	order := s.create(item("p-1", 2))
	s.advance(order.ID, domain.OrderStatusCancelled)
	s.requireStock("p-1", 5, 0)

	_, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{
		Amount: decimal.NewFromInt(10),
		Items:  []domain.RefundItem{{ProductID: "p-1", Qty: 1}},
	})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))
	s.requireStock("p-1", 5, 0)

	refunded, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(200)})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, refunded.Status, "cancelled orders stay cancelled")
	s.Require().Equal(domain.PaymentStatusRefunded, refunded.PaymentStatus)
	s.Require().Nil(refunded.Timestamps.RefundedAt)
}

func (s *OrderServiceSuite) TestProcessRefund_GatewayFailurePersistsNothing() {
	order := s.create(item("p-1", 1))
	s.gateway.RefundErr = errors.New("provider down")

	_, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(50)})
	s.Require().ErrorIs(err, domain.ErrPaymentGateway)

	stored, err := s.orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().True(stored.Refunds.TotalRefunded.IsZero())
	s.Require().Empty(stored.Refunds.History)
	s.Require().Equal(order.Version, stored.Version)
}

func (s *OrderServiceSuite) TestProcessRefund_Validation() {
	order := s.create(item("p-1", 1))

	_, err := s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.Zero})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	_, err = s.svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(-5)})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	_, err = s.svc.ProcessRefund(s.ctx, customer, order.ID, ordersvc.RefundRequest{Amount: decimal.NewFromInt(5)})
	s.Require().True(domain.IsKind(err, domain.KindForbidden))

	_, err = s.svc.ProcessRefund(s.ctx, owner, "missing", ordersvc.RefundRequest{Amount: decimal.NewFromInt(5)})
	s.Require().True(domain.IsKind(err, domain.KindNotFound))
}

func (s *OrderServiceSuite) TestGetOrder_Access() {
	order := s.create(item("p-1", 1))

	got, err := s.svc.GetOrder(s.ctx, customer, order.ID)
	s.Require().NoError(err)
	s.Require().Equal(order.ID, got.ID)

	_, err = s.svc.GetOrder(s.ctx, owner, order.ID)
	s.Require().NoError(err)

	_, err = s.svc.GetOrder(s.ctx, stranger, order.ID)
	s.Require().True(domain.IsKind(err, domain.KindForbidden))

	_, err = s.svc.GetOrder(s.ctx, customer, "missing")
	s.Require().True(domain.IsKind(err, domain.KindNotFound))
}

func (s *OrderServiceSuite) TestListOrders_ScopesAndPaging() {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := s.newService(zeroCostCalculator(), memory.NewSequenceGenerator(0), ordersvc.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		order, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-2", 1)))
		s.Require().NoError(err)
		ids = append(ids, order.ID)
	}
	_, err := svc.CreateOrder(s.ctx, stranger, s.request(item("p-2", 1)))
	s.Require().NoError(err)

	page, err := svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{Limit: 2})
	s.Require().NoError(err)
	s.Require().Equal(3, page.Total)
	s.Require().Equal(2, page.Pages)
	s.Require().Len(page.Items, 2)
	s.Require().Equal(ids[2], page.Items[0].ID, "newest first")

	page, err = svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{Page: 2, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Require().Equal(ids[0], page.Items[0].ID)

	page, err = svc.ListOrders(s.ctx, owner, ordersvc.ListFilter{Scope: domain.ListScopeBusiness, BusinessID: "biz-1", Limit: 500})
	s.Require().NoError(err)
	s.Require().Equal(4, page.Total)
	s.Require().Equal(100, page.Limit)

	page, err = svc.ListOrders(s.ctx, owner, ordersvc.ListFilter{BusinessID: "biz-1", Status: domain.OrderStatusCancelled})
	s.Require().NoError(err)
	s.Require().Zero(page.Total)
	s.Require().NotNil(page.Items)
	s.Require().Equal(10, page.Limit)

	_, err = svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{Scope: domain.ListScopeBusiness, BusinessID: "biz-1"})
	s.Require().True(domain.IsKind(err, domain.KindForbidden))

	_, err = svc.ListOrders(s.ctx, owner, ordersvc.ListFilter{Scope: domain.ListScopeBusiness})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	_, err = svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{Status: "lost"})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	for _, p := range []int{1_000_001, math.MaxInt} {
		_, err = svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{Page: p, Limit: 100})
		s.Require().True(domain.IsKind(err, domain.KindBadRequest), "page %d", p)
	}
	page, err = svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{Page: 1_000_000, Limit: 100})
	s.Require().NoError(err)
	s.Require().Empty(page.Items)
	s.Require().Equal(3, page.Total)

	from, to := clock, clock.Add(-time.Hour)
	_, err = svc.ListOrders(s.ctx, customer, ordersvc.ListFilter{From: &from, To: &to})
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))
}

func (s *OrderServiceSuite) TestTrackOrder() {
	order := s.create(item("p-1", 2))
	s.advance(order.ID, domain.OrderStatusConfirmed, domain.OrderStatusProcessing)
	_, err := s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{
		Status:         domain.OrderStatusShipped,
		TrackingNumber: "TRACK-9",
		Carrier:        "UPS",
	})
	s.Require().NoError(err)

	view, err := s.svc.TrackOrder(s.ctx, customer, order.Number)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusShipped, view.Status)
	s.Require().Equal("TRACK-9", view.TrackingNumber)
	s.Require().Equal("UPS", view.Carrier)
	s.Require().NotNil(view.ShippedAt)
	s.Require().Nil(view.DeliveredAt)
	s.Require().Equal([]ordersvc.TrackedItem{{Name: "Product p-1", SKU: "SKU-p-1", Qty: 2}}, view.Items)

	_, err = s.svc.TrackOrder(s.ctx, stranger, order.Number)
	s.Require().True(domain.IsKind(err, domain.KindForbidden))

	_, err = s.svc.TrackOrder(s.ctx, customer, "ORD-99999999")
	s.Require().True(domain.IsKind(err, domain.KindNotFound))
}

func (s *OrderServiceSuite) TestCapturePayment() {
	order := s.create(item("p-1", 1))

	paid, err := s.svc.CapturePayment(s.ctx, customer, order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.PaymentStatusPaid, paid.PaymentStatus)
	s.Require().Equal(domain.OrderStatusPending, paid.Status)
	s.requireStock("p-1", 4, 1)

	_, err = s.svc.CapturePayment(s.ctx, customer, order.ID)
	s.Require().True(domain.IsKind(err, domain.KindBadRequest))

	other := s.create(item("p-1", 1))
	s.gateway.CaptureErr = errors.New("card declined")
	_, err = s.svc.CapturePayment(s.ctx, customer, other.ID)
	s.Require().ErrorIs(err, domain.ErrPaymentGateway)

	_, err = s.svc.CapturePayment(s.ctx, stranger, other.ID)
	s.Require().True(domain.IsKind(err, domain.KindForbidden))

	s.Require().Eventually(func() bool {
		for _, t := range s.notifier.types() {
			if t == domain.EventPaymentUpdated {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func (s *OrderServiceSuite) TestNotificationFailureDoesNotFailOperation() {
	s.notifier.err = errors.New("broker down")

	order := s.create(item("p-1", 1))
	_, err := s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusConfirmed})
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	s.Require().NoError(s.svc.Shutdown(ctx))
	s.Require().ElementsMatch([]domain.EventType{domain.EventOrderCreated, domain.EventOrderStatusChanged}, s.notifier.types())

	// после Shutdown события не отправляются, операции продолжают работать
	_, err = s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusProcessing})
	s.Require().NoError(err)
	s.Require().Len(s.notifier.types(), 2)
}

// cancelOnSave отменяет контекст вызова сразу после успешного Save.
type cancelOnSave struct {
	domain.OrderRepository
	cancel context.CancelFunc
}

func (r *cancelOnSave) Save(ctx context.Context, order domain.Order) error {
	if err := r.OrderRepository.Save(ctx, order); err != nil {
		return err
	}
	r.cancel()
	return nil
}

// storesTx выполняет fn поверх тех же хранилищ и может сорвать фиксацию.
type storesTx struct {
	stores    domain.TxStores
	commitErr error

	mu    sync.Mutex
	calls int
}

func (t *storesTx) InTx(ctx context.Context, fn func(context.Context, domain.TxStores) error) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if err := fn(ctx, t.stores); err != nil {
		return err
	}
	return t.commitErr
}

func (t *storesTx) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (s *OrderServiceSuite) transactional() (*ordersvc.Service, *storesTx) {
	tx := &storesTx{stores: domain.TxStores{Ledger: s.ledger, Orders: s.orders}}
	svc, err := ordersvc.NewService(ordersvc.Dependencies{
		Catalog:  s.products,
		Ledger:   s.ledger,
		Orders:   s.orders,
		Numbers:  memory.NewSequenceGenerator(100),
		Pricing:  zeroCostCalculator(),
		Payments: s.gateway,
		Notifier: s.notifier,
		Tx:       tx,
	}, ordersvc.WithLogger(loggerForTests()))
	s.Require().NoError(err)
	return svc, tx
}

func (s *OrderServiceSuite) TestUpdateStatus_CancelWithCancelledContextReleasesStock() {
	order := s.create(item("p-1", 3))
	s.requireStock("p-1", 2, 3)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	cancelled, err := s.svc.UpdateStatus(ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusCancelled})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.requireStock("p-1", 5, 0)
}

func (s *OrderServiceSuite) TestStockEffectsRunAfterCallerGoesAway() {
	s.Run("cancel releases", func() {
		order := s.create(item("p-2", 4))
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		s.orders = &cancelOnSave{OrderRepository: s.orders, cancel: cancel}
		svc := s.newService(zeroCostCalculator(), memory.NewSequenceGenerator(10))

		_, err := svc.UpdateStatus(ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusCancelled})
		s.Require().NoError(err)
		s.Require().Error(ctx.Err())
		s.requireStock("p-2", 10, 0)
	})

	s.Run("deliver consumes", func() {
		order := s.create(item("p-1", 3))
		s.advance(order.ID, domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped)
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		s.orders = &cancelOnSave{OrderRepository: s.orders, cancel: cancel}
		svc := s.newService(zeroCostCalculator(), memory.NewSequenceGenerator(20))

		delivered, err := svc.UpdateStatus(ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusDelivered})
		s.Require().NoError(err)
		s.Require().Equal(domain.OrderStatusDelivered, delivered.Status)
		s.requireStock("p-1", 2, 0)
	})

	s.Run("refund restocks", func() {
		order := s.create(item("p-2", 2))
		s.advance(order.ID, domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered)
		s.requireStock("p-2", 8, 0)
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		s.orders = &cancelOnSave{OrderRepository: s.orders, cancel: cancel}
		svc := s.newService(zeroCostCalculator(), memory.NewSequenceGenerator(30))

		_, err := svc.ProcessRefund(ctx, owner, order.ID, ordersvc.RefundRequest{
			Amount: decimal.NewFromInt(10),
			Items:  []domain.RefundItem{{ProductID: "p-2", Qty: 2}},
		})
		s.Require().NoError(err)
		s.requireStock("p-2", 10, 0)
	})
}

func (s *OrderServiceSuite) TestUpdateStatus_StockFailureWithoutTransactionIsLogged() {
	order := s.create(item("p-1", 2))
	s.ledger.FailOn("release", "p-1", errors.New("ledger unavailable"))

	cancelled, err := s.svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusCancelled})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
}

func (s *OrderServiceSuite) TestTransactor_CreateRunsInsideTransaction() {
	svc, tx := s.transactional()

	order, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-2", 1), item("p-1", 2)))
	s.Require().NoError(err)
	s.Require().Equal(1, tx.count())
	s.requireStock("p-1", 3, 2)
	s.requireStock("p-2", 9, 1)

	reserves := s.ledger.CallsOf("reserve")
	s.Require().Len(reserves, 2)
	s.Require().Equal("p-1", reserves[0].ProductID, "reservations follow product id order")
	s.Require().Equal("p-2", reserves[1].ProductID)

	stored, err := s.orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Equal(order.Number, stored.Number)
}

func (s *OrderServiceSuite) TestTransactor_CreateLeavesRollbackToStorage() {
	svc, tx := s.transactional()
	s.seed("p-low", "biz-1", 1, "5")

	_, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 2), item("p-low", 2)))
	s.Require().True(domain.IsKind(err, domain.KindConflict))
	s.Require().ErrorIs(err, domain.ErrOutOfStock)
	s.Require().Equal(1, tx.count())
	s.Require().Empty(s.ledger.CallsOf("release"))

	tx.commitErr = errors.New("commit failed")
	_, err = svc.CreateOrder(s.ctx, customer, s.request(item("p-2", 1)))
	s.Require().True(domain.IsKind(err, domain.KindInternal))
}

func (s *OrderServiceSuite) TestTransactor_StatusAndRefundCommitTogether() {
	svc, tx := s.transactional()
	order, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 3)))
	s.Require().NoError(err)

	for _, st := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		order, err = svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: st})
		s.Require().NoError(err)
	}
	s.Require().Equal(5, tx.count())
	s.Require().Equal(int64(4), order.Version)
	s.requireStock("p-1", 2, 0)

	refunded, err := svc.ProcessRefund(s.ctx, owner, order.ID, ordersvc.RefundRequest{
		Amount: decimal.NewFromInt(100),
		Items:  []domain.RefundItem{{ProductID: "p-1", Qty: 1}},
	})
	s.Require().NoError(err)
	s.Require().Equal(6, tx.count())
	s.Require().Equal(int64(5), refunded.Version)
	s.requireStock("p-1", 3, 0)
}

func (s *OrderServiceSuite) TestTransactor_FailuresAbortTheOperation() {
	svc, tx := s.transactional()
	order, err := svc.CreateOrder(s.ctx, customer, s.request(item("p-1", 2)))
	s.Require().NoError(err)

	tx.commitErr = errors.New("connection reset")
	_, err = svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusConfirmed})
	s.Require().True(domain.IsKind(err, domain.KindInternal))
	s.Require().ErrorContains(err, "update_status: transaction")

	tx.commitErr = nil
	s.ledger.FailOn("release", "p-1", errors.New("ledger unavailable"))
	_, err = svc.UpdateStatus(s.ctx, owner, order.ID, ordersvc.UpdateStatusRequest{Status: domain.OrderStatusCancelled})
	s.Require().True(domain.IsKind(err, domain.KindInternal))
	s.Require().ErrorContains(err, "apply stock effects")
}

func TestNewService_RequiresPorts(t *testing.T) {
	_, err := ordersvc.NewService(ordersvc.Dependencies{})
	require.Error(t, err)

	products := memory.NewProductRepository()
	svc, err := ordersvc.NewService(ordersvc.Dependencies{
		Catalog: products,
		Ledger:  products,
		Orders:  memory.NewOrderRepository(),
		Numbers: memory.NewSequenceGenerator(0),
	})
	require.NoError(t, err)
	require.NotNil(t, svc)
}
