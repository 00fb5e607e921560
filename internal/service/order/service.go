// Package ordersvc реализует жизненный цикл заказа: создание с резервом остатков,
// переходы статусов, возвраты и чтение заказов.
package ordersvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/auth"
	"github.com/vladislavdragonenkov/settlement/internal/domain"
	"github.com/vladislavdragonenkov/settlement/internal/metrics"
	"github.com/vladislavdragonenkov/settlement/internal/pricing"
	"github.com/vladislavdragonenkov/settlement/internal/service/payment"
)

const (
	// DefaultExternalCallTimeout ограничивает вызовы купонов, доставки, налога и платёжного шлюза.
	DefaultExternalCallTimeout = 3 * time.Second

	compensationTimeout = 5 * time.Second
	notifyTimeout       = 5 * time.Second
)

// Dependencies перечисляет порты, от которых зависит сервис.
type Dependencies struct {
	Catalog  domain.ProductCatalog
	Ledger   domain.StockLedger
	Orders   domain.OrderRepository
	Numbers  domain.OrderNumberGenerator
	Pricing  *pricing.Calculator
	Payments domain.PaymentGateway
	Authz    domain.Authorizer
	Notifier domain.Notifier
	// Tx, если задан, фиксирует резервы вместе с заказом, а смену статуса вместе со складом.
	// Без него склад и заказы пишутся по отдельности, а складские последствия не зависят от отмены запроса.
	Tx domain.Transactor
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithExternalCallTimeout задаёт таймаут внешних вызовов.
func WithExternalCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// Service управляет жизненным циклом заказов.
type Service struct {
	catalog  domain.ProductCatalog
	ledger   domain.StockLedger
	orders   domain.OrderRepository
	numbers  domain.OrderNumberGenerator
	pricing  *pricing.Calculator
	payments domain.PaymentGateway
	authz    domain.Authorizer
	notifier domain.Notifier
	tx       domain.Transactor

	metrics     *metrics.SettlementMetrics
	logger      *log.Entry
	now         func() time.Time
	callTimeout time.Duration

	locks *keyedMutex

	notifyMu     sync.Mutex
	notifyClosed bool
	notifyWG     sync.WaitGroup
}

// NewService собирает сервис. Catalog, Ledger, Orders и Numbers обязательны.
func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("product catalog is required")
	case deps.Ledger == nil:
		return nil, errors.New("stock ledger is required")
	case deps.Orders == nil:
		return nil, errors.New("order repository is required")
	case deps.Numbers == nil:
		return nil, errors.New("order number generator is required")
	}

	s := &Service{
		catalog:     deps.Catalog,
		ledger:      deps.Ledger,
		orders:      deps.Orders,
		numbers:     deps.Numbers,
		pricing:     deps.Pricing,
		payments:    deps.Payments,
		authz:       deps.Authz,
		notifier:    deps.Notifier,
		tx:          deps.Tx,
		logger:      log.New().WithField("component", "order-service"),
		now:         func() time.Time { return time.Now().UTC() },
		callTimeout: DefaultExternalCallTimeout,
		locks:       newKeyedMutex(),
	}
	if s.pricing == nil {
		s.pricing = pricing.NewCalculator()
	}
	if s.payments == nil {
		s.payments = payment.NewMockGateway()
	}
	if s.authz == nil {
		s.authz = auth.NewRoleAuthorizer()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Shutdown ожидает завершения фоновых уведомлений.
func (s *Service) Shutdown(ctx context.Context) error {
	s.notifyMu.Lock()
	s.notifyClosed = true
	s.notifyMu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		s.notifyWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runAsync(orderID string, fn func()) {
	s.notifyMu.Lock()
	if s.notifyClosed {
		s.notifyMu.Unlock()
		s.logger.WithField("order_id", orderID).Warn("notification skipped during shutdown")
		return
	}
	s.notifyWG.Add(1)
	s.notifyMu.Unlock()

	go func() {
		defer s.notifyWG.Done()
		fn()
	}()
}

// notify отправляет событие в фоне. Ошибка доставки не влияет на результат операции.
func (s *Service) notify(eventType domain.EventType, order domain.Order, prev domain.OrderStatus) {
	if s.notifier == nil {
		return
	}
	event := domain.NewOrderEvent(eventType, order, prev, s.now())

	s.runAsync(order.ID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, event); err != nil {
			s.metrics.RecordNotifyFailure()
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": event.OrderID,
				"event":    event.Type,
			}).Warn("order notification failed")
		}
	})
}

func (s *Service) authorize(caller domain.Caller, action domain.Action, resource domain.Resource) error {
	if s.authz.Authorize(caller, action, resource) {
		return nil
	}
	return domain.WrapError(domain.KindForbidden, domain.ErrForbidden, "%s is not allowed", action)
}

// external ограничивает контекст внешнего вызова таймаутом сервиса.
func (s *Service) external(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

func (s *Service) loadOrder(ctx context.Context, orderID, operation string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.BadRequest("order id is required")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err == nil {
		return order, nil
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, err
	}

	s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	}).Error("failed to load order")
	return domain.Order{}, domain.WrapError(domain.KindInternal, err, "load order")
}

// saveOrder сохраняет заказ и продвигает локальную копию на новую версию.
func (s *Service) saveOrder(ctx context.Context, orders domain.OrderRepository, order *domain.Order, operation string) error {
	if err := orders.Save(ctx, *order); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"order_id":  order.ID,
		}).Error("failed to save order")

		switch {
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrOrderVersionConflict):
			return err
		default:
			return domain.WrapError(domain.KindInternal, err, "save order")
		}
	}
	order.Version++
	return nil
}

// commit сохраняет заказ и применяет складские последствия.
// С Transactor оба шага фиксируются одной транзакцией и отменяются вместе.
// Без него склад меняется после сохранения на контексте, отвязанном от отмены запроса,
// а ошибка склада только логируется.
func (s *Service) commit(ctx context.Context, order *domain.Order, operation string, effects func(context.Context, domain.StockLedger) error) error {
	if s.tx != nil {
		var saved domain.Order
		err := s.tx.InTx(ctx, func(ctx context.Context, tx domain.TxStores) error {
			saved = *order
			if err := s.saveOrder(ctx, tx.Orders, &saved, operation); err != nil {
				return err
			}
			if err := effects(ctx, tx.Ledger); err != nil {
				return domain.WrapError(domain.KindInternal, err, "%s: apply stock effects", operation)
			}
			return nil
		})
		if err != nil {
			return s.txError(err, operation, order.ID)
		}
		*order = saved
		return nil
	}

	if err := s.saveOrder(ctx, s.orders, order, operation); err != nil {
		return err
	}
	effCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := effects(effCtx, s.ledger); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"order_id":  order.ID,
		}).Error("stock side effect failed")
	}
	return nil
}

// txError оставляет доменные ошибки как есть, а сбои начала или фиксации транзакции делает внутренними.
func (s *Service) txError(err error, operation, orderID string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	}).Error("transaction failed")
	return domain.WrapError(domain.KindInternal, err, "%s: transaction", operation)
}

func newOrderID() string {
	return uuid.NewString()
}

func newRefundID() string {
	return fmt.Sprintf("REF-%s", uuid.NewString())
}
