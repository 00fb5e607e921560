package ordersvc

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// CapturePayment списывает оплату через шлюз. Статус заказа и склад не меняются.
func (s *Service) CapturePayment(ctx context.Context, caller domain.Caller, orderID string) (domain.Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID, "capture_payment")
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(caller, domain.ActionCapturePayment, domain.Resource{BusinessID: order.BusinessID, CustomerID: order.CustomerID}); err != nil {
		return domain.Order{}, err
	}
	if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusFailed {
		return domain.Order{}, domain.BadRequest("payment is already %s", order.PaymentStatus)
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, domain.BadRequest("cannot capture payment for a cancelled order")
	}

	hookCtx, cancel := s.external(ctx)
	result, err := s.payments.Capture(hookCtx, order.ID, order.PaymentMethod, order.Pricing.Total)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("payment capture failed")
		return domain.Order{}, domain.WrapError(domain.KindInternal, domain.ErrPaymentGateway, "capture payment for order %s", order.Number)
	}
	if result != domain.PaymentStatusPaid && result != domain.PaymentStatusFailed {
		return domain.Order{}, domain.WrapError(domain.KindInternal, domain.ErrPaymentGateway, "unexpected capture result %q", result)
	}

	order.PaymentStatus = result
	order.UpdatedAt = s.now()
	if err := s.saveOrder(ctx, s.orders, &order, "capture_payment"); err != nil {
		return domain.Order{}, err
	}
	s.notify(domain.EventPaymentUpdated, order, order.Status)

	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_status": order.PaymentStatus,
	}).Info("payment captured")
	return order, nil
}
