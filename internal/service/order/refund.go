package ordersvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// RefundRequest задаёт сумму возврата и позиции, которые вернутся на склад.
type RefundRequest struct {
	Amount decimal.Decimal     `json:"amount"`
	Reason string              `json:"reason"`
	Items  []domain.RefundItem `json:"items,omitempty"`
}

// ProcessRefund проводит возврат через платёжный шлюз, дописывает запись в журнал возвратов
// и возвращает перечисленные позиции на склад.
func (s *Service) ProcessRefund(ctx context.Context, caller domain.Caller, orderID string, req RefundRequest) (domain.Order, error) {
	if !req.Amount.IsPositive() {
		return domain.Order{}, domain.BadRequest("refund amount must be greater than zero")
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID, "refund")
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(caller, domain.ActionRefund, domain.Resource{BusinessID: order.BusinessID, CustomerID: order.CustomerID}); err != nil {
		return domain.Order{}, err
	}

	maxRefundable := order.MaxRefundable()
	if req.Amount.GreaterThan(maxRefundable) {
		return domain.Order{}, domain.BadRequest("refund amount %s exceeds maximum refundable %s",
			req.Amount.StringFixed(2), maxRefundable.StringFixed(2))
	}
	if err := validateRefundItems(&order, req.Items); err != nil {
		return domain.Order{}, err
	}

	hookCtx, cancel := s.external(ctx)
	err = s.payments.Refund(hookCtx, order.ID, req.Amount)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("payment refund failed")
		return domain.Order{}, domain.WrapError(domain.KindInternal, domain.ErrPaymentGateway, "refund order %s", order.Number)
	}

	now := s.now()
	prev := order.Status
	order.Refunds.Append(domain.RefundRecord{
		ID:          newRefundID(),
		Amount:      req.Amount,
		Reason:      req.Reason,
		Items:       append([]domain.RefundItem(nil), req.Items...),
		ProcessedBy: caller.UserID,
		ProcessedAt: now,
	})
	for _, ri := range req.Items {
		item, _ := order.Item(ri.ProductID)
		item.RefundedQty += ri.Qty
	}
	fully := order.FullyRefunded()
	order.PaymentStatus = domain.PaymentStatusFor(fully)
	if fully && order.Status != domain.OrderStatusCancelled && order.Status != domain.OrderStatusRefunded {
		order.Status = domain.OrderStatusRefunded
		order.Timestamps.Stamp(domain.OrderStatusRefunded, now)
	}
	order.UpdatedAt = now

	restock := func(ctx context.Context, ledger domain.StockLedger) error {
		var errs []error
		for _, ri := range req.Items {
			if err := ledger.Restock(ctx, ri.ProductID, int64(ri.Qty)); err != nil {
				errs = append(errs, fmt.Errorf("restock %d of product %s: %w", ri.Qty, ri.ProductID, err))
			}
		}
		return errors.Join(errs...)
	}
	if err := s.commit(ctx, &order, "refund", restock); err != nil {
		// Деньги уже возвращены шлюзом, а запись не сохранилась: нужна ручная сверка.
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"amount":   req.Amount.StringFixed(2),
		}).Error("refund captured by gateway but not recorded")
		return domain.Order{}, err
	}

	s.metrics.RecordRefund(req.Amount)
	if order.Status != prev {
		s.metrics.RecordTransition(string(prev), string(order.Status))
	}
	s.notify(domain.EventOrderRefunded, order, prev)

	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"amount":         req.Amount.StringFixed(2),
		"total_refunded": order.Refunds.TotalRefunded.StringFixed(2),
		"status":         order.Status,
	}).Info("refund processed")
	return order, nil
}

// validateRefundItems проверяет, что каждая позиция есть в заказе и не возвращается сверх заказанного.
// У заказа в терминальном статусе склад больше не двигается.
func validateRefundItems(order *domain.Order, items []domain.RefundItem) error {
	if len(items) == 0 {
		return nil
	}
	if order.Status.IsTerminal() {
		return domain.BadRequest("cannot restock items of a %s order", order.Status)
	}

	requested := make(map[string]int32, len(items))
	for i, ri := range items {
		if ri.Qty <= 0 {
			return domain.WrapError(domain.KindBadRequest, domain.ErrQtyInvalid, "items[%d].qty must be > 0", i)
		}
		item, ok := order.Item(ri.ProductID)
		if !ok {
			return domain.NotFound("product %s is not part of order %s", ri.ProductID, order.Number)
		}
		requested[ri.ProductID] += ri.Qty
		if left := item.Qty - item.RefundedQty; requested[ri.ProductID] > left {
			return domain.BadRequest("cannot refund %d of product %s: only %d left", requested[ri.ProductID], ri.ProductID, left)
		}
	}
	return nil
}
