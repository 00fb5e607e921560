package ordersvc

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// UpdateStatusRequest описывает целевой статус и данные отправления.
type UpdateStatusRequest struct {
	Status         domain.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	Carrier        string             `json:"carrier,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

// UpdateStatus переводит заказ по таблице переходов и применяет складские последствия:
// отмена до отгрузки снимает резервы, доставка списывает их.
func (s *Service) UpdateStatus(ctx context.Context, caller domain.Caller, orderID string, req UpdateStatusRequest) (domain.Order, error) {
	target, err := domain.ParseOrderStatus(string(req.Status))
	if err != nil {
		return domain.Order{}, err
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID, "update_status")
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(caller, domain.ActionUpdateStatus, domain.Resource{BusinessID: order.BusinessID, CustomerID: order.CustomerID}); err != nil {
		return domain.Order{}, err
	}
	if err := domain.ValidateTransition(order.Status, target); err != nil {
		return domain.Order{}, err
	}

	prev := order.Status
	now := s.now()
	order.Status = target
	order.Timestamps.Stamp(target, now)
	if req.TrackingNumber != "" {
		order.Tracking.Number = req.TrackingNumber
	}
	if req.Carrier != "" {
		order.Tracking.Carrier = req.Carrier
	}
	order.AddNote(req.Notes, caller.UserID, now)
	order.UpdatedAt = now

	effects := func(ctx context.Context, ledger domain.StockLedger) error {
		return applyStockEffects(ctx, ledger, order, prev, target)
	}
	if err := s.commit(ctx, &order, "update_status", effects); err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordTransition(string(prev), string(target))
	s.notify(domain.EventOrderStatusChanged, order, prev)

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     prev,
		"to":       target,
		"by":       caller.UserID,
	}).Info("order status changed")
	return order, nil
}

// applyStockEffects проходит по всем позициям даже после ошибки одной из них,
// чтобы остальные резервы не застряли.
func applyStockEffects(ctx context.Context, ledger domain.StockLedger, order domain.Order, from, to domain.OrderStatus) error {
	var (
		op string
		fn func(context.Context, string, int64) error
	)
	switch {
	case to == domain.OrderStatusCancelled && from.HoldsReservation():
		op, fn = "release", ledger.Release
	case to == domain.OrderStatusDelivered:
		op, fn = "consume", ledger.Consume
	default:
		return nil
	}

	var errs []error
	for _, item := range order.Items {
		if err := fn(ctx, item.ProductID, int64(item.Qty)); err != nil {
			errs = append(errs, fmt.Errorf("%s %d of product %s: %w", op, item.Qty, item.ProductID, err))
		}
	}
	return errors.Join(errs...)
}
