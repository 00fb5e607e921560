// Package inventory содержит обёртки над складским учётом.
package inventory

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	"github.com/vladislavdragonenkov/settlement/internal/metrics"
)

// MeteredLedger добавляет к StockLedger метрики длительности и журналирование отказов.
type MeteredLedger struct {
	next    domain.StockLedger
	metrics *metrics.SettlementMetrics
	logger  *log.Entry
}

// NewMeteredLedger оборачивает ledger. metrics и logger могут быть nil.
func NewMeteredLedger(next domain.StockLedger, m *metrics.SettlementMetrics, logger *log.Entry) *MeteredLedger {
	if logger == nil {
		logger = log.New().WithField("component", "stock-ledger")
	}
	return &MeteredLedger{next: next, metrics: m, logger: logger}
}

func (l *MeteredLedger) Reserve(ctx context.Context, productID string, qty int64) error {
	err := l.observe("reserve", productID, qty, func() error { return l.next.Reserve(ctx, productID, qty) })
	if errors.Is(err, domain.ErrOutOfStock) {
		l.metrics.RecordReservationConflict()
	}
	return err
}

func (l *MeteredLedger) Release(ctx context.Context, productID string, qty int64) error {
	return l.observe("release", productID, qty, func() error { return l.next.Release(ctx, productID, qty) })
}

func (l *MeteredLedger) Consume(ctx context.Context, productID string, qty int64) error {
	return l.observe("consume", productID, qty, func() error { return l.next.Consume(ctx, productID, qty) })
}

func (l *MeteredLedger) Restock(ctx context.Context, productID string, qty int64) error {
	return l.observe("restock", productID, qty, func() error { return l.next.Restock(ctx, productID, qty) })
}

func (l *MeteredLedger) observe(op, productID string, qty int64, fn func() error) error {
	start := time.Now()
	err := fn()
	l.metrics.RecordStockOp(op, err, time.Since(start))

	if err != nil && domain.KindOf(err) == domain.KindInternal {
		l.logger.WithError(err).WithFields(log.Fields{
			"op":         op,
			"product_id": productID,
			"qty":        qty,
		}).Error("stock operation failed")
	}
	return err
}

var _ domain.StockLedger = (*MeteredLedger)(nil)
