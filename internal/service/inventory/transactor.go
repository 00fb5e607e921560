package inventory

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	"github.com/vladislavdragonenkov/settlement/internal/metrics"
)

// MeteredTransactor оборачивает склад каждой транзакции в MeteredLedger.
type MeteredTransactor struct {
	next    domain.Transactor
	metrics *metrics.SettlementMetrics
	logger  *log.Entry
}

// NewMeteredTransactor оборачивает next. metrics и logger могут быть nil.
func NewMeteredTransactor(next domain.Transactor, m *metrics.SettlementMetrics, logger *log.Entry) *MeteredTransactor {
	return &MeteredTransactor{next: next, metrics: m, logger: logger}
}

func (t *MeteredTransactor) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.TxStores) error) error {
	return t.next.InTx(ctx, func(ctx context.Context, tx domain.TxStores) error {
		tx.Ledger = NewMeteredLedger(tx.Ledger, t.metrics, t.logger)
		return fn(ctx, tx)
	})
}

var _ domain.Transactor = (*MeteredTransactor)(nil)
