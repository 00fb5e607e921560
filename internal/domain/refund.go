package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundItem — позиция, возвращаемая на склад в рамках возврата.
type RefundItem struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

// RefundRecord описывает один возврат. Журнал только дописывается.
type RefundRecord struct {
	ID          string
	Amount      decimal.Decimal
	Reason      string
	Items       []RefundItem
	ProcessedBy string
	ProcessedAt time.Time
}

// RefundLedger накапливает возвраты по заказу.
type RefundLedger struct {
	TotalRefunded decimal.Decimal
	History       []RefundRecord
}

// Append добавляет запись и увеличивает накопленную сумму.
func (l *RefundLedger) Append(rec RefundRecord) {
	l.History = append(l.History, rec)
	l.TotalRefunded = l.TotalRefunded.Add(rec.Amount)
}
