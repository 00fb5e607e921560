package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID string
	// Name и SKU копируются из каталога при создании, чтобы заказ читался без каталога.
	Name string
	SKU  string
	// Qty считается в единицах товара.
	Qty int32
	// UnitPrice фиксируется при создании заказа и больше не пересчитывается.
	UnitPrice decimal.Decimal
	// Total = Qty * UnitPrice.
	Total decimal.Decimal
	// RefundedQty показывает, сколько единиц позиции уже вернули на склад возвратами.
	RefundedQty int32
}

// Pricing раскладывает итог заказа на составляющие.
type Pricing struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Address — адрес доставки или оплаты.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// IsZero сообщает, что адрес не заполнен.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Tracking хранит трек-номер и перевозчика.
type Tracking struct {
	Number  string
	Carrier string
}

// Note добавляется к заказу при смене статуса.
type Note struct {
	Text    string
	AddedBy string
	AddedAt time.Time
}

// StatusTimestamps хранит момент входа в каждый достигнутый статус.
type StatusTimestamps struct {
	ConfirmedAt  *time.Time
	ProcessingAt *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	ReturnedAt   *time.Time
	RefundedAt   *time.Time
}

// Stamp отмечает вход в статус. pending отмечается CreatedAt заказа.
func (t *StatusTimestamps) Stamp(status OrderStatus, at time.Time) {
	ts := at
	switch status {
	case OrderStatusConfirmed:
		t.ConfirmedAt = &ts
	case OrderStatusProcessing:
		t.ProcessingAt = &ts
	case OrderStatusShipped:
		t.ShippedAt = &ts
	case OrderStatusDelivered:
		t.DeliveredAt = &ts
	case OrderStatusCancelled:
		t.CancelledAt = &ts
	case OrderStatusReturned:
		t.ReturnedAt = &ts
	case OrderStatusRefunded:
		t.RefundedAt = &ts
	}
}

// At возвращает отметку статуса или nil, если заказ в него не входил.
func (t StatusTimestamps) At(status OrderStatus) *time.Time {
	switch status {
	case OrderStatusConfirmed:
		return t.ConfirmedAt
	case OrderStatusProcessing:
		return t.ProcessingAt
	case OrderStatusShipped:
		return t.ShippedAt
	case OrderStatusDelivered:
		return t.DeliveredAt
	case OrderStatusCancelled:
		return t.CancelledAt
	case OrderStatusReturned:
		return t.ReturnedAt
	case OrderStatusRefunded:
		return t.RefundedAt
	default:
		return nil
	}
}

// Order агрегирует состояние заказа, его позиции и журнал возвратов.
type Order struct {
	ID              string
	Number          string
	BusinessID      string
	CustomerID      string
	Items           []OrderItem
	Pricing         Pricing
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	CouponCode      string
	ShippingAddress Address
	BillingAddress  Address
	Tracking        Tracking
	Notes           []Note
	Refunds         RefundLedger
	Timestamps      StatusTimestamps
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item возвращает позицию по товару.
func (o *Order) Item(productID string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// MaxRefundable возвращает сумму, которую ещё можно вернуть по заказу.
func (o *Order) MaxRefundable() decimal.Decimal {
	left := o.Pricing.Total.Sub(o.Refunds.TotalRefunded)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// FullyRefunded сообщает, что возвращена вся сумма заказа.
func (o *Order) FullyRefunded() bool {
	return o.Refunds.TotalRefunded.GreaterThanOrEqual(o.Pricing.Total)
}

// AddNote добавляет непустую заметку.
func (o *Order) AddNote(text, by string, at time.Time) {
	if text == "" {
		return
	}
	o.Notes = append(o.Notes, Note{Text: text, AddedBy: by, AddedAt: at})
}

// Clone возвращает копию заказа, не разделяющую слайсы и указатели с оригиналом.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.Notes = append([]Note(nil), o.Notes...)
	out.Refunds.History = make([]RefundRecord, len(o.Refunds.History))
	for i, rec := range o.Refunds.History {
		rec.Items = append([]RefundItem(nil), rec.Items...)
		out.Refunds.History[i] = rec
	}
	out.Timestamps = StatusTimestamps{}
	for _, s := range AllOrderStatuses {
		if at := o.Timestamps.At(s); at != nil {
			out.Timestamps.Stamp(s, *at)
		}
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BusinessID == "" {
		errs = append(errs, ErrBusinessRequired)
	}
	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Number == "" {
		errs = append(errs, ErrNumberRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	// Сверяем subtotal с суммой позиций: Σ qty * unit.
	subtotal := decimal.Zero
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !item.UnitPrice.Mul(decimal.NewFromInt32(item.Qty)).Equal(item.Total) {
			errs = append(errs, ErrItemTotalInvalid)
		}
		subtotal = subtotal.Add(item.Total)
	}
	if !subtotal.Equal(o.Pricing.Subtotal) {
		errs = append(errs, ErrSubtotalMismatch)
	}

	p := o.Pricing
	if !p.Subtotal.Sub(p.Discount).Add(p.Shipping).Add(p.Tax).Equal(p.Total) {
		errs = append(errs, ErrTotalMismatch)
	}
	if o.Refunds.TotalRefunded.GreaterThan(p.Total) {
		errs = append(errs, ErrOverRefunded)
	}

	return errs
}
