package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибку, по нему транспорт выбирает код ответа.
type ErrorKind string

const (
	KindBadRequest        ErrorKind = "bad_request"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindForbidden         ErrorKind = "forbidden"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindInternal          ErrorKind = "internal"
)

// Error несёт категорию, сообщение для клиента и исходную причину.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создаёт ошибку заданной категории.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError прикрепляет к причине категорию и сообщение.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// BadRequest, NotFound и прочие служат короткими конструкторами для сервисного слоя.
func BadRequest(format string, args ...any) *Error {
	return NewError(KindBadRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return NewError(KindForbidden, format, args...)
}

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = &Error{Kind: KindNotFound, Message: "order not found"}
	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = &Error{Kind: KindNotFound, Message: "product not found"}
	// ErrOutOfStock — на складе недостаточно доступного остатка.
	ErrOutOfStock = &Error{Kind: KindConflict, Message: "insufficient stock"}
	// ErrInvalidTransition — переход статуса отсутствует в таблице переходов.
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	// ErrForbidden возвращается, если у вызывающего нет роли или владения ресурсом.
	ErrForbidden = &Error{Kind: KindForbidden, Message: "access denied"}
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = &Error{Kind: KindConflict, Message: "order version conflict"}
	// ErrOrderExists возвращается при повторном ID или номере заказа.
	ErrOrderExists = &Error{Kind: KindConflict, Message: "order already exists"}
	// ErrProductExists возвращается при повторном ID товара.
	ErrProductExists = &Error{Kind: KindConflict, Message: "product already exists"}
	// ErrQtyInvalid — количество должно быть положительным.
	ErrQtyInvalid = &Error{Kind: KindBadRequest, Message: "quantity must be greater than zero"}
	// ErrEmptyCart: в корзине нет позиций.
	ErrEmptyCart = &Error{Kind: KindBadRequest, Message: "order must contain at least one item"}
	// ErrPaymentGateway — платёжный провайдер вернул ошибку.
	ErrPaymentGateway = &Error{Kind: KindInternal, Message: "payment gateway failure"}
)

// Ошибки инвариантов заказа.
var (
	ErrBusinessRequired = errors.New("business_id is required")
	ErrCustomerRequired = errors.New("customer_id is required")
	ErrNumberRequired   = errors.New("order number is required")
	ErrItemsRequired    = errors.New("order must contain at least one item")
	ErrItemQtyInvalid   = errors.New("item qty must be greater than zero")
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	ErrItemTotalInvalid = errors.New("item total does not match qty * unit price")
	ErrSubtotalMismatch = errors.New("pricing subtotal does not match items sum")
	ErrTotalMismatch    = errors.New("pricing total does not match its components")
	ErrOverRefunded     = errors.New("refunded amount exceeds order total")
)

// KindOf возвращает категорию ошибки; неизвестные ошибки считаются внутренними.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind проверяет категорию ошибки.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
