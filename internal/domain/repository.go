package domain

import (
	"context"
	"time"
)

// ListScope задаёт, чьи заказы перечисляются.
type ListScope string

const (
	// ListScopeCustomer — заказы покупателя.
	ListScopeCustomer ListScope = "customer"
	// ListScopeBusiness — заказы магазина.
	ListScopeBusiness ListScope = "business"
)

// OrderQuery передаёт хранилищу фильтр и окно выборки заказов.
type OrderQuery struct {
	CustomerID    string
	BusinessID    string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	From          *time.Time
	To            *time.Time
	Offset        int
	Limit         int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если ID или номер заняты.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по номеру.
	GetByNumber(ctx context.Context, number string) (Order, error)
	// List возвращает страницу заказов от новых к старым и общее число подходящих записей.
	List(ctx context.Context, q OrderQuery) ([]Order, int, error)
	// ListByBusiness возвращает заказы магазина в интервале [from, to] от старых к новым.
	ListByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}
