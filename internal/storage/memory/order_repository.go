package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository на карте в памяти.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	byNumber map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:    make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderExists
	}
	if _, exists := r.byNumber[order.Number]; exists {
		return domain.ErrOrderExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order.Clone()
	r.byNumber[order.Number] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *orderRepositoryInMemory) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

// List возвращает страницу заказов от новых к старым.
func (r *orderRepositoryInMemory) List(_ context.Context, q domain.OrderQuery) ([]domain.Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if !matches(order, q) {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	total := len(result)
	if q.Offset > 0 {
		if q.Offset >= len(result) {
			result = result[:0]
		} else {
			result = result[q.Offset:]
		}
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}

	out := make([]domain.Order, len(result))
	for i, o := range result {
		out[i] = o.Clone()
	}
	return out, total, nil
}

// ListByBusiness возвращает заказы магазина в интервале, от старых к новым.
func (r *orderRepositoryInMemory) ListByBusiness(_ context.Context, businessID string, from, to time.Time) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.BusinessID != businessID {
			continue
		}
		if order.CreatedAt.Before(from) || order.CreatedAt.After(to) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Number < result[j].Number
	})
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order = order.Clone()
	order.Version++
	r.items[order.ID] = order
	return nil
}

func matches(o domain.Order, q domain.OrderQuery) bool {
	if q.CustomerID != "" && o.CustomerID != q.CustomerID {
		return false
	}
	if q.BusinessID != "" && o.BusinessID != q.BusinessID {
		return false
	}
	if q.Status != "" && o.Status != q.Status {
		return false
	}
	if q.PaymentStatus != "" && o.PaymentStatus != q.PaymentStatus {
		return false
	}
	if q.From != nil && o.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && o.CreatedAt.After(*q.To) {
		return false
	}
	return true
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
