package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// productSlot держит товар и мьютекс, сериализующий операции над его счётчиками.
type productSlot struct {
	mu      sync.Mutex
	product domain.Product
}

// ProductRepository держит каталог и складские счётчики в памяти.
// Карта слотов защищена RWMutex, каждый товар защищён своим мьютексом,
// поэтому разные товары резервируются параллельно.
type ProductRepository struct {
	mu    sync.RWMutex
	slots map[string]*productSlot
	now   func() time.Time
}

// NewProductRepository создаёт пустой каталог.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		slots: make(map[string]*productSlot),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create заводит товар. Отрицательные счётчики отклоняются.
func (r *ProductRepository) Create(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return domain.BadRequest("product id is required")
	}
	if product.Available < 0 || product.Reserved < 0 {
		return domain.BadRequest("stock counters must be non-negative")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[product.ID]; exists {
		return domain.ErrProductExists
	}
	now := r.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	r.slots[product.ID] = &productSlot{product: product}
	return nil
}

// Get возвращает снимок товара.
func (r *ProductRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	slot, err := r.slot(productID)
	if err != nil {
		return domain.Product{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.product, nil
}

// ListByBusiness возвращает товары магазина, отсортированные по ID.
func (r *ProductRepository) ListByBusiness(_ context.Context, businessID string) ([]domain.Product, error) {
	r.mu.RLock()
	slots := make([]*productSlot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	out := make([]domain.Product, 0)
	for _, s := range slots {
		s.mu.Lock()
		p := s.product
		s.mu.Unlock()
		if p.BusinessID == businessID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reserve переводит qty из available в reserved.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, qty int64) error {
	return r.mutate(ctx, productID, qty, func(p *domain.Product) error {
		if p.Available < qty {
			return domain.ErrOutOfStock
		}
		p.Available -= qty
		p.Reserved += qty
		return nil
	})
}

// Release возвращает резерв в доступный остаток.
func (r *ProductRepository) Release(ctx context.Context, productID string, qty int64) error {
	return r.mutate(ctx, productID, qty, func(p *domain.Product) error {
		p.Reserved = floor(p.Reserved - qty)
		p.Available += qty
		return nil
	})
}

// Consume списывает резерв без возврата в доступный остаток.
func (r *ProductRepository) Consume(ctx context.Context, productID string, qty int64) error {
	return r.mutate(ctx, productID, qty, func(p *domain.Product) error {
		p.Reserved = floor(p.Reserved - qty)
		return nil
	})
}

// Restock возвращает товар в продажу.
func (r *ProductRepository) Restock(ctx context.Context, productID string, qty int64) error {
	return r.mutate(ctx, productID, qty, func(p *domain.Product) error {
		p.Available += qty
		return nil
	})
}

func (r *ProductRepository) mutate(ctx context.Context, productID string, qty int64, apply func(*domain.Product) error) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	slot, err := r.slot(productID)
	if err != nil {
		return err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	next := slot.product
	if err := apply(&next); err != nil {
		return err
	}
	next.UpdatedAt = r.now()
	slot.product = next
	return nil
}

func (r *ProductRepository) slot(productID string) (*productSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return s, nil
}

func floor(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

var _ domain.ProductStore = (*ProductRepository)(nil)
