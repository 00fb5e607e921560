package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// ProductRepository хранит каталог и складские счётчики в PostgreSQL.
// Каждая складская операция выполняется одним UPDATE: блокировка строки на время
// оператора сериализует конкурентные изменения одного товара.
type ProductRepository struct {
	db querier
}

// NewProductRepository создаёт PostgreSQL-реализацию каталога и StockLedger.
func NewProductRepository(store *Store) *ProductRepository {
	return &ProductRepository{db: store.DB()}
}

const productColumns = `id, business_id, name, sku, price, sale_price, weight, available, reserved, active, created_at, updated_at`

func (r *ProductRepository) Create(ctx context.Context, p domain.Product) error {
	if p.ID == "" {
		return domain.BadRequest("product id is required")
	}
	if p.Available < 0 || p.Reserved < 0 {
		return domain.BadRequest("stock counters must be non-negative")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,COALESCE($11, NOW()),NOW())
	`,
		p.ID, p.BusinessID, p.Name, p.SKU, p.Price, p.SalePrice, p.Weight,
		p.Available, p.Reserved, p.Active, nullTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductExists
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) ListByBusiness(ctx context.Context, businessID string) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE business_id = $1 ORDER BY id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return out, nil
}

// Reserve переводит qty из available в reserved, только если остатка хватает.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, qty int64) error {
	return r.apply(ctx, "reserve", productID, qty, `
		UPDATE products
		SET available = available - $2,
		    reserved = reserved + $2,
		    updated_at = NOW()
		WHERE id = $1 AND available >= $2
	`, domain.ErrOutOfStock)
}

func (r *ProductRepository) Release(ctx context.Context, productID string, qty int64) error {
	return r.apply(ctx, "release", productID, qty, `
		UPDATE products
		SET reserved = GREATEST(reserved - $2, 0),
		    available = available + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, nil)
}

func (r *ProductRepository) Consume(ctx context.Context, productID string, qty int64) error {
	return r.apply(ctx, "consume", productID, qty, `
		UPDATE products
		SET reserved = GREATEST(reserved - $2, 0),
		    updated_at = NOW()
		WHERE id = $1
	`, nil)
}

func (r *ProductRepository) Restock(ctx context.Context, productID string, qty int64) error {
	return r.apply(ctx, "restock", productID, qty, `
		UPDATE products
		SET available = available + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, nil)
}

// apply выполняет складской UPDATE. Если строк не затронуто, различает
// отсутствующий товар и невыполненное условие (conditionErr).
func (r *ProductRepository) apply(ctx context.Context, op, productID string, qty int64, query string, conditionErr error) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("%s product %s: %w", op, productID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists || conditionErr == nil {
		return domain.ErrProductNotFound
	}
	return conditionErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.BusinessID, &p.Name, &p.SKU, &p.Price, &p.SalePrice, &p.Weight,
		&p.Available, &p.Reserved, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

var _ domain.ProductStore = (*ProductRepository)(nil)
