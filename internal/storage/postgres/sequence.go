package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// SequenceGenerator выдаёт номера заказов из последовательности order_number_seq.
// nextval уникален между всеми экземплярами сервиса, использующими одну базу.
type SequenceGenerator struct {
	db *sql.DB
}

// NewSequenceGenerator создаёт генератор номеров поверх Store.
func NewSequenceGenerator(store *Store) *SequenceGenerator {
	return &SequenceGenerator{db: store.DB()}
}

func (g *SequenceGenerator) Next(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int64
	if err := g.db.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf(domain.OrderNumberFormat, n), nil
}

var _ domain.OrderNumberGenerator = (*SequenceGenerator)(nil)
