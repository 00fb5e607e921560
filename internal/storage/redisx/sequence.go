package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// SequenceGenerator выдаёт номера заказов через INCR: команда атомарна
// на сервере, поэтому номера уникальны для всех экземпляров сервиса.
type SequenceGenerator struct {
	rdb redis.Cmdable
	key string
}

// NewSequenceGenerator создаёт генератор поверх счётчика key (пустой ключ заменяется на KeyOrderNumberSeq).
func NewSequenceGenerator(rdb redis.Cmdable, key string) *SequenceGenerator {
	if key == "" {
		key = KeyOrderNumberSeq
	}
	return &SequenceGenerator{rdb: rdb, key: key}
}

func (g *SequenceGenerator) Next(ctx context.Context) (string, error) {
	n, err := g.rdb.Incr(ctx, g.key).Result()
	if err != nil {
		return "", fmt.Errorf("incr %s: %w", g.key, err)
	}
	return fmt.Sprintf(domain.OrderNumberFormat, n), nil
}

var _ domain.OrderNumberGenerator = (*SequenceGenerator)(nil)
