// Package redisx содержит доступ к Redis: клиент, ключи и генератор номеров заказов.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialTimeout = 2 * time.Second

// New создаёт клиента и проверяет соединение.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  dialTimeout,
		ReadTimeout:  dialTimeout,
		WriteTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// Pinger адаптирует клиент к проверке готовности для health.
type Pinger struct {
	Client redis.UniversalClient
}

func (p Pinger) Ping(ctx context.Context) error {
	if p.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return p.Client.Ping(ctx).Err()
}
