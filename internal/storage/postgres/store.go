package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

// PoolOptions задаёт параметры пула соединений. Нулевые поля заменяются значениями по умолчанию.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store оборачивает SQL-подключение к PostgreSQL.
// Каталог товаров, складские счётчики, заказы и возвраты живут в одной базе.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, PoolOptions{})
}

// OpenWithPool работает как Open, но с явными параметрами пула.
func OpenWithPool(ctx context.Context, dsn string, pool PoolOptions) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(orDefault(pool.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(pool.MaxIdleConns, defaultMaxIdleConns))
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier покрывает *sql.DB и *sql.Tx, чтобы репозитории работали и вне, и внутри транзакции.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx выполняет fn в одной транзакции: складские счётчики и заказ фиксируются или откатываются вместе.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.TxStores) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(ctx, domain.TxStores{
			Ledger: &ProductRepository{db: tx},
			Orders: &orderRepository{db: tx},
		})
	})
}

// runTx открывает транзакцию на *sql.DB, а внутри уже открытой транзакции выполняет fn в ней же.
func runTx(ctx context.Context, q querier, fn func(q querier) error) error {
	db, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}
	return inTx(ctx, db, func(tx *sql.Tx) error { return fn(tx) })
}

// inTx выполняет fn в транзакции; при ошибке fn транзакция откатывается.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// withTimeout ограничивает операцию opTimeout, не расширяя дедлайн вызывающего.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

var _ domain.Transactor = (*Store)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
